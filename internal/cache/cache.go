/*
Copyright 2024 The GlobalDeploy Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cache implements the per-task, read-through resource cache
// (SPEC_FULL.md / spec.md section 4.4): one list call per (kind, namespace)
// key, prefetched in batch before status sync, served from memory after.
package cache

import (
	"context"
	"fmt"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

// Key identifies one list call: a kind and an optional namespace (empty
// for cluster-scoped kinds).
type Key struct {
	Kind      string
	Namespace string
}

// GVKResolver maps a bare kind name to the GroupVersionResource client-go's
// dynamic client needs to list it. Discovery owns the real implementation;
// tests supply a fixed table.
type GVKResolver interface {
	Resolve(kind string) (schema.GroupVersionResource, bool)
}

// Cache is populated via Prefetch before being handed to the parallel sync
// workers, and re-listed via Refresh between the watcher's poll iterations.
// Every read and write of data goes through mu.
type Cache struct {
	dynamicClient dynamic.Interface
	resolver      GVKResolver

	mu   sync.RWMutex
	data map[Key]map[string]*unstructured.Unstructured
}

// New creates a cache bound to a dynamic client and kind resolver.
func New(dynamicClient dynamic.Interface, resolver GVKResolver) *Cache {
	return &Cache{
		dynamicClient: dynamicClient,
		resolver:      resolver,
		data:          make(map[Key]map[string]*unstructured.Unstructured),
	}
}

// Prefetch performs one list call per given key and must complete before
// any Get/List call from a sync worker. Keys already populated are listed
// again, replacing their cached objects.
func (c *Cache) Prefetch(ctx context.Context, keys []Key) error {
	for _, key := range keys {
		if err := c.refresh(ctx, key); err != nil {
			return fmt.Errorf("listing %s failed: %w", key.Kind, err)
		}
	}
	return nil
}

// Refresh re-lists every key currently held by the cache, used by the
// watcher between poll iterations.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	keys := make([]Key, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	for _, key := range keys {
		if err := c.refresh(ctx, key); err != nil {
			return fmt.Errorf("listing %s failed: %w", key.Kind, err)
		}
	}
	return nil
}

func (c *Cache) refresh(ctx context.Context, key Key) error {
	gvr, ok := c.resolver.Resolve(key.Kind)
	if !ok {
		return fmt.Errorf("no REST mapping for kind %q", key.Kind)
	}

	var list *unstructured.UnstructuredList
	var err error
	if key.Namespace == "" {
		list, err = c.dynamicClient.Resource(gvr).List(ctx, metav1.ListOptions{})
	} else {
		list, err = c.dynamicClient.Resource(gvr).Namespace(key.Namespace).List(ctx, metav1.ListOptions{})
	}
	if err != nil {
		return err
	}

	byName := make(map[string]*unstructured.Unstructured, len(list.Items))
	for i := range list.Items {
		item := list.Items[i]
		byName[item.GetName()] = &item
	}

	c.mu.Lock()
	c.data[key] = byName
	c.mu.Unlock()
	return nil
}

// Get returns the cached object for (kind, namespace, name), or nil if it
// is not present on the cluster. The key must already have been
// prefetched; an un-prefetched key is treated as an empty listing rather
// than triggering a remote call, preserving the "list-once" invariant.
func (c *Cache) Get(kind, namespace, name string) *unstructured.Unstructured {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byName, ok := c.data[Key{Kind: kind, Namespace: namespace}]
	if !ok {
		return nil
	}
	return byName[name]
}

// List returns every cached object for (kind, namespace).
func (c *Cache) List(kind, namespace string) []*unstructured.Unstructured {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byName, ok := c.data[Key{Kind: kind, Namespace: namespace}]
	if !ok {
		return nil
	}
	out := make([]*unstructured.Unstructured, 0, len(byName))
	for _, obj := range byName {
		out = append(out, obj)
	}
	return out
}
