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

// Package discovery performs the one-shot query that lists every
// cluster-scoped kind known to the API server, plus every custom resource
// definition, memoized for the task's lifetime (SPEC_FULL.md / spec.md
// section 4.2).
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
)

// CRD is the subset of a CustomResourceDefinition this task cares about:
// its group/kind and whether the defined resource is itself namespaced.
type CRD struct {
	Group      string
	Kind       string
	Namespaced bool
}

// ClusterDiscovery fetches global kinds and CRDs exactly once; subsequent
// calls return the memoized result.
type ClusterDiscovery struct {
	disc    discovery.DiscoveryInterface
	crdCli  apiextensionsclient.Interface

	once        sync.Once
	err         error
	globalKinds map[string]struct{}
	gvrByKind   map[string]schema.GroupVersionResource
	crds        []CRD
}

// New creates a ClusterDiscovery bound to the given discovery and
// apiextensions clients.
func New(disc discovery.DiscoveryInterface, crdCli apiextensionsclient.Interface) *ClusterDiscovery {
	return &ClusterDiscovery{disc: disc, crdCli: crdCli}
}

// Run performs the one-shot discovery query. Safe to call repeatedly; only
// the first call hits the API server.
func (d *ClusterDiscovery) Run(ctx context.Context) error {
	d.once.Do(func() {
		d.globalKinds = make(map[string]struct{})
		d.gvrByKind = make(map[string]schema.GroupVersionResource)

		_, apiResourceLists, err := d.disc.ServerGroupsAndResources()
		if err != nil && len(apiResourceLists) == 0 {
			d.err = fmt.Errorf("server discovery failed: %w", err)
			return
		}
		for _, list := range apiResourceLists {
			gv, perr := schema.ParseGroupVersion(list.GroupVersion)
			if perr != nil {
				continue
			}
			for _, res := range list.APIResources {
				if strings.Contains(res.Name, "/") {
					continue // skip subresources like deployments/status
				}
				gvr := gv.WithResource(res.Name)
				d.gvrByKind[res.Kind] = gvr
				if !res.Namespaced {
					d.globalKinds[res.Kind] = struct{}{}
				}
			}
		}

		if d.crdCli != nil {
			list, cerr := d.crdCli.ApiextensionsV1().CustomResourceDefinitions().List(ctx, metav1.ListOptions{})
			if cerr != nil {
				d.err = fmt.Errorf("listing CRDs failed: %w", cerr)
				return
			}
			d.crds = make([]CRD, 0, len(list.Items))
			for _, crd := range list.Items {
				d.crds = append(d.crds, crdFrom(crd))
			}
		}
	})
	return d.err
}

func crdFrom(crd apiextensionsv1.CustomResourceDefinition) CRD {
	return CRD{
		Group:      crd.Spec.Group,
		Kind:       crd.Spec.Names.Kind,
		Namespaced: crd.Spec.Scope == apiextensionsv1.NamespaceScoped,
	}
}

// GlobalResourceKinds returns every cluster-scoped kind known to the API
// server. Run must have succeeded first.
func (d *ClusterDiscovery) GlobalResourceKinds() map[string]struct{} {
	return d.globalKinds
}

// CRDs returns every CustomResourceDefinition on the cluster.
func (d *ClusterDiscovery) CRDs() []CRD {
	return d.crds
}

// Resolve implements cache.GVKResolver: maps a bare kind name to the
// GroupVersionResource the dynamic client needs to list it.
func (d *ClusterDiscovery) Resolve(kind string) (schema.GroupVersionResource, bool) {
	gvr, ok := d.gvrByKind[kind]
	return gvr, ok
}

// DiscoveryInterface exposes the underlying client-go discovery client so
// the validator can run its context/API-server reachability checks without
// this package importing validator (which would cycle).
func (d *ClusterDiscovery) DiscoveryInterface() discovery.DiscoveryInterface {
	return d.disc
}
