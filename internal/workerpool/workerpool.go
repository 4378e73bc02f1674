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

// Package workerpool provides the bounded fan-out helper used by status
// sync (SPEC_FULL.md section 5): split N items across W workers, join
// before returning, never let a worker mutate shared state beyond its own
// item.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MaxWorkers bounds concurrent fan-out, matching the "W bounded, e.g. 8"
// guidance of spec.md section 5.
const MaxWorkers = 8

// Each runs fn once per item, bounded to at most MaxWorkers concurrent
// invocations, and returns the first error encountered (if any) only after
// every goroutine has returned — join-before-return semantics.
func Each[T any](ctx context.Context, items []T, fn func(context.Context, T) error) error {
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(MaxWorkers)
	for _, item := range items {
		item := item
		eg.Go(func() error {
			return fn(egctx, item)
		})
	}
	return eg.Wait()
}

// EachTolerant behaves like Each but collects every per-item error instead
// of aborting on the first one, returning them in input order (nil entries
// for items that succeeded). Used where one resource's sync failure must
// not suppress observation of the others.
func EachTolerant[T any](ctx context.Context, items []T, fn func(context.Context, T) error) []error {
	errs := make([]error, len(items))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(MaxWorkers)
	for i, item := range items {
		i, item := i, item
		eg.Go(func() error {
			errs[i] = fn(egctx, item)
			return nil
		})
	}
	_ = eg.Wait()
	return errs
}
