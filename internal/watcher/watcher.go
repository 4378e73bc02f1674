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

// Package watcher polls the cluster until every resource reaches a
// terminal state or the global deadline elapses (spec.md section 4.7).
// Grounded on the teacher's manager_wait.go poll loop, which fans out
// kstatus evaluation across a worker pool on a fixed interval; this
// package drives resource.Resource.Sync the same way but removes resources
// from the working set as they turn terminal, rather than waiting on all of
// them to agree at once.
package watcher

import (
	"context"
	"strings"
	"time"

	"github.com/globaldeploy/globaldeploy/internal/cache"
	"github.com/globaldeploy/globaldeploy/internal/deployerrors"
	"github.com/globaldeploy/globaldeploy/internal/objectutil"
	"github.com/globaldeploy/globaldeploy/internal/resource"
	"github.com/globaldeploy/globaldeploy/internal/summary"
	"github.com/globaldeploy/globaldeploy/internal/workerpool"
)

// PollInterval is the bounded sleep between refresh iterations (spec.md
// section 4.7: "typically 3s").
const PollInterval = 3 * time.Second

// Watcher polls a resource cache until every tracked resource reaches a
// terminal state or the deadline elapses.
type Watcher struct {
	cache        *cache.Cache
	sink         summary.Sink
	pollInterval time.Duration
}

// New binds a Watcher to a prefetched cache and summary sink.
func New(c *cache.Cache, sink summary.Sink) *Watcher {
	return &Watcher{cache: c, sink: sink, pollInterval: PollInterval}
}

// Wait runs the poll loop of spec.md section 4.7 against resources, all of
// which must already have deploy_started_at set, until the working set is
// empty or deadline is reached. deadline is the global `max_watch_seconds`
// budget, measured from the call to Wait.
func (w *Watcher) Wait(ctx context.Context, resources []*resource.Resource, deadline time.Duration) error {
	working := make([]*resource.Resource, len(resources))
	copy(working, resources)

	deadlineAt := time.Now().Add(deadline)

	for {
		if len(working) == 0 {
			return failedErr(resources)
		}

		if err := w.cache.Refresh(ctx); err != nil {
			return deployerrors.NewFatalDeploymentError("could not refresh resource cache", err)
		}

		errs := workerpool.EachTolerant(ctx, working, func(ctx context.Context, r *resource.Resource) error {
			return r.Sync(w.cache)
		})
		for i, err := range errs {
			if err != nil {
				w.sink.AddParagraph(working[i].ID() + ": sync error: " + err.Error())
			}
		}

		w.reportProgress(working)

		var remaining []*resource.Resource
		for _, r := range working {
			if r.Terminal() {
				continue
			}
			remaining = append(remaining, r)
		}
		working = remaining

		if len(working) == 0 {
			return failedErr(resources)
		}

		if time.Now().After(deadlineAt) {
			if err := failedErr(resources); err != nil {
				return err
			}
			return w.timeoutAll(working)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// reportProgress emits one status line per resource, in resource-list
// order deterministically per iteration (spec.md section 5's ordering
// guarantee).
func (w *Watcher) reportProgress(working []*resource.Resource) {
	for _, r := range working {
		w.sink.AddAction(resourceLabel(r) + ": " + r.PrettyStatus())
	}
}

// resourceLabel formats a resource for a progress line, preferring the
// observed object's own identity (kind/namespace/name) once the cache has
// seen it, and falling back to the resource's own (kind, name) identity
// before the first sync.
func resourceLabel(r *resource.Resource) string {
	if obj := r.Observed(); obj != nil {
		return objectutil.FmtUnstructured(obj)
	}
	return r.ID()
}

// failedErr reports a *deployerrors.FatalDeploymentError naming every
// resource whose deploy_failed? predicate is true, or nil if none failed.
// Wait calls it once the working set has drained, and at the deadline before
// timeoutAll (spec.md section 7: "any resource's
// deploy_failed? returning true after verify" raises a fatal error).
func failedErr(resources []*resource.Resource) error {
	var ids []string
	for _, r := range resources {
		if r.DeployFailed() {
			ids = append(ids, r.ID())
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return deployerrors.NewFatalDeploymentError("resource(s) failed during verify: "+strings.Join(ids, ", "), nil)
}

// timeoutAll reports every remaining resource as timed out: it adds each
// one's timeout message to the summary and returns a DeploymentTimeoutError
// naming them; the resources' own predicates are left unchanged. A resource
// whose predicate already reports failed or succeeded at the deadline is
// never reported here, because it was already pruned from the working set.
func (w *Watcher) timeoutAll(working []*resource.Resource) error {
	ids := make([]string, 0, len(working))
	for _, r := range working {
		w.sink.AddParagraph(r.TimeoutMessage())
		ids = append(ids, r.ID())
	}
	return &deployerrors.DeploymentTimeoutError{TimedOut: ids}
}
