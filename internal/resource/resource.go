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

// Package resource models a single Kubernetes object tracked by a deploy
// task: its identity, file origin, classification, deploy strategy and
// status. See SPEC_FULL.md section 3.
package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/globaldeploy/globaldeploy/internal/cache"
	"github.com/globaldeploy/globaldeploy/internal/kubectlrunner"
	"github.com/globaldeploy/globaldeploy/internal/resource/kinds"
)

// Classification distinguishes cluster-scoped resources, which this task
// deploys, from namespaced ones, which it must reject before any apply.
type Classification int

const (
	Unclassified Classification = iota
	Global
	Namespaced
)

// Strategy is the per-kind deploy policy. Replace and ReplaceForce
// resources bypass the apply pass and are deployed individually.
type Strategy int

const (
	Apply Strategy = iota
	Replace
	ReplaceForce
)

func (s Strategy) String() string {
	switch s {
	case Replace:
		return "replace"
	case ReplaceForce:
		return "replace-force"
	default:
		return "apply"
	}
}

// predicateCache holds the outcome of the three terminal predicates as of
// the most recent Sync call. Sync recomputes it fresh every time; it does
// not latch a terminal state, so a resource that disappears after
// succeeding will flip back to non-terminal on the next sync. Stopping
// resyncs once a resource goes terminal is the watcher's job (spec.md
// section 4.7), not this cache's.
type predicateCache struct {
	deploySucceeded bool
	deployFailed    bool
	deployTimedOut  bool
}

// status holds everything mutated by status sync and the deployer.
type status struct {
	observed      *unstructured.Unstructured
	predicates    predicateCache
	deployStarted time.Time
	lastMessage   string
}

// Resource is the in-memory representation of one manifest destined for
// (or already present on) the target cluster.
type Resource struct {
	kind       string
	name       string
	namespace  string
	apiVersion string

	filePath    string
	rawManifest []byte
	sensitive   bool

	classification Classification
	deployStrategy Strategy
	prunable       bool
	timeout        time.Duration

	serverDryRunValidated bool

	mu     sync.Mutex
	st     status
	once   sync.Once
	behave kinds.Behavior
}

// New constructs a Resource, resolving its per-kind behavior from the
// kinds registry.
func New(kind, name, apiVersion, filePath string, rawManifest []byte) *Resource {
	return &Resource{
		kind:        kind,
		name:        name,
		apiVersion:  apiVersion,
		filePath:    filePath,
		rawManifest: rawManifest,
		timeout:     kinds.DefaultTimeoutFor(kind),
		behave:      kinds.ForKind(kind),
	}
}

// ID returns the (kind, name) identity used for de-duplication within a
// task (spec.md section 3: no two resources share (kind, name)).
func (r *Resource) ID() string { return r.kind + "/" + r.name }

func (r *Resource) Kind() string        { return r.kind }
func (r *Resource) Name() string        { return r.name }
func (r *Resource) Namespace() string   { return r.namespace }
func (r *Resource) APIVersion() string  { return r.apiVersion }
func (r *Resource) FilePath() string    { return r.filePath }
func (r *Resource) RawManifest() []byte { return r.rawManifest }
func (r *Resource) Sensitive() bool     { return r.sensitive }
func (r *Resource) SetSensitive(v bool) { r.sensitive = v }

func (r *Resource) Classification() Classification        { return r.classification }
func (r *Resource) SetClassification(c Classification)     { r.classification = c }
func (r *Resource) DeployStrategy() Strategy                { return r.deployStrategy }
func (r *Resource) SetDeployStrategy(s Strategy)             { r.deployStrategy = s }
func (r *Resource) Prunable() bool                           { return r.prunable }
func (r *Resource) SetPrunable(v bool)                       { r.prunable = v }
func (r *Resource) Timeout() time.Duration                   { return r.timeout }
func (r *Resource) SetTimeout(d time.Duration)                { r.timeout = d }
func (r *Resource) ServerDryRunValidated() bool               { return r.serverDryRunValidated }
func (r *Resource) SetServerDryRunValidated(v bool)            { r.serverDryRunValidated = v }

// MarkDeployStarted sets deployStartedAt exactly once, on the first call,
// per resource (spec.md invariant). Subsequent calls are no-ops.
func (r *Resource) MarkDeployStarted(now time.Time) {
	r.once.Do(func() {
		r.mu.Lock()
		r.st.deployStarted = now
		r.mu.Unlock()
	})
}

func (r *Resource) DeployStartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.deployStarted
}

func (r *Resource) SetObserved(obj *unstructured.Unstructured) {
	r.mu.Lock()
	r.st.observed = obj
	r.mu.Unlock()
}

func (r *Resource) Observed() *unstructured.Unstructured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.observed
}

func (r *Resource) SetLastMessage(msg string) {
	r.mu.Lock()
	r.st.lastMessage = msg
	r.mu.Unlock()
}

func (r *Resource) LastMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.lastMessage
}

func (r *Resource) setPredicates(p predicateCache) {
	r.mu.Lock()
	r.st.predicates = p
	r.mu.Unlock()
}

func (r *Resource) predicatesSnapshot() predicateCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.predicates
}

// Sync refreshes the resource's status from the cache and recomputes the
// predicate cache. It is safe to call concurrently across distinct
// resources (the cache itself is read-only after prefetch).
func (r *Resource) Sync(c *cache.Cache) error {
	if err := r.behave.Sync(r, c); err != nil {
		return err
	}
	r.setPredicates(predicateCache{
		deploySucceeded: r.behave.DeploySucceeded(r),
		deployFailed:    r.behave.DeployFailed(r),
		deployTimedOut:  r.behave.DeployTimedOut(r),
	})
	return nil
}

func (r *Resource) DeploySucceeded() bool { return r.predicatesSnapshot().deploySucceeded }
func (r *Resource) DeployFailed() bool    { return r.predicatesSnapshot().deployFailed }
func (r *Resource) DeployTimedOut() bool  { return r.predicatesSnapshot().deployTimedOut }

// Terminal reports whether the resource has reached a terminal state per
// the failed > timed_out > succeeded precedence (spec.md section 4.7).
func (r *Resource) Terminal() bool {
	p := r.predicatesSnapshot()
	return p.deployFailed || p.deployTimedOut || p.deploySucceeded
}

// ValidateDefinition runs the kind's server-side dry-run check (spec.md
// section 4.5) and records the outcome as server_dry_run_validated (spec.md
// section 3: "mutated only by ... the validator"). It returns a non-nil
// error describing the rejection when the dry run fails.
func (r *Resource) ValidateDefinition(ctx context.Context, runner kubectlrunner.Runner, selector string) error {
	result := r.behave.ValidateDefinition(ctx, r, runner, selector)
	r.SetServerDryRunValidated(result.Valid)
	if !result.Valid {
		return fmt.Errorf("%s failed server-side validation: %s", r.ID(), result.Message)
	}
	return nil
}

func (r *Resource) PrettyStatus() string    { return r.behave.PrettyStatus(r) }
func (r *Resource) TimeoutMessage() string  { return r.behave.TimeoutMessage(r) }
func (r *Resource) PrefetchKinds() []string { return r.behave.PrefetchKinds() }
