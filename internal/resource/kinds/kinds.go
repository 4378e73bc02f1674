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

// Package kinds holds the default per-kind status behavior plus the
// specialized overrides named in spec.md section 4.5: a base implementation
// backed by sigs.k8s.io/cli-utils' kstatus library, with CronJob, Job and
// DaemonSet overriding the succeeded/failed predicates.
package kinds

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/cli-utils/pkg/kstatus/status"

	"github.com/globaldeploy/globaldeploy/internal/cache"
	"github.com/globaldeploy/globaldeploy/internal/kubectlrunner"
)

// Syncer is the minimal surface kinds need from resource.Resource. It is
// satisfied by *resource.Resource; defined here (rather than imported) to
// avoid an import cycle between resource and resource/kinds.
type Syncer interface {
	Kind() string
	Name() string
	Namespace() string
	FilePath() string
	DeployStartedAt() time.Time
	Timeout() time.Duration
	SetObserved(*unstructured.Unstructured)
	Observed() *unstructured.Unstructured
	SetLastMessage(string)
	LastMessage() string
}

// ValidationResult is the outcome of a kind's validate_definition check
// (spec.md section 4.5): Valid gates server_dry_run_validated, which in turn
// gates the sensitivity-suppression bypass of section 4.6.2.
type ValidationResult struct {
	Valid   bool
	Message string
}

// Default implements the base capability set from spec.md section 4.5:
// sync populates Observed from the cache, and the predicates are computed
// from cli-utils' generic kstatus evaluation of the observed object.
type Default struct{}

func (Default) Sync(r Syncer, c *cache.Cache) error {
	obj := c.Get(r.Kind(), r.Namespace(), r.Name())
	r.SetObserved(obj)
	if obj == nil {
		r.SetLastMessage("not found on cluster")
		return nil
	}
	result, err := status.Compute(obj)
	if err != nil {
		r.SetLastMessage(err.Error())
		return nil
	}
	r.SetLastMessage(result.Message)
	return nil
}

func (Default) DeploySucceeded(r Syncer) bool {
	obj := r.Observed()
	if obj == nil {
		return false
	}
	result, err := status.Compute(obj)
	if err != nil {
		return false
	}
	return result.Status == status.CurrentStatus
}

func (Default) DeployFailed(r Syncer) bool {
	obj := r.Observed()
	if obj == nil {
		return false
	}
	result, err := status.Compute(obj)
	if err != nil {
		return false
	}
	return result.Status == status.FailedStatus
}

func (d Default) DeployTimedOut(r Syncer) bool {
	if d.DeployFailed(r) || d.DeploySucceeded(r) {
		return false
	}
	started := r.DeployStartedAt()
	if started.IsZero() {
		return false
	}
	return time.Since(started) > r.Timeout()
}

func (Default) TimeoutMessage(r Syncer) string {
	return r.Kind() + "/" + r.Name() + " did not become ready within the allotted timeout"
}

func (Default) PrettyStatus(r Syncer) string {
	if msg := lastMessage(r); msg != "" {
		return msg
	}
	return "unknown"
}

func (Default) PrefetchKinds() []string { return nil }

// ValidateDefinition runs a server-side dry-run apply of the resource's
// manifest and reports whether the API server accepts it, without mutating
// cluster state (spec.md section 4.5). selector is threaded through for
// kinds that need to factor it into their validation (none do today; it is
// part of the capability signature regardless).
func (Default) ValidateDefinition(ctx context.Context, r Syncer, runner kubectlrunner.Runner, selector string) ValidationResult {
	result, err := runner.Run(ctx, "apply", "--dry-run=server", "-f", r.FilePath())
	if err != nil {
		return ValidationResult{Message: err.Error()}
	}
	if !result.Success() {
		return ValidationResult{Message: result.Stderr}
	}
	return ValidationResult{Valid: true}
}

// CronJob succeeds as soon as it exists on the cluster: a CronJob has no
// steady-state readiness condition of its own, so existence is the only
// meaningful signal (spec.md section 4.5).
type CronJob struct{ Default }

func (CronJob) DeploySucceeded(r Syncer) bool {
	return r.Observed() != nil
}

func (CronJob) DeployFailed(Syncer) bool { return false }

func (c CronJob) DeployTimedOut(r Syncer) bool {
	if c.DeploySucceeded(r) {
		return false
	}
	started := r.DeployStartedAt()
	if started.IsZero() {
		return false
	}
	return time.Since(started) > r.Timeout()
}

func (CronJob) PrefetchKinds() []string { return []string{"Pod"} }

// Job succeeds once its Complete condition is true and fails once its
// Failed condition is true (supplemented beyond spec.md's literal CronJob
// case, following the same existence-plus-condition idiom).
type Job struct{ Default }

func (Job) DeploySucceeded(r Syncer) bool {
	return hasCondition(r.Observed(), "Complete", "True")
}

func (Job) DeployFailed(r Syncer) bool {
	return hasCondition(r.Observed(), "Failed", "True")
}

// DaemonSet succeeds once every desired pod is available.
type DaemonSet struct{ Default }

func (DaemonSet) DeploySucceeded(r Syncer) bool {
	obj := r.Observed()
	if obj == nil {
		return false
	}
	desired, _, _ := unstructured.NestedInt64(obj.Object, "status", "desiredNumberScheduled")
	available, _, _ := unstructured.NestedInt64(obj.Object, "status", "numberAvailable")
	return desired > 0 && desired == available
}

func hasCondition(obj *unstructured.Unstructured, condType, condStatus string) bool {
	if obj == nil {
		return false
	}
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found {
		return false
	}
	for _, c := range conditions {
		m, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if m["type"] == condType && m["status"] == condStatus {
			return true
		}
	}
	return false
}

func lastMessage(r Syncer) string {
	return r.LastMessage()
}

// Behavior is the capability set every resource kind implements, either
// via Default or a per-kind override (spec.md section 4.5).
type Behavior interface {
	Sync(Syncer, *cache.Cache) error
	DeploySucceeded(Syncer) bool
	DeployFailed(Syncer) bool
	DeployTimedOut(Syncer) bool
	TimeoutMessage(Syncer) string
	PrettyStatus(Syncer) string
	PrefetchKinds() []string
	ValidateDefinition(context.Context, Syncer, kubectlrunner.Runner, string) ValidationResult
}

// ForKind resolves the Behavior for a bare kind name, defaulting to
// Default when no override is registered.
func ForKind(kind string) Behavior {
	switch kind {
	case "CronJob":
		return CronJob{}
	case "Job":
		return Job{}
	case "DaemonSet":
		return DaemonSet{}
	default:
		return Default{}
	}
}

// DefaultTimeoutFor returns the per-kind default timeout named in
// spec.md section 3.
func DefaultTimeoutFor(kind string) time.Duration {
	if kind == "CronJob" {
		return 30 * time.Second
	}
	return 5 * time.Minute
}
