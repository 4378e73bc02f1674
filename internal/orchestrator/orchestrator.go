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

// Package orchestrator sequences the five deploy-task phases — initialize,
// validate, initial-status, deploy, verify — and owns the exit-code and
// metrics/summary contract (spec.md sections 4.8, 7, 9). The metrics and
// summary emission live here rather than in deployer, resolving the
// "two divergent sketches" open question in favor of the orchestrator-owned
// placement named in spec.md section 9.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sigs.k8s.io/kustomize/api/filesys"

	"github.com/globaldeploy/globaldeploy/internal/cache"
	"github.com/globaldeploy/globaldeploy/internal/config"
	"github.com/globaldeploy/globaldeploy/internal/deployer"
	"github.com/globaldeploy/globaldeploy/internal/deployerrors"
	"github.com/globaldeploy/globaldeploy/internal/discovery"
	"github.com/globaldeploy/globaldeploy/internal/kubectlrunner"
	"github.com/globaldeploy/globaldeploy/internal/metrics"
	"github.com/globaldeploy/globaldeploy/internal/resource"
	"github.com/globaldeploy/globaldeploy/internal/summary"
	"github.com/globaldeploy/globaldeploy/internal/templateset"
	"github.com/globaldeploy/globaldeploy/internal/validator"
	"github.com/globaldeploy/globaldeploy/internal/watcher"
	"github.com/globaldeploy/globaldeploy/internal/workerpool"
)

// Options carries the CLI-level flags that shape a single task run (spec.md
// section 6's "CLI surface (outer, outside core)").
type Options struct {
	TemplatePaths   []string
	Selector        string
	Prune           bool
	VerifyResult    bool
	MaxWatchSeconds int
}

// Orchestrator wires the phase collaborators together. Every field is
// constructed once per task run; none are reused across runs.
type Orchestrator struct {
	fs     filesys.FileSystem
	disc   *discovery.ClusterDiscovery
	cache  *cache.Cache
	cfg    *config.Config
	runner kubectlrunner.Runner

	sink        summary.Sink
	metricsSink metrics.Sink

	opts Options
}

// New binds an Orchestrator to its collaborators for one task run.
func New(fs filesys.FileSystem, disc *discovery.ClusterDiscovery, c *cache.Cache, cfg *config.Config, runner kubectlrunner.Runner, sink summary.Sink, metricsSink metrics.Sink, opts Options) *Orchestrator {
	return &Orchestrator{
		fs:          fs,
		disc:        disc,
		cache:       c,
		cfg:         cfg,
		runner:      runner,
		sink:        sink,
		metricsSink: metricsSink,
		opts:        opts,
	}
}

// Run executes initialize → validate → initial-status → deploy → verify in
// order, aborting later phases on an earlier failure, and returns the
// process exit code (spec.md section 6: 0 on success, non-zero otherwise).
func (o *Orchestrator) Run(ctx context.Context) int {
	var resources []*resource.Resource
	var runErr error

	runErr = metrics.MeasureMethod(o.metricsSink, "globaldeploy.task", nil, func() error {
		var err error
		resources, err = o.initialize(ctx)
		if err != nil {
			return err
		}

		o.sink.PhaseHeading("validate")
		v := validator.New(o.disc.DiscoveryInterface(), o.runner, resources, o.opts.Selector)
		if err := v.Run(ctx); err != nil {
			return err
		}

		o.sink.PhaseHeading("initial status")
		if err := o.initialStatus(ctx, resources); err != nil {
			return err
		}

		o.sink.PhaseHeading("deploy")
		d := deployer.New(o.runner, o.cfg, o.sink)
		if err := d.Deploy(ctx, resources, o.opts.Prune); err != nil {
			return err
		}

		if o.opts.VerifyResult {
			o.sink.PhaseHeading("verify")
			w := watcher.New(o.cache, o.sink)
			deadline := time.Duration(o.opts.MaxWatchSeconds) * time.Second
			if err := w.Wait(ctx, resources, deadline); err != nil {
				return err
			}
		}
		return nil
	})

	status := deployerrors.ClassifyStatus(runErr)
	o.sink.PrintSummary(status, rowsFor(resources))
	o.metricsSink.Event("globaldeploy.task", string(status), alertTypeFor(status), []string{"status:" + string(status)})
	return deployerrors.ExitCode(status)
}

// initialize loads the template set, classifies every resource as global or
// namespaced, and fails the task before any apply if a namespaced resource
// is present (spec.md section 3's invariant).
func (o *Orchestrator) initialize(ctx context.Context) ([]*resource.Resource, error) {
	o.sink.PhaseHeading("initialize")

	if err := o.disc.Run(ctx); err != nil {
		return nil, deployerrors.NewFatalDeploymentError("cluster discovery failed", err)
	}

	manifests, err := templateset.Load(o.fs, o.opts.TemplatePaths)
	if err != nil {
		return nil, deployerrors.NewFatalDeploymentError("template set failed to load", err)
	}

	globalKinds := o.disc.GlobalResourceKinds()
	resources := make([]*resource.Resource, 0, len(manifests))
	for _, m := range manifests {
		r := resource.New(m.Kind, m.Name, m.APIVersion, m.FilePath, m.Raw)
		if _, isGlobal := globalKinds[m.Kind]; isGlobal {
			r.SetClassification(resource.Global)
		} else {
			r.SetClassification(resource.Namespaced)
		}
		applyStrategy(r, o.cfg)
		resources = append(resources, r)
	}

	for _, r := range resources {
		if r.Classification() != resource.Global {
			return nil, &deployerrors.InvalidTemplateError{
				File:  r.FilePath(),
				Cause: fmt.Errorf("%s is namespaced; this task only deploys cluster-scoped resources", r.ID()),
			}
		}
	}

	return resources, nil
}

// applyStrategy resolves a resource's deploy strategy and prunable flag
// from the task config, defaulting to Apply (spec.md section 3).
func applyStrategy(r *resource.Resource, cfg *config.Config) {
	switch cfg.DeployStrategy[r.Kind()] {
	case "replace":
		r.SetDeployStrategy(resource.Replace)
	case "replace-force":
		r.SetDeployStrategy(resource.ReplaceForce)
	default:
		r.SetDeployStrategy(resource.Apply)
	}

	if d, ok := cfg.Timeouts[r.Kind()]; ok {
		r.SetTimeout(d)
	}

	for _, k := range cfg.PruneWhitelist {
		if whitelistKind(k) == r.Kind() {
			r.SetPrunable(true)
			break
		}
	}
}

// whitelistKind extracts the Kind component from a full group/version/kind
// prune-whitelist entry (e.g. "rbac.authorization.k8s.io/v1/ClusterRole" ->
// "ClusterRole"), matching the format config.go documents for
// Config.PruneWhitelist and the deployer's own --prune-whitelist=<type>
// argv construction.
func whitelistKind(entry string) string {
	idx := strings.LastIndex(entry, "/")
	if idx == -1 {
		return entry
	}
	return entry[idx+1:]
}

// initialStatus prefetches the cache for every kind/namespace pair the
// resources touch, then runs one parallel sync pass so the deployer and
// summary start from an accurate status snapshot. Run calls it after the
// validate phase and before deploy.
func (o *Orchestrator) initialStatus(ctx context.Context, resources []*resource.Resource) error {
	seen := make(map[cache.Key]bool)
	var keys []cache.Key
	for _, r := range resources {
		key := cache.Key{Kind: r.Kind(), Namespace: r.Namespace()}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		for _, pk := range r.PrefetchKinds() {
			pkey := cache.Key{Kind: pk, Namespace: r.Namespace()}
			if !seen[pkey] {
				seen[pkey] = true
				keys = append(keys, pkey)
			}
		}
	}

	if err := o.cache.Prefetch(ctx, keys); err != nil {
		return deployerrors.NewFatalDeploymentError("initial status prefetch failed", err)
	}

	return workerpool.Each(ctx, resources, func(ctx context.Context, r *resource.Resource) error {
		return r.Sync(o.cache)
	})
}

func rowsFor(resources []*resource.Resource) []summary.ResourceRow {
	rows := make([]summary.ResourceRow, 0, len(resources))
	for _, r := range resources {
		rows = append(rows, summary.ResourceRow{
			Kind:    r.Kind(),
			Name:    r.Name(),
			Status:  r.PrettyStatus(),
			Message: r.LastMessage(),
		})
	}
	return rows
}

func alertTypeFor(status deployerrors.Status) string {
	switch status {
	case deployerrors.StatusSuccess:
		return "success"
	case deployerrors.StatusTimedOut:
		return "warning"
	default:
		return "error"
	}
}
