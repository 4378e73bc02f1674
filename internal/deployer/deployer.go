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

// Package deployer implements the hot core of spec.md section 4.6: the
// apply/replace/prune dispatch algorithm and its error classifier.
// Grounded on the teacher's engine/kubectl.go subprocess shelling, replacing
// the teacher's controller-runtime server-side-apply path (pkg/resmgr)
// entirely, per spec.md section 6's subprocess contract.
package deployer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/globaldeploy/globaldeploy/internal/config"
	"github.com/globaldeploy/globaldeploy/internal/deployerrors"
	"github.com/globaldeploy/globaldeploy/internal/kubectlrunner"
	"github.com/globaldeploy/globaldeploy/internal/resource"
	"github.com/globaldeploy/globaldeploy/internal/summary"
)

var (
	badFileRegexp   = regexp.MustCompile(`"(/\S+\.ya?ml\S*)"`)
	prunedLineRegex = regexp.MustCompile(`(?m)^(.*) pruned$`)
	secretContent   = regexp.MustCompile(`kind:\s*Secret`)
)

const suppressedMessage = "SUPPRESSED FOR SECURITY"

// commandRunner is the minimal surface the deployer needs from
// kubectlrunner.Runner, defined here so tests can substitute a fake
// without shelling out to a real kubectl binary.
type commandRunner interface {
	Run(ctx context.Context, args ...string) (kubectlrunner.Result, error)
}

// Deployer runs the dispatch algorithm against a fixed kubectl runner,
// config and summary sink.
type Deployer struct {
	runner commandRunner
	cfg    *config.Config
	sink   summary.Sink
}

// New binds a Deployer to its collaborators.
func New(runner commandRunner, cfg *config.Config, sink summary.Sink) *Deployer {
	return &Deployer{runner: runner, cfg: cfg, sink: sink}
}

// Deploy runs the full dispatch algorithm of spec.md section 4.6 against a
// non-empty, all-global resource list. It returns nil on success or a
// *deployerrors.FatalDeploymentError on any unrecoverable condition.
func (d *Deployer) Deploy(ctx context.Context, resources []*resource.Resource, prune bool) error {
	if len(resources) == 0 {
		return deployerrors.NewFatalDeploymentError("deploy called with an empty resource list", nil)
	}

	applyables, individuals := partition(resources)

	for _, r := range individuals {
		if err := d.deployIndividual(ctx, r); err != nil {
			return err
		}
	}

	if len(applyables) > 0 {
		if err := d.applyPass(ctx, applyables, prune); err != nil {
			return err
		}
	}

	return nil
}

// partition splits resources per spec.md section 4.6 step 1-2: Apply
// resources go to applyables; Replace/ReplaceForce resources go to
// individuals, preserving the caller's input order in both lists (spec.md
// section 5: "Individual (replace/replace-force) deploys are sequential in
// input order"). An individual already marked prunable by the orchestrator
// (its kind matched a prune-whitelist entry) is also added to applyables so
// the prune pass doesn't delete it.
func partition(resources []*resource.Resource) (applyables, individuals []*resource.Resource) {
	for _, r := range resources {
		if r.DeployStrategy() == resource.Apply {
			applyables = append(applyables, r)
			continue
		}
		individuals = append(individuals, r)
		if r.Prunable() {
			applyables = append(applyables, r)
		}
	}
	return applyables, individuals
}

// deployIndividual runs the replace (or replace-force) then create fallback
// for one resource, per spec.md section 4.6 step 3.
func (d *Deployer) deployIndividual(ctx context.Context, r *resource.Resource) error {
	r.MarkDeployStarted(time.Now())

	var replaceArgs []string
	switch r.DeployStrategy() {
	case resource.ReplaceForce:
		replaceArgs = []string{"replace", "--force", "--cascade", "-f", r.FilePath()}
	default:
		replaceArgs = []string{"replace", "-f", r.FilePath()}
	}

	result, err := d.runner.Run(ctx, replaceArgs...)
	if err != nil {
		return deployerrors.NewFatalDeploymentError(fmt.Sprintf("could not run kubectl for %s", r.ID()), err)
	}
	if result.Success() {
		return nil
	}

	createResult, err := d.runner.Run(ctx, "create", "-f", r.FilePath())
	if err != nil {
		return deployerrors.NewFatalDeploymentError(fmt.Sprintf("could not run kubectl for %s", r.ID()), err)
	}
	if createResult.Success() {
		return nil
	}

	stderr := createResult.Stderr
	if r.Sensitive() && !r.ServerDryRunValidated() {
		stderr = suppressedMessage
	}
	return deployerrors.NewFatalDeploymentError(
		fmt.Sprintf("replace and create both failed for %s: %s", r.ID(), stderr), nil)
}

// applyPass implements spec.md section 4.6.1.
func (d *Deployer) applyPass(ctx context.Context, applyables []*resource.Resource, prune bool) error {
	tmpDir, err := os.MkdirTemp("", "globaldeploy-apply-")
	if err != nil {
		return deployerrors.NewFatalDeploymentError("could not create temporary apply directory", err)
	}
	defer os.RemoveAll(tmpDir)

	for i, r := range applyables {
		link := filepath.Join(tmpDir, fmt.Sprintf("%d-%s", i, filepath.Base(r.FilePath())))
		if err := os.Symlink(r.FilePath(), link); err != nil {
			return deployerrors.NewFatalDeploymentError(fmt.Sprintf("could not link %s into apply set", r.ID()), err)
		}
		r.MarkDeployStarted(time.Now())
	}

	args := []string{"apply", "-f", tmpDir}
	if prune {
		args = append(args, "--prune")
		if d.cfg.Selector != "" {
			args = append(args, "--selector", d.cfg.Selector)
		} else {
			args = append(args, "--all")
		}
		for _, t := range d.cfg.PruneWhitelist {
			args = append(args, "--prune-whitelist="+t)
		}
	}

	sensitive := false
	for _, r := range applyables {
		if r.Sensitive() {
			sensitive = true
			break
		}
	}

	result, err := d.runner.Run(ctx, args...)
	if err != nil {
		return deployerrors.NewFatalDeploymentError("could not run kubectl apply", err)
	}

	if result.Success() {
		if prune {
			d.reportPruned(result.Stdout)
		}
		return nil
	}

	d.classifyApplyError(result.Stderr, applyables, sensitive)
	return deployerrors.NewFatalDeploymentError(fmt.Sprintf("Command failed: %s", quoteArgv(args)), nil)
}

func (d *Deployer) reportPruned(stdout string) {
	matches := prunedLineRegex.FindAllStringSubmatch(stdout, -1)
	if len(matches) == 0 {
		return
	}
	d.sink.AddAction(fmt.Sprintf("pruned %d resources", len(matches)))
}

// classifyApplyError implements spec.md section 4.6.2.
func (d *Deployer) classifyApplyError(stderr string, applyables []*resource.Resource, sensitive bool) {
	d.sink.AddParagraph("WARNING: Any resources not mentioned in the error(s) below were likely created/updated. You may wish to roll back this deploy.")

	byBase := make(map[string]*resource.Resource, len(applyables))
	for _, r := range applyables {
		byBase[filepath.Base(r.FilePath())] = r
	}

	var unidentified []string
	for _, line := range strings.Split(stderr, "\n") {
		badFiles := badFileRegexp.FindAllStringSubmatch(line, -1)
		if len(badFiles) == 0 {
			if strings.TrimSpace(line) != "" {
				unidentified = append(unidentified, line)
			}
			continue
		}
		for _, m := range badFiles {
			d.reportBadFile(m[1], line, byBase)
		}
	}

	if len(unidentified) == 0 {
		return
	}
	if sensitive {
		d.sink.AddParagraph("one or more errors occurred while applying sensitive resources; details withheld")
		return
	}
	d.sink.AddParagraph("Unidentified error(s):")
	for _, line := range unidentified {
		d.sink.AddParagraph("  " + line)
	}
}

// reportBadFile implements the per-bad-file disposition of spec.md section
// 4.6.2: sensitive-filename suppression takes precedence over the
// secret-content check, which in turn always overrides the raw content even
// for a non-sensitive file.
func (d *Deployer) reportBadFile(path, errLine string, byBase map[string]*resource.Resource) {
	base := filepath.Base(path)
	r := byBase[base]
	if r == nil {
		// kubectl names the apply directory's link, "<index>-<template basename>".
		if i := strings.IndexByte(base, '-'); i > 0 && strings.Trim(base[:i], "0123456789") == "" {
			base = base[i+1:]
			r = byBase[base]
		}
	}
	label := fmt.Sprintf("Invalid template: %s", base)

	sensitive := d.cfg.IsSensitiveFilename(base) || (r != nil && r.Sensitive() && !r.ServerDryRunValidated())
	if sensitive {
		d.sink.AddParagraph(fmt.Sprintf("%s\n%s", label, suppressedMessage))
		return
	}

	content := ""
	if r != nil {
		content = string(r.RawManifest())
	}
	if content != "" && secretContent.MatchString(content) {
		d.sink.AddParagraph(fmt.Sprintf("%s\n%s\n> Template content: Suppressed because it may contain a Secret", label, errLine))
		return
	}
	if content != "" {
		d.sink.AddParagraph(fmt.Sprintf("%s\n%s\n%s", label, errLine, content))
		return
	}
	d.sink.AddParagraph(fmt.Sprintf("%s\n%s", label, errLine))
}

// quoteArgv renders argv for the fatal "Command failed" message, quoting
// any element containing whitespace (kubectlrunner.Runner itself uses
// go-shellwords to parse the inverse direction, splitting a configured
// wrapper command back into argv).
func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\"'") {
			quoted[i] = fmt.Sprintf("%q", a)
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}
