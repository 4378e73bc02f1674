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

// Package validator runs the pre-flight checks of spec.md section 4.3: for
// the global task, the namespaced task's check list minus "namespace
// exists". Errors accumulate; a non-empty set raises a single
// TaskConfigurationError.
package validator

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/discovery"

	"github.com/globaldeploy/globaldeploy/internal/deployerrors"
	"github.com/globaldeploy/globaldeploy/internal/kubectlrunner"
	"github.com/globaldeploy/globaldeploy/internal/resource"
	"github.com/globaldeploy/globaldeploy/internal/workerpool"
)

// Check is one pre-flight validation. It returns a non-empty message on
// failure, or "" on success.
type Check func(context.Context) string

// Validator runs every Check plus every resource's validate_definition dry
// run, accumulating all failures.
type Validator struct {
	checks    []Check
	resources []*resource.Resource
	runner    kubectlrunner.Runner
	selector  string
}

// New builds the global task's check list: context reachable, API server
// responsive, selector well-formed, plus a server-side dry-run validation of
// every resource's definition (spec.md section 4.5). Unlike the namespaced
// task, there is no "namespace exists" check (spec.md section 4.3).
func New(disc discovery.DiscoveryInterface, runner kubectlrunner.Runner, resources []*resource.Resource, selector string) *Validator {
	return &Validator{
		checks: []Check{
			contextReachableCheck(disc),
			apiServerResponsiveCheck(disc),
			selectorWellFormedCheck(selector),
		},
		resources: resources,
		runner:    runner,
		selector:  selector,
	}
}

// Run executes every check and every resource's dry-run validation, and
// returns a *deployerrors.TaskConfigurationError naming every failure, or
// nil if all passed.
func (v *Validator) Run(ctx context.Context) error {
	var errs []string
	for _, check := range v.checks {
		if msg := check(ctx); msg != "" {
			errs = append(errs, msg)
		}
	}

	dryRunErrs := workerpool.EachTolerant(ctx, v.resources, func(ctx context.Context, r *resource.Resource) error {
		return r.ValidateDefinition(ctx, v.runner, v.selector)
	})
	for _, err := range dryRunErrs {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return &deployerrors.TaskConfigurationError{Errors: errs}
	}
	return nil
}

func contextReachableCheck(disc discovery.DiscoveryInterface) Check {
	return func(ctx context.Context) string {
		if disc == nil {
			return "no Kubernetes context is configured"
		}
		if _, err := disc.ServerVersion(); err != nil {
			return fmt.Sprintf("kubernetes context is not reachable: %v", err)
		}
		return ""
	}
}

func apiServerResponsiveCheck(disc discovery.DiscoveryInterface) Check {
	return func(ctx context.Context) string {
		if disc == nil {
			return ""
		}
		if _, err := disc.ServerVersion(); err != nil {
			return fmt.Sprintf("API server did not respond: %v", err)
		}
		return ""
	}
}

func selectorWellFormedCheck(selector string) Check {
	return func(ctx context.Context) string {
		if selector == "" {
			return ""
		}
		if _, err := labels.Parse(selector); err != nil {
			return fmt.Sprintf("selector %q is not well-formed: %v", selector, err)
		}
		return ""
	}
}
