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

package validator

import (
	"context"
	"errors"
	"testing"

	"k8s.io/apimachinery/pkg/version"
	"k8s.io/client-go/discovery"

	"github.com/globaldeploy/globaldeploy/internal/deployerrors"
	"github.com/globaldeploy/globaldeploy/internal/kubectlrunner"
	"github.com/globaldeploy/globaldeploy/internal/resource"
)

// stubDiscovery embeds the interface (nil) so only ServerVersion needs
// overriding; any other method call would panic, which is fine since the
// validator's checks only ever call ServerVersion.
type stubDiscovery struct {
	discovery.DiscoveryInterface
	version *version.Info
	err     error
}

func (s stubDiscovery) ServerVersion() (*version.Info, error) {
	return s.version, s.err
}

func TestRunPassesWithReachableClusterAndNoSelector(t *testing.T) {
	v := New(stubDiscovery{version: &version.Info{GitVersion: "v1.29.0"}}, kubectlrunner.New("sh -c 'exit 0'", nil), nil, "")
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunFailsWhenDiscoveryIsNil(t *testing.T) {
	v := New(nil, kubectlrunner.New("sh -c 'exit 0'", nil), nil, "")
	err := v.Run(context.Background())
	if err == nil {
		t.Fatal("expected a configuration error")
	}
	var cfgErr *deployerrors.TaskConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *TaskConfigurationError, got %T", err)
	}
	// apiServerResponsiveCheck treats a nil client as "nothing to check"
	// (contextReachableCheck already reports it); only one error accumulates.
	if len(cfgErr.Errors) != 1 {
		t.Errorf("expected 1 accumulated error, got %v", cfgErr.Errors)
	}
}

func TestRunAccumulatesUnreachableClusterAndBadSelector(t *testing.T) {
	v := New(stubDiscovery{err: errors.New("connection refused")}, kubectlrunner.New("sh -c 'exit 0'", nil), nil, "not a valid==selector")
	err := v.Run(context.Background())
	if err == nil {
		t.Fatal("expected a configuration error")
	}
	var cfgErr *deployerrors.TaskConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *TaskConfigurationError, got %T", err)
	}
	if len(cfgErr.Errors) != 3 {
		t.Errorf("expected 3 accumulated errors (reachable, responsive, selector), got %v", cfgErr.Errors)
	}
}

func TestRunRejectsMalformedSelectorOnly(t *testing.T) {
	v := New(stubDiscovery{version: &version.Info{GitVersion: "v1.29.0"}}, kubectlrunner.New("sh -c 'exit 0'", nil), nil, "===broken")
	err := v.Run(context.Background())
	if err == nil {
		t.Fatal("expected a configuration error for the malformed selector")
	}
	var cfgErr *deployerrors.TaskConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *TaskConfigurationError, got %T", err)
	}
	if len(cfgErr.Errors) != 1 {
		t.Errorf("expected exactly 1 accumulated error, got %v", cfgErr.Errors)
	}
}

func TestRunValidatesResourceDefinitionsWithDryRun(t *testing.T) {
	r := resource.New("ClusterRole", "reader", "rbac.authorization.k8s.io/v1", "/tmp/role.yaml", []byte("kind: ClusterRole\n"))
	v := New(stubDiscovery{version: &version.Info{GitVersion: "v1.29.0"}},
		kubectlrunner.New(`sh -c 'exit 1'`, nil), []*resource.Resource{r}, "")

	err := v.Run(context.Background())
	if err == nil {
		t.Fatal("expected a configuration error when the dry run fails")
	}
	var cfgErr *deployerrors.TaskConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *TaskConfigurationError, got %T", err)
	}
	if r.ServerDryRunValidated() {
		t.Error("expected server_dry_run_validated to stay false after a failed dry run")
	}
}

func TestRunMarksServerDryRunValidatedOnSuccess(t *testing.T) {
	r := resource.New("ClusterRole", "reader", "rbac.authorization.k8s.io/v1", "/tmp/role.yaml", []byte("kind: ClusterRole\n"))
	v := New(stubDiscovery{version: &version.Info{GitVersion: "v1.29.0"}},
		kubectlrunner.New(`sh -c 'exit 0'`, nil), []*resource.Resource{r}, "")

	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.ServerDryRunValidated() {
		t.Error("expected server_dry_run_validated to be set after a successful dry run")
	}
}
