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

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	apiextensionsfake "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/fake"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/version"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	fakediscovery "k8s.io/client-go/discovery/fake"
	fakeclientset "k8s.io/client-go/kubernetes/fake"
	"sigs.k8s.io/kustomize/api/filesys"

	"github.com/globaldeploy/globaldeploy/internal/cache"
	"github.com/globaldeploy/globaldeploy/internal/config"
	"github.com/globaldeploy/globaldeploy/internal/deployerrors"
	"github.com/globaldeploy/globaldeploy/internal/discovery"
	"github.com/globaldeploy/globaldeploy/internal/kubectlrunner"
	"github.com/globaldeploy/globaldeploy/internal/resource"
	"github.com/globaldeploy/globaldeploy/internal/summary"
)

var clusterRoleGVR = schema.GroupVersionResource{Group: "rbac.authorization.k8s.io", Version: "v1", Resource: "clusterroles"}

const clusterRoleManifest = `apiVersion: rbac.authorization.k8s.io/v1
kind: ClusterRole
metadata:
  name: reader
rules: []
`

const namespacedManifest = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: app
  namespace: default
`

func newTestDiscovery(t *testing.T) *discovery.ClusterDiscovery {
	t.Helper()
	k8sClient := fakeclientset.NewSimpleClientset()
	k8sClient.Resources = []*metav1.APIResourceList{
		{
			GroupVersion: "rbac.authorization.k8s.io/v1",
			APIResources: []metav1.APIResource{
				{Name: "clusterroles", Kind: "ClusterRole", Namespaced: false},
			},
		},
		{
			GroupVersion: "apps/v1",
			APIResources: []metav1.APIResource{
				{Name: "deployments", Kind: "Deployment", Namespaced: true},
			},
		},
	}
	k8sClient.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.29.0"}

	crdClient := apiextensionsfake.NewSimpleClientset()
	return discovery.New(k8sClient.Discovery(), crdClient)
}

func clusterRoleObj(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "rbac.authorization.k8s.io/v1",
		"kind":       "ClusterRole",
		"metadata":   map[string]interface{}{"name": name},
	}}
}

func newTestCache(objs ...runtime.Object) (*cache.Cache, *discovery.ClusterDiscovery) {
	disc := &discovery.ClusterDiscovery{}
	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{clusterRoleGVR: "ClusterRoleList"}
	dynClient := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds, objs...)
	return cache.New(dynClient, disc), disc
}

type recordingSink struct {
	headings []string
	status   deployerrors.Status
	rows     []summary.ResourceRow
}

func (r *recordingSink) AddAction(string)    {}
func (r *recordingSink) AddParagraph(string) {}
func (r *recordingSink) PhaseHeading(text string) {
	r.headings = append(r.headings, text)
}
func (r *recordingSink) PrintSummary(status deployerrors.Status, rows []summary.ResourceRow) {
	r.status = status
	r.rows = rows
}

type recordingMetrics struct {
	events []string
}

func (m *recordingMetrics) Event(title, _, _ string, _ []string) { m.events = append(m.events, title) }
func (m *recordingMetrics) Distribution(string, time.Duration, []string) {}

func TestRunSucceedsEndToEnd(t *testing.T) {
	fs := filesys.MakeFsInMemory()
	if err := fs.WriteFile("/manifests/role.yaml", []byte(clusterRoleManifest)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	disc := newTestDiscovery(t)
	if err := disc.Run(context.Background()); err != nil {
		t.Fatalf("discovery setup failed: %v", err)
	}

	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{clusterRoleGVR: "ClusterRoleList"}
	dynClient := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds, clusterRoleObj("reader"))
	c := cache.New(dynClient, disc)

	// "sh -c 'exit 0'" always succeeds regardless of the kubectl args the
	// deployer appends (they become ignored positional parameters to -c).
	runner := kubectlrunner.New("sh -c 'exit 0'", nil)
	sink := &recordingSink{}
	metricsSink := &recordingMetrics{}

	o := New(fs, disc, c, config.New(), runner, sink, metricsSink, Options{
		TemplatePaths:   []string{"/manifests/role.yaml"},
		VerifyResult:    true,
		MaxWatchSeconds: 5,
	})

	code := o.Run(context.Background())
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if sink.status != deployerrors.StatusSuccess {
		t.Errorf("status = %v, want success", sink.status)
	}

	want := []string{"initialize", "validate", "initial status", "deploy", "verify"}
	if diff := cmp.Diff(want, sink.headings); diff != "" {
		t.Errorf("phase headings mismatch (-want +got):\n%s", diff)
	}
	if len(metricsSink.events) != 1 {
		t.Errorf("expected exactly one metrics event, got %v", metricsSink.events)
	}
	if len(sink.rows) != 1 || sink.rows[0].Kind != "ClusterRole" {
		t.Errorf("unexpected summary rows: %+v", sink.rows)
	}
}

func TestRunFailsOnNamespacedResource(t *testing.T) {
	fs := filesys.MakeFsInMemory()
	if err := fs.WriteFile("/manifests/app.yaml", []byte(namespacedManifest)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	disc := newTestDiscovery(t)
	c, _ := newTestCache()
	sink := &recordingSink{}

	o := New(fs, disc, c, config.New(), kubectlrunner.New("sh -c 'exit 0'", nil), sink, &recordingMetrics{}, Options{
		TemplatePaths: []string{"/manifests/app.yaml"},
	})

	code := o.Run(context.Background())
	if code == 0 {
		t.Fatal("expected a non-zero exit code for a namespaced resource")
	}
	if sink.status != deployerrors.StatusFailure {
		t.Errorf("status = %v, want failure", sink.status)
	}
	if diff := cmp.Diff([]string{"initialize"}, sink.headings); diff != "" {
		t.Errorf("expected the task to abort right after initialize (-want +got):\n%s", diff)
	}
}

func TestRunFailsWhenDeployCommandFails(t *testing.T) {
	fs := filesys.MakeFsInMemory()
	if err := fs.WriteFile("/manifests/role.yaml", []byte(clusterRoleManifest)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	disc := newTestDiscovery(t)
	if err := disc.Run(context.Background()); err != nil {
		t.Fatalf("discovery setup failed: %v", err)
	}

	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{clusterRoleGVR: "ClusterRoleList"}
	dynClient := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds)
	c := cache.New(dynClient, disc)

	// The validate phase's dry-run check and the deploy phase's apply both
	// go through this one runner, so the script has to tell them apart: it
	// succeeds on any invocation carrying "--dry-run" (validate) and fails
	// everything else (deploy's real apply).
	runner := kubectlrunner.New(
		`sh -c 'for a in "$@"; do case "$a" in *dry-run*) exit 0 ;; esac; done; exit 1' sh`, nil)
	sink := &recordingSink{}

	o := New(fs, disc, c, config.New(), runner, sink, &recordingMetrics{}, Options{
		TemplatePaths:   []string{"/manifests/role.yaml"},
		VerifyResult:    true,
		MaxWatchSeconds: 5,
	})

	code := o.Run(context.Background())
	if code == 0 {
		t.Fatal("expected a non-zero exit code when kubectl apply fails")
	}
	if sink.status != deployerrors.StatusFailure {
		t.Errorf("status = %v, want failure", sink.status)
	}

	want := []string{"initialize", "validate", "initial status", "deploy"}
	if diff := cmp.Diff(want, sink.headings); diff != "" {
		t.Errorf("expected verify to be skipped after a deploy failure (-want +got):\n%s", diff)
	}
}

func TestApplyStrategyMatchesPruneWhitelistByKind(t *testing.T) {
	r := resource.New("ClusterRole", "reader", "rbac.authorization.k8s.io/v1", "role.yaml", nil)
	cfg := config.New()
	cfg.PruneWhitelist = []string{"rbac.authorization.k8s.io/v1/ClusterRole"}

	applyStrategy(r, cfg)

	if !r.Prunable() {
		t.Error("expected a resource whose kind matches the whitelist entry's kind component to be marked prunable")
	}
}

func TestApplyStrategyLeavesUnlistedKindNotPrunable(t *testing.T) {
	r := resource.New("ClusterRoleBinding", "binding", "rbac.authorization.k8s.io/v1", "binding.yaml", nil)
	cfg := config.New()
	cfg.PruneWhitelist = []string{"rbac.authorization.k8s.io/v1/ClusterRole"}

	applyStrategy(r, cfg)

	if r.Prunable() {
		t.Error("expected a resource whose kind is absent from the whitelist to not be marked prunable")
	}
}
