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

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/globaldeploy/globaldeploy/internal/cache"
	"github.com/globaldeploy/globaldeploy/internal/discovery"
	"github.com/globaldeploy/globaldeploy/internal/kubectlrunner"
	"github.com/globaldeploy/globaldeploy/internal/metrics"
	"github.com/globaldeploy/globaldeploy/internal/orchestrator"
	"github.com/globaldeploy/globaldeploy/internal/summary"
	"github.com/globaldeploy/globaldeploy/internal/templateset"
)

type deployFlags struct {
	templatePaths   []string
	selector        string
	prune           bool
	verifyResult    bool
	maxWatchSeconds int
	kubectlPath     string
}

var deployArgs = deployFlags{}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy cluster-scoped resources from a set of manifest paths.",
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().StringSliceVarP(&deployArgs.templatePaths, "template-paths", "f", nil,
		"Paths to manifest files or directories (repeatable).")
	deployCmd.Flags().StringVar(&deployArgs.selector, "selector", "",
		"Label selector restricting which previously-applied objects are eligible for pruning.")
	deployCmd.Flags().BoolVar(&deployArgs.prune, "prune", true,
		"Prune cluster-scoped objects no longer present in the manifest set.")
	deployCmd.Flags().BoolVar(&deployArgs.verifyResult, "verify-result", true,
		"Wait for every deployed resource to become ready before exiting.")
	deployCmd.Flags().IntVar(&deployArgs.maxWatchSeconds, "max-watch-seconds", 300,
		"Global deadline, in seconds, for the verify phase.")
	deployCmd.Flags().StringVar(&deployArgs.kubectlPath, "kubectl-path", "kubectl",
		"Path to the kubectl binary used for apply/replace/create.")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	o, err := buildOrchestrator(deployArgs)
	if err != nil {
		return err
	}
	ctx := rootContext()
	if code := o.Run(ctx); code != 0 {
		os.Exit(code)
	}
	return nil
}

func buildOrchestrator(flags deployFlags) (*orchestrator.Orchestrator, error) {
	discClient, err := newDiscoveryClient(kubeconfig)
	if err != nil {
		return nil, err
	}
	crdClient, err := newCRDClient(kubeconfig)
	if err != nil {
		return nil, err
	}
	dynClient, err := newDynamicClient(kubeconfig)
	if err != nil {
		return nil, err
	}

	disc := discovery.New(discClient, crdClient)
	resourceCache := cache.New(dynClient, disc)
	runner := kubectlrunner.New(flags.kubectlPath, activeContextEnv())
	sink := summary.NewConsoleSink(os.Stdout)

	cfg.Selector = flags.selector
	cfg.MaxWatchSeconds = flags.maxWatchSeconds

	opts := orchestrator.Options{
		TemplatePaths:   flags.templatePaths,
		Selector:        flags.selector,
		Prune:           flags.prune,
		VerifyResult:    flags.verifyResult,
		MaxWatchSeconds: flags.maxWatchSeconds,
	}

	return orchestrator.New(templateset.NewFileSystem(), disc, resourceCache, cfg, runner, sink, metrics.NoopSink{}, opts), nil
}
