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
	"context"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	"k8s.io/klog/v2"

	"github.com/globaldeploy/globaldeploy/internal/config"
)

var VERSION = "1.0.0-dev.0"

const PROJECT = "globaldeploy"

var rootCmd = &cobra.Command{
	Use:           PROJECT,
	Version:       VERSION,
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "A one-shot CI/CD invocation that deploys cluster-scoped Kubernetes resources.",
	Long: `globaldeploy applies, replaces and prunes cluster-scoped Kubernetes
resources from a set of manifest paths. It is not a controller: each run is a
single task that discovers the cluster's global kinds, validates the config,
deploys the resources and optionally waits for them to become ready before
exiting.`,
}

var (
	logger     = slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg        = config.New()
	kubeconfig = genericclioptions.NewConfigFlags(false)
)

func init() {
	klog.SetLogger(logr.Discard())

	kubeconfig.Timeout = nil
	kubeconfig.AddFlags(rootCmd.PersistentFlags())

	rootCmd.DisableAutoGenTag = true
	rootCmd.SetOut(os.Stdout)

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(diffCmd)
}

func main() {
	loadConfig()
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func loadConfig() {
	if c, err := config.Read(""); err != nil {
		logger.Warn("loading the config failed, falling back to defaults", "error", err)
	} else {
		cfg = c
	}
}

// rootContext attaches logger to a fresh context via slog-context, so every
// collaborator that pulls a logger out of its context sees the same sink.
func rootContext() context.Context {
	return slogcontext.NewCtx(context.Background(), logger)
}
