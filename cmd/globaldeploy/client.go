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
	"fmt"
	"os"

	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/client-go/dynamic"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/rest"
)

func newKubeConfig(rcg genericclioptions.RESTClientGetter) (*rest.Config, error) {
	cfg, err := rcg.ToRESTConfig()
	if err != nil {
		return nil, fmt.Errorf("kubeconfig load failed: %w", err)
	}
	cfg.QPS = 50
	cfg.Burst = 100
	return cfg, nil
}

func newDiscoveryClient(rcg genericclioptions.RESTClientGetter) (discovery.DiscoveryInterface, error) {
	cfg, err := newKubeConfig(rcg)
	if err != nil {
		return nil, err
	}
	return discovery.NewDiscoveryClientForConfig(cfg)
}

func newCRDClient(rcg genericclioptions.RESTClientGetter) (apiextensionsclient.Interface, error) {
	cfg, err := newKubeConfig(rcg)
	if err != nil {
		return nil, err
	}
	return apiextensionsclient.NewForConfig(cfg)
}

func newDynamicClient(rcg genericclioptions.RESTClientGetter) (dynamic.Interface, error) {
	cfg, err := newKubeConfig(rcg)
	if err != nil {
		return nil, err
	}
	return dynamic.NewForConfig(cfg)
}

// activeContextEnv returns the environment the kubectl subprocess inherits:
// the process environment, unchanged. The --context and --kubeconfig flags
// given to this command are not passed on to kubectl.
func activeContextEnv() []string {
	return os.Environ()
}
