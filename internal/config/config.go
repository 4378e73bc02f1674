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

// Package config carries the deploy policy read at the boundary between
// discovery and status-sync (SPEC_FULL.md section 9's "shared mutable
// TaskConfig.global_kinds" design note): per-kind deploy strategy, per-kind
// timeout overrides, the prune whitelist and the sensitive-filename set.
// Adapted from the teacher's pkg/config, which carried apply-order and
// field-manager settings for an SSA-based tool; this carries the
// subprocess-based deploy policy instead.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

const (
	ConfigKind       = "Config"
	ConfigAPIVersion = "globaldeploy.dev/v1"
)

// Config is the deploy task's policy, immutable after the validate phase
// (spec.md section 9).
type Config struct {
	metav1.TypeMeta `json:",inline"`

	// DeployStrategy maps a kind name to its deploy strategy ("apply",
	// "replace", "replace-force"). Kinds absent from the map default to
	// "apply".
	DeployStrategy map[string]string `json:"deployStrategy,omitempty"`

	// Timeouts maps a kind name to its timeout. Kinds absent from the map
	// use the per-kind default (kinds.DefaultTimeoutFor).
	Timeouts map[string]time.Duration `json:"timeouts,omitempty"`

	// PruneWhitelist holds the group/version/kind strings eligible for
	// pruning, in the order they should be passed as repeated
	// --prune-whitelist flags (spec.md section 4.6.1).
	PruneWhitelist []string `json:"pruneWhitelist,omitempty"`

	// SensitiveFilenames holds the basenames whose stderr and content
	// must never be echoed unless cleared by server-dry-run.
	SensitiveFilenames []string `json:"sensitiveFilenames,omitempty"`

	// Selector restricts which previously-applied objects are eligible
	// for pruning; empty means "--all" is used instead (spec.md section
	// 4.6.1).
	Selector string `json:"selector,omitempty"`

	// MaxWatchSeconds is the watcher's global deadline.
	MaxWatchSeconds int `json:"maxWatchSeconds,omitempty"`
}

// New returns a config with the engine's built-in defaults.
func New() *Config {
	return &Config{
		TypeMeta: metav1.TypeMeta{
			Kind:       ConfigKind,
			APIVersion: ConfigAPIVersion,
		},
		DeployStrategy:  map[string]string{},
		Timeouts:        map[string]time.Duration{},
		MaxWatchSeconds: 300,
	}
}

// DefaultConfigPath returns '$HOME/.globaldeploy/config'.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".globaldeploy/config"), nil
}

// Read loads the config from the given path; if the file is not found, a
// default config is returned (matching the teacher's Read).
func Read(configPath string) (*Config, error) {
	if configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsSensitiveFilename reports whether basename is in the configured
// sensitive-filename set (spec.md section 4.6.2).
func (c *Config) IsSensitiveFilename(basename string) bool {
	for _, n := range c.SensitiveFilenames {
		if n == basename {
			return true
		}
	}
	return false
}
