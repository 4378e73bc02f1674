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

// Package kubectlrunner shells out to the kubectl binary: the only part of
// this system that speaks the subprocess contract of spec.md section 6.
// Adapted from the teacher's KubectlExecutor, which piped a single
// combined output stream; the deployer's error classifier needs stdout and
// stderr kept apart plus the raw exit status, so Run returns all three.
package kubectlrunner

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Result is the subprocess contract of spec.md section 6: stdout, stderr
// and the exit status of one kubectl invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r Result) Success() bool { return r.ExitCode == 0 }

// Runner is a reentrant, stateless executor — safe to share across the
// deployer's sequential individual-deploy loop and the single apply-pass
// call (spec.md section 5: "the external command runner is reentrant").
type Runner struct {
	kubectl string
	envVars []string
}

// New creates a Runner bound to a kubectl binary path (or bare name, found
// via PATH) and an environment carrying the active context.
func New(kubectl string, envVars []string) Runner {
	if kubectl == "" {
		kubectl = "kubectl"
	}
	return Runner{kubectl: kubectl, envVars: envVars}
}

// Run executes `<kubectl> <args...>` and returns its captured result. It
// never returns a non-nil error for a non-zero exit — that is a normal,
// expected outcome the caller classifies — only for failures to even start
// the subprocess.
func (r Runner) Run(ctx context.Context, args ...string) (Result, error) {
	cmd := r.buildCmd(ctx, args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := Result{
		Stdout: strings.TrimSuffix(stdout.String(), "\n"),
		Stderr: strings.TrimSuffix(stderr.String(), "\n"),
	}

	if runErr == nil {
		result.ExitCode = 0
		return result, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, runErr
}

// buildCmd splits r.kubectl with shellwords so a configured wrapper command
// ("sudo kubectl", a path containing spaces) survives intact, then appends
// the call-specific args.
func (r Runner) buildCmd(ctx context.Context, args []string) *exec.Cmd {
	parts, err := shellwords.Parse(r.kubectl)
	if err != nil || len(parts) == 0 {
		parts = strings.Fields(r.kubectl)
	}
	parts = append(parts, args...)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	if len(r.envVars) > 0 {
		cmd.Env = r.envVars
	}
	return cmd
}
