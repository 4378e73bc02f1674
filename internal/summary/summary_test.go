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

package summary

import (
	"os"
	"strings"
	"testing"

	"github.com/globaldeploy/globaldeploy/internal/deployerrors"
)

func withCapturedStdout(t *testing.T, fn func(*os.File)) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	fn(w)
	w.Close()

	buf := make([]byte, 64*1024)
	n, _ := r.Read(buf)
	return string(buf[:n])
}

func TestPrintSummaryRendersTableAndStatus(t *testing.T) {
	out := withCapturedStdout(t, func(w *os.File) {
		sink := NewConsoleSink(w)
		sink.PrintSummary(deployerrors.StatusSuccess, []ResourceRow{
			{Kind: "ClusterRole", Name: "reader", Status: "succeeded", Message: "current"},
		})
	})

	if !strings.Contains(out, "ClusterRole") || !strings.Contains(out, "reader") {
		t.Errorf("expected the table to mention the resource, got:\n%s", out)
	}
	if !strings.Contains(out, "deploy result: success") {
		t.Errorf("expected the trailing status line, got:\n%s", out)
	}
}

func TestAddActionAndParagraphWriteDirectly(t *testing.T) {
	out := withCapturedStdout(t, func(w *os.File) {
		sink := NewConsoleSink(w)
		sink.AddAction("pruned 2 resources")
		sink.AddParagraph("a warning")
	})

	if !strings.Contains(out, "pruned 2 resources") {
		t.Errorf("expected the action text, got:\n%s", out)
	}
	if !strings.Contains(out, "a warning") {
		t.Errorf("expected the paragraph text, got:\n%s", out)
	}
}

func TestPhaseHeadingIsSeparatedByBlankLine(t *testing.T) {
	out := withCapturedStdout(t, func(w *os.File) {
		sink := NewConsoleSink(w)
		sink.PhaseHeading("Applying resources")
	})
	if !strings.Contains(out, "==> Applying resources") {
		t.Errorf("expected a phase heading, got:\n%s", out)
	}
	if !strings.HasPrefix(out, "\n==> ") {
		t.Errorf("expected the heading to be preceded by a blank line, got:\n%q", out)
	}
}
