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

// Package summary defines the outbound logging/summary sink contract
// (spec.md section 6) and ships one concrete, thread-safe console
// implementation so the binary is runnable. Components depend only on the
// Sink interface, per SPEC_FULL.md's "out of scope: external collaborators".
package summary

import (
	"fmt"
	"os"
	"sync"

	"github.com/olekukonko/tablewriter"

	"github.com/globaldeploy/globaldeploy/internal/deployerrors"
)

// Sink is the abstract logging/summary collaborator the core emits
// structured phase/action/paragraph events to.
type Sink interface {
	AddAction(text string)
	AddParagraph(text string)
	PhaseHeading(text string)
	PrintSummary(status deployerrors.Status, rows []ResourceRow)
}

// ResourceRow is one line of the final per-resource summary table.
type ResourceRow struct {
	Kind    string
	Name    string
	Status  string
	Message string
}

// ConsoleSink appends actions/paragraphs to stdout and renders the final
// table with tablewriter, grounded on the teacher's inventory-listing
// commands (cmd/kustomizer/get_inventories.go family), which use the same
// library for tabular CLI output.
type ConsoleSink struct {
	mu  sync.Mutex
	out *os.File
}

// NewConsoleSink creates a Sink writing to the given file (typically
// os.Stdout).
func NewConsoleSink(out *os.File) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) AddAction(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, "▸", text)
}

func (s *ConsoleSink) AddParagraph(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, text)
}

func (s *ConsoleSink) PhaseHeading(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "==>", text)
}

func (s *ConsoleSink) PrintSummary(status deployerrors.Status, rows []ResourceRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := tablewriter.NewWriter(s.out)
	table.SetHeader([]string{"Kind", "Name", "Status", "Message"})
	for _, row := range rows {
		table.Append([]string{row.Kind, row.Name, row.Status, row.Message})
	}
	table.Render()

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "deploy result:", status)
}
