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

// Package metrics defines the outbound metrics sink contract (spec.md
// section 6): an abstract counter/distribution/event interface the core
// emits to, with a no-op implementation for standalone runs.
package metrics

import "time"

// Sink is the abstract metrics collaborator.
type Sink interface {
	Event(title, body, alertType string, tags []string)
	Distribution(metric string, d time.Duration, tags []string)
}

// MeasureMethod wraps fn, recording its duration as a distribution under
// metric with the given tags, regardless of whether fn returns an error.
func MeasureMethod(sink Sink, metric string, tags []string, fn func() error) error {
	start := time.Now()
	err := fn()
	sink.Distribution(metric, time.Since(start), tags)
	return err
}

// NoopSink discards every call; used when no metrics backend is
// configured.
type NoopSink struct{}

func (NoopSink) Event(string, string, string, []string)        {}
func (NoopSink) Distribution(string, time.Duration, []string)  {}
