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

package metrics

import (
	"errors"
	"testing"
	"time"
)

type recordingSink struct {
	distributions []string
}

func (r *recordingSink) Event(string, string, string, []string) {}
func (r *recordingSink) Distribution(metric string, d time.Duration, tags []string) {
	r.distributions = append(r.distributions, metric)
}

func TestMeasureMethodRecordsDistributionAndPropagatesError(t *testing.T) {
	sink := &recordingSink{}
	wantErr := errors.New("boom")

	err := MeasureMethod(sink, "deploy.duration", nil, func() error {
		return wantErr
	})

	if err != wantErr {
		t.Errorf("expected the wrapped function's error to propagate, got %v", err)
	}
	if len(sink.distributions) != 1 || sink.distributions[0] != "deploy.duration" {
		t.Errorf("expected a single distribution recorded, got %v", sink.distributions)
	}
}

func TestMeasureMethodRecordsOnSuccessToo(t *testing.T) {
	sink := &recordingSink{}
	if err := MeasureMethod(sink, "deploy.duration", nil, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.distributions) != 1 {
		t.Errorf("expected a distribution even on success, got %v", sink.distributions)
	}
}

func TestNoopSinkDoesNothing(t *testing.T) {
	var s NoopSink
	s.Event("a", "b", "c", nil)
	s.Distribution("metric", time.Second, nil)
}
