// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metric

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/testing/protocmp"
)

const (
	fooDescription     = "Foo!"
	barDescription     = "Bar Baz"
	counterDescription = "Counter"
)

func TestRegister(t *testing.T) {
	r := NewRegistry()
	if _, err := r.NewUint64Metric("foo", fooDescription); err != nil {
		t.Fatalf("NewUint64Metric got err %v want nil", err)
	}
	for _, tc := range []struct {
		name   string
		fields []Field
		want   error
	}{
		{name: "foo", want: ErrNameInUse},
		{name: "/foo", want: ErrInvalidName},
		{name: "", want: ErrInvalidName},
		{name: "baz", fields: []Field{NewField("empty", nil)}, want: ErrFieldHasNoAllowedValues},
		{name: "bar"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.NewUint64Metric(tc.name, barDescription, tc.fields...)
			if !errors.Is(err, tc.want) {
				t.Errorf("NewUint64Metric(%q) got err %v want %v", tc.name, err, tc.want)
			}
		})
	}
}

func TestMustCreatePanics(t *testing.T) {
	r := NewRegistry()
	r.MustCreateNewUint64Metric("foo", fooDescription)
	defer func() {
		if recover() == nil {
			t.Errorf("MustCreateNewUint64Metric with a duplicate name did not panic")
		}
	}()
	r.MustCreateNewUint64Metric("foo", fooDescription)
}

func TestFields(t *testing.T) {
	r := NewRegistry()
	m := r.MustCreateNewUint64Metric("counter", counterDescription,
		NewField("weirdness_type", []string{"time_fallback", "partial_result"}),
		NewField("mode", []string{"user", "kernel", "idle"}))

	m.Increment("time_fallback", "kernel")
	m.IncrementBy(5, "partial_result", "idle")
	m.Increment("partial_result", "idle")

	if got := m.Value("time_fallback", "kernel"); got != 1 {
		t.Errorf("Value(time_fallback, kernel) got %d want 1", got)
	}
	if got := m.Value("partial_result", "idle"); got != 6 {
		t.Errorf("Value(partial_result, idle) got %d want 6", got)
	}
	if got := m.Value("time_fallback", "user"); got != 0 {
		t.Errorf("Value(time_fallback, user) got %d want 0", got)
	}

	samples, ok := r.Values("counter")
	if !ok {
		t.Fatalf("Values(counter) not found")
	}
	if len(samples) != 6 {
		t.Fatalf("Values(counter) got %d samples want 6", len(samples))
	}
	want := Sample{
		Fields: map[string]string{"weirdness_type": "partial_result", "mode": "idle"},
		Value:  6,
	}
	if diff := cmp.Diff(want, samples[5]); diff != "" {
		t.Errorf("last sample mismatch (-want +got):\n%s", diff)
	}
}

func TestDisallowedFieldValue(t *testing.T) {
	r := NewRegistry()
	m := r.MustCreateNewUint64Metric("counter", counterDescription, NewField("op", []string{"a"}))
	for _, tc := range []struct {
		name   string
		values []string
	}{
		{name: "unknown value", values: []string{"b"}},
		{name: "too few", values: nil},
		{name: "too many", values: []string{"a", "a"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Increment(%q) did not panic", tc.values)
				}
			}()
			m.Increment(tc.values...)
		})
	}
}

func TestGather(t *testing.T) {
	r := NewRegistry()
	foo := r.MustCreateNewUint64Metric("foo", fooDescription, NewField("kind", []string{"a", "b"}))
	var bar uint64 = 7
	r.MustRegisterCustomUint64Metric("bar", false, barDescription, func(...string) uint64 { return bar })
	foo.IncrementBy(3, "b")

	want := []*dto.MetricFamily{
		{
			Name: proto.String("bar"),
			Help: proto.String(barDescription),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{
				{Gauge: &dto.Gauge{Value: proto.Float64(7)}},
			},
		},
		{
			Name: proto.String("foo"),
			Help: proto.String(fooDescription),
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{
				{
					Label:   []*dto.LabelPair{{Name: proto.String("kind"), Value: proto.String("a")}},
					Counter: &dto.Counter{Value: proto.Float64(0)},
				},
				{
					Label:   []*dto.LabelPair{{Name: proto.String("kind"), Value: proto.String("b")}},
					Counter: &dto.Counter{Value: proto.Float64(3)},
				},
			},
		},
	}
	if diff := cmp.Diff(want, r.Gather(), protocmp.Transform()); diff != "" {
		t.Errorf("Gather mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteText(t *testing.T) {
	r := NewRegistry()
	foo := r.MustCreateNewUint64Metric("foo", fooDescription, NewField("kind", []string{"a", "b"}))
	frames := uint64(42)
	r.MustRegisterCustomUint64Metric("frames", false, "Frames in use.", func(...string) uint64 { return frames })
	foo.Increment("a")

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	parsed, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parsing exported metrics: %v", err)
	}
	if got := parsed["frames"].GetMetric()[0].GetGauge().GetValue(); got != 42 {
		t.Errorf("frames got %v want 42", got)
	}
	got := map[string]float64{}
	for _, m := range parsed["foo"].GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if diff := cmp.Diff(map[string]float64{"a": 1, "b": 0}, got); diff != "" {
		t.Errorf("foo samples mismatch (-want +got):\n%s", diff)
	}
}
