// Copyright 2026 The gVisor Authors.
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
	"fmt"
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Gather returns a snapshot of every registered metric as Prometheus metric
// families, in name order.
func (r *Registry) Gather() []*dto.MetricFamily {
	var families []*dto.MetricFamily
	for _, name := range r.names() {
		r.mu.Lock()
		m := r.metrics[name]
		r.mu.Unlock()
		families = append(families, m.family())
	}
	return families
}

func (m *registeredMetric) family() *dto.MetricFamily {
	typ := dto.MetricType_GAUGE
	if m.cumulative {
		typ = dto.MetricType_COUNTER
	}
	mf := &dto.MetricFamily{
		Name: proto.String(m.name),
		Help: proto.String(m.description),
		Type: typ.Enum(),
	}
	for _, s := range m.samples() {
		metric := &dto.Metric{}
		for _, f := range m.fieldMapper.fields {
			metric.Label = append(metric.Label, &dto.LabelPair{
				Name:  proto.String(f.name),
				Value: proto.String(s.Fields[f.name]),
			})
		}
		v := proto.Float64(float64(s.Value))
		if m.cumulative {
			metric.Counter = &dto.Counter{Value: v}
		} else {
			metric.Gauge = &dto.Gauge{Value: v}
		}
		mf.Metric = append(mf.Metric, metric)
	}
	return mf
}

// WriteText writes every registered metric to w in the Prometheus text
// exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	for _, mf := range r.Gather() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %q: %w", mf.GetName(), err)
		}
	}
	return nil
}
