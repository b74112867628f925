package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/covalt-run/flowruntime/telemetry"
)

// Metrics adapts an OpenTelemetry metric.Meter to telemetry.Metrics, lazily
// creating one instrument per metric name the first time it is recorded.
type Metrics struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
	hists    map[string]metric.Float64Histogram
	gauges   map[string]metric.Float64Gauge
}

// NewMetrics wraps an OpenTelemetry Meter obtained from a MeterProvider.
func NewMetrics(meter metric.Meter) *Metrics {
	return &Metrics{
		meter:    meter,
		counters: make(map[string]metric.Float64Counter),
		hists:    make(map[string]metric.Float64Histogram),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}

// IncCounter records value against a lazily-created Float64Counter.
func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records duration against a lazily-created Float64Histogram.
func (m *Metrics) RecordTimer(name string, d time.Duration, tags ...string) {
	m.mu.Lock()
	h, ok := m.hists[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.hists[name] = h
	}
	m.mu.Unlock()
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records value against a lazily-created Float64Gauge.
func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

var _ telemetry.Metrics = (*Metrics)(nil)
