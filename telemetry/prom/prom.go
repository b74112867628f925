// Package prom backs telemetry.Metrics with
// github.com/prometheus/client_golang, exposing counters, histograms,
// and gauges registered on a caller-supplied registry.
package prom

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/covalt-run/flowruntime/telemetry"
)

// Metrics adapts a prometheus.Registerer to telemetry.Metrics, lazily
// creating one vector per metric name on first use. Tag pairs passed to
// IncCounter/RecordTimer/RecordGauge become the label set of that vector;
// the label names observed on the first call for a given name are fixed for
// its lifetime, matching how Prometheus vectors are normally declared.
type Metrics struct {
	reg prometheus.Registerer

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	hists    map[string]*prometheus.HistogramVec
	gauges   map[string]*prometheus.GaugeVec
}

// New wraps reg, typically prometheus.DefaultRegisterer or a registry scoped
// to a single process instance.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		reg:      reg,
		counters: make(map[string]*prometheus.CounterVec),
		hists:    make(map[string]*prometheus.HistogramVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

func splitTags(tags []string) ([]string, []string) {
	names := make([]string, 0, len(tags)/2)
	values := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		names = append(names, tags[i])
		values = append(values, tags[i+1])
	}
	return names, values
}

// IncCounter adds value to the named counter, partitioned by the given tags.
func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	labelNames, labelValues := splitTags(tags)

	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: name,
		}, labelNames)
		m.reg.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()

	c.WithLabelValues(labelValues...).Add(value)
}

// RecordTimer observes duration, in seconds, against the named histogram.
func (m *Metrics) RecordTimer(name string, d time.Duration, tags ...string) {
	labelNames, labelValues := splitTags(tags)

	m.mu.Lock()
	h, ok := m.hists[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, labelNames)
		m.reg.MustRegister(h)
		m.hists[name] = h
	}
	m.mu.Unlock()

	h.WithLabelValues(labelValues...).Observe(d.Seconds())
}

// RecordGauge sets the named gauge to value.
func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	labelNames, labelValues := splitTags(tags)

	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: name,
		}, labelNames)
		m.reg.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()

	g.WithLabelValues(labelValues...).Set(value)
}

var _ telemetry.Metrics = (*Metrics)(nil)
