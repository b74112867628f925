package prom_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/telemetry/prom"
)

func TestIncCounterAccumulatesByLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := prom.New(reg)

	m.IncCounter("flow_nodes_executed_total", 1, "node_type", "llm-completion")
	m.IncCounter("flow_nodes_executed_total", 2, "node_type", "llm-completion")
	m.IncCounter("flow_nodes_executed_total", 1, "node_type", "conditional")

	expected := `
		# HELP flow_nodes_executed_total flow_nodes_executed_total
		# TYPE flow_nodes_executed_total counter
		flow_nodes_executed_total{node_type="conditional"} 1
		flow_nodes_executed_total{node_type="llm-completion"} 3
	`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "flow_nodes_executed_total"))
}

func TestRecordGaugeOverwritesValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := prom.New(reg)

	m.RecordGauge("active_runs", 5, "status", "running")
	m.RecordGauge("active_runs", 2, "status", "running")

	expected := `
		# HELP active_runs active_runs
		# TYPE active_runs gauge
		active_runs{status="running"} 2
	`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "active_runs"))
}

func TestRecordTimerDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := prom.New(reg)
	require.NotPanics(t, func() {
		m.RecordTimer("node_duration_seconds", 25*time.Millisecond, "node_type", "webhook-trigger")
	})
	require.Equal(t, 1, testutil.CollectAndCount(reg, "node_duration_seconds"))
}
