package otel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/covalt-run/flowruntime/telemetry/otel"
)

func TestMetricsDoesNotPanicOnRepeatedNames(t *testing.T) {
	m := otel.NewMetrics(noop.NewMeterProvider().Meter("flowruntime-test"))

	require.NotPanics(t, func() {
		m.IncCounter("flow_nodes_executed_total", 1, "node_type", "llm-completion")
		m.IncCounter("flow_nodes_executed_total", 1, "node_type", "llm-completion")
		m.RecordTimer("node_duration_seconds", 10*time.Millisecond)
		m.RecordGauge("active_runs", 3)
	})
}
