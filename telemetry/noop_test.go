package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/covalt-run/flowruntime/telemetry"
)

func TestNoopLoggerDoesNotPanic(t *testing.T) {
	var logger telemetry.Logger = telemetry.NoopLogger{}
	ctx := context.Background()
	require.NotPanics(t, func() {
		logger.Debug(ctx, "debug", "k", "v")
		logger.Info(ctx, "info")
		logger.Warn(ctx, "warn")
		logger.Error(ctx, "error", "err", "boom")
	})
}

func TestNoopMetricsDoesNotPanic(t *testing.T) {
	var metrics telemetry.Metrics = telemetry.NoopMetrics{}
	require.NotPanics(t, func() {
		metrics.IncCounter("runs.started", 1, "agent", "a1")
		metrics.RecordTimer("run.duration", 50*time.Millisecond)
		metrics.RecordGauge("runs.active", 3)
	})
}

func TestNoopTracerReturnsUsableSpan(t *testing.T) {
	var tracer telemetry.Tracer = telemetry.NoopTracer{}
	ctx, span := tracer.Start(context.Background(), "flow.execute")
	require.NotNil(t, ctx)
	require.NotPanics(t, func() {
		span.AddEvent("node.started")
		span.SetError(nil)
		span.End()
	})
}
