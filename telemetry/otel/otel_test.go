package otel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/covalt-run/flowruntime/telemetry/otel"
)

func TestStartReturnsUsableSpan(t *testing.T) {
	tracer := otel.New(oteltrace.NewNoopTracerProvider().Tracer("flowruntime-test"))

	ctx, span := tracer.Start(context.Background(), "flow.execute")
	require.NotNil(t, ctx)
	require.NotPanics(t, func() {
		span.AddEvent("node.started")
		span.SetError(errors.New("boom"))
		span.End()
	})
}

func TestSetErrorIgnoresNil(t *testing.T) {
	tracer := otel.New(oteltrace.NewNoopTracerProvider().Tracer("flowruntime-test"))
	_, span := tracer.Start(context.Background(), "flow.execute")
	require.NotPanics(t, func() {
		span.SetError(nil)
	})
}
