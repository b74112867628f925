// Package otel backs telemetry.Tracer with an OpenTelemetry trace provider.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/covalt-run/flowruntime/telemetry"
)

// Tracer adapts an OpenTelemetry trace.Tracer to telemetry.Tracer.
type Tracer struct {
	Tracer oteltrace.Tracer
}

// New wraps an OpenTelemetry tracer obtained from a TracerProvider.
func New(t oteltrace.Tracer) *Tracer {
	return &Tracer{Tracer: t}
}

// Start begins a new span under name, returning a context carrying it.
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, telemetry.Span) {
	ctx, span := t.Tracer.Start(ctx, name)
	return ctx, &spanAdapter{span: span}
}

type spanAdapter struct {
	span oteltrace.Span
}

func (s *spanAdapter) End() { s.span.End() }

func (s *spanAdapter) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name)
}

func (s *spanAdapter) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
