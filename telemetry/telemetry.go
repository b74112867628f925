// Package telemetry exposes the narrow logging/metrics/tracing surface the
// rest of the runtime depends on. Concrete backends (OpenTelemetry,
// Prometheus, or no-ops) satisfy these interfaces without the core packages
// importing any specific vendor SDK directly.
package telemetry

import (
	"context"
	"time"
)

// Logger captures structured logging used throughout the runtime.
// Implementations typically delegate to a structured logger but the
// interface is intentionally small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying tracing provider.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End()
	AddEvent(name string, attrs ...any)
	SetError(err error)
}
