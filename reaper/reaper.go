// Package reaper runs the cron-scheduled sweeps that supplement the
// spec's "reaped lazily" orphan-handling with a belt-and-braces periodic
// pass: garbage-collecting active_streams rows left behind by a crashed
// or restarted process, and rebuilding the Node Route Index from the
// saved-agent table so a route added by another process (or left stale by
// one that died mid-save) is picked up without an operator restart.
package reaper

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/covalt-run/flowruntime/broadcaster"
	"github.com/covalt-run/flowruntime/telemetry"
)

// StreamReaper reaps active_streams rows with no corresponding in-memory
// state. *broadcaster.Broadcaster implements this.
type StreamReaper interface {
	ReapOrphans() ([]broadcaster.ActiveStreamRecord, error)
}

// RouteRebuilder reloads every saved agent's graph and rebuilds the Node
// Route Index from scratch. *agentstore.Store implements this.
type RouteRebuilder interface {
	Rebuild() error
}

// defaultSchedule runs the sweep every five minutes.
const defaultSchedule = "*/5 * * * *"

// Reaper owns a cron schedule that periodically reaps orphaned streams and
// rebuilds the route index. Either collaborator may be nil to disable that
// half of the sweep.
type Reaper struct {
	streams StreamReaper
	routes  RouteRebuilder
	logger  telemetry.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithLogger attaches a telemetry.Logger; a Reaper with none logs nothing.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Reaper) { r.logger = l }
}

// New constructs a Reaper. streams and routes may each be nil to skip that
// sweep half.
func New(streams StreamReaper, routes RouteRebuilder, opts ...Option) *Reaper {
	r := &Reaper{streams: streams, routes: routes}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start schedules the sweep on schedule (standard 5-field cron syntax) and
// runs one pass immediately so a freshly started process reconciles state
// left by its predecessor without waiting for the first tick. An empty
// schedule uses defaultSchedule.
func (r *Reaper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = defaultSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { r.sweep(ctx) }); err != nil {
		return err
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	r.sweep(ctx)
	c.Start()
	return nil
}

// Stop halts the schedule, waiting for any in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// sweep runs one reconciliation pass. A failure in either half is logged
// and does not prevent the other half from running.
func (r *Reaper) sweep(ctx context.Context) {
	if r.streams != nil {
		orphans, err := r.streams.ReapOrphans()
		if err != nil {
			r.log(ctx, "reap orphaned streams failed", "err", err)
		} else if len(orphans) > 0 {
			r.log(ctx, "reaped orphaned streams", "count", len(orphans))
		}
	}

	if r.routes != nil {
		if err := r.routes.Rebuild(); err != nil {
			r.log(ctx, "route index rebuild failed", "err", err)
		}
	}
}

func (r *Reaper) log(ctx context.Context, msg string, keyvals ...any) {
	if r.logger != nil {
		r.logger.Warn(ctx, msg, keyvals...)
	}
}
