package farm

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nstehr/vimy/vimy-farm/events"
)

const (
	watchdogInterval  = time.Minute
	watchdogTolerance = 5 * time.Minute
)

func (e *Engine) scheduleWatchdog() {
	e.watchdog = e.clock.AfterFunc(watchdogInterval, func() {
		e.checkStalled()
		e.scheduleWatchdog()
	})
}

// stallTolerance is how long a run may go without a successful dispatch.
func (e *Engine) stallTolerance() time.Duration {
	s := e.settings.Get()
	if s.SingleCycle && s.SingleCycleInterval > 0 {
		return watchdogTolerance + s.SingleCycleInterval + cycleGrace
	}
	return watchdogTolerance
}

// checkStalled restarts an active run that has not attacked for longer than
// the tolerance, counting from the later of the last attack and the run's
// start. The restart emits no notices.
func (e *Engine) checkStalled() {
	if e.run == nil {
		return
	}
	idle := e.clock.Now().Sub(e.lastAttack)
	if since := e.clock.Now().Sub(e.run.startedAt); since < idle {
		idle = since
	}
	tolerance := e.stallTolerance()
	if idle <= tolerance {
		return
	}

	_, span := e.catalog.tracer.Start(e.ctx, "watchdog.recover", trace.WithAttributes(
		attribute.String("farm.run_id", e.run.id),
		attribute.Int64("farm.idle_ms", idle.Milliseconds()),
	))
	defer span.End()

	slog.Warn("farm run stalled, restarting", "run", e.run.id, "idle", idle, "tolerance", tolerance)
	e.restart(false)
	e.bus.Publish(events.Recovered{Reason: "no attack for " + idle.Truncate(time.Second).String()})
}
