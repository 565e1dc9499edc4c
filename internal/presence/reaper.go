package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Reaper ends sessions abandoned without a stop call (app killed, device
// offline).
type Reaper struct {
	tracker    *Tracker
	clock      clockwork.Clock
	interval   time.Duration
	staleAfter time.Duration
	log        *slog.Logger
}

func NewReaper(tracker *Tracker, clock clockwork.Clock, interval, staleAfter time.Duration, log *slog.Logger) *Reaper {
	return &Reaper{
		tracker:    tracker,
		clock:      clock,
		interval:   interval,
		staleAfter: staleAfter,
		log:        log,
	}
}

// Run checks for stale sessions every interval. It blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.log.Info("session reaper started", "interval", r.interval, "stale_after", r.staleAfter)
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := r.pass(ctx)
			if err != nil {
				r.log.Warn("reaper pass failed", "err", err)
				continue
			}
			if n > 0 {
				r.log.Info("reaped stale sessions", "count", n)
			}
		}
	}
}

// pass runs one reap bounded by the interval.
func (r *Reaper) pass(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()
	return r.tracker.ReapStale(ctx, r.staleAfter)
}
