package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Elector decides whether this instance should run singleton work.
type Elector interface {
	Acquire(ctx context.Context) (bool, error)
}

// Sweeper periodically reverts lapsed premium accounts, so users who never
// open the app still drop back to the free tier.
type Sweeper struct {
	manager  *Manager
	leader   Elector
	clock    clockwork.Clock
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper creates a sweeper. leader may be nil for single-instance runs.
func NewSweeper(manager *Manager, leader Elector, clock clockwork.Clock, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{manager: manager, leader: leader, clock: clock, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("premium sweeper started", "interval", s.interval)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.sweep(ctx)
		}
	}
}

// sweep must finish before the next tick.
func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	if s.leader != nil {
		ok, err := s.leader.Acquire(ctx)
		if err != nil {
			s.log.Warn("premium sweep skipped, leader check failed", "err", err)
			return
		}
		if !ok {
			return
		}
	}

	total := 0
	for {
		n, err := s.manager.ExpirePremium(ctx, 500)
		if err != nil {
			s.log.Warn("premium sweep failed", "err", err)
			return
		}
		total += n
		if n < 500 {
			break
		}
	}
	if total > 0 {
		s.log.Info("premium accounts expired", "count", total)
	}
}
