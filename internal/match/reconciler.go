package match

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/oggyb/cowatch/internal/db"
	apperrors "github.com/oggyb/cowatch/internal/errors"
	"github.com/oggyb/cowatch/internal/metrics"
	"github.com/oggyb/cowatch/internal/repository"
)

const reconcilePage = 200

// Elector decides whether this instance should run singleton work.
type Elector interface {
	Acquire(ctx context.Context) (bool, error)
}

// Reconciler walks every relationship pair and repairs asymmetric state.
//
// Repairs, in order:
//   - blocked: a pair where either side blocks carries no match, like or
//     unmatched state on either side.
//   - status_mismatch: the side changed most recently wins and is mirrored.
//   - missing_reverse: same as above when the reverse row does not exist.
type Reconciler struct {
	relations *repository.RelationRepository
	leader    Elector
	clock     clockwork.Clock
	interval  time.Duration
	log       *slog.Logger
}

// NewReconciler creates a reconciler. leader may be nil for single-instance runs.
func NewReconciler(
	relations *repository.RelationRepository,
	leader Elector,
	clock clockwork.Clock,
	interval time.Duration,
	log *slog.Logger,
) *Reconciler {
	return &Reconciler{relations: relations, leader: leader, clock: clock, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("relation reconciler started", "interval", r.interval)
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.pass(ctx)
		}
	}
}

// pass runs one leader-gated scan bounded by the interval.
func (r *Reconciler) pass(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	if r.leader != nil {
		ok, err := r.leader.Acquire(ctx)
		if err != nil {
			r.log.Warn("reconcile skipped, leader check failed", "err", err)
			return
		}
		if !ok {
			return
		}
	}
	if n, err := r.RunOnce(ctx); err != nil {
		r.log.Warn("reconcile pass failed", "repaired", n, "err", err)
	} else if n > 0 {
		r.log.Info("reconcile pass done", "repaired", n)
	}
}

// RunOnce scans all rows once and returns how many pairs were repaired.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	repaired := 0
	owner, other := "", ""
	for {
		rows, err := r.relations.ScanAfter(ctx, owner, other, reconcilePage)
		if err != nil {
			return repaired, err
		}
		for _, row := range rows {
			fixed, err := r.repair(ctx, row.OwnerID, row.OtherID)
			if err != nil {
				r.log.Warn("failed to repair pair", "owner", row.OwnerID, "other", row.OtherID, "err", err)
				continue
			}
			if fixed {
				repaired++
			}
		}
		if len(rows) < reconcilePage {
			return repaired, nil
		}
		last := rows[len(rows)-1]
		owner, other = last.OwnerID, last.OtherID
	}
}

func (r *Reconciler) repair(ctx context.Context, a, b string) (bool, error) {
	var violation string
	err := r.relations.Transact(ctx, a, b, func(_ *gorm.DB, p *repository.Pair) error {
		before := *p
		violation = diagnose(p)
		if violation == "" {
			return nil
		}

		switch violation {
		case "blocked":
			for _, rel := range []*db.Relation{&p.AB, &p.BA} {
				rel.Liked = false
				rel.LikedAt = nil
				rel.Status = db.RelationNone
				rel.MatchedAt = nil
				rel.MatchedContentID = ""
			}
		default:
			src, dst := &p.AB, &p.BA
			if p.BA.UpdatedAt.After(p.AB.UpdatedAt) {
				src, dst = &p.BA, &p.AB
			}
			dst.Status = src.Status
			dst.MatchedAt = src.MatchedAt
			dst.MatchedContentID = src.MatchedContentID
			if dst.Status == db.RelationMatched {
				dst.Liked = false
				dst.LikedAt = nil
			}
		}
		stamp(p, before, r.clock.Now().UTC())
		return nil
	})
	if err != nil || violation == "" {
		return false, err
	}

	metrics.RelationRepairs.WithLabelValues(violation).Inc()
	r.log.Error("relationship invariant violated, repaired",
		"err", apperrors.ErrInvariantViolation, "violation", violation, "user_a", a, "user_b", b)
	return true, nil
}

// diagnose names the first broken invariant of the pair, or "".
func diagnose(p *repository.Pair) string {
	if p.AB.Blocked || p.BA.Blocked {
		for _, rel := range []db.Relation{p.AB, p.BA} {
			if rel.Status != db.RelationNone || rel.Liked || rel.MatchedAt != nil {
				return "blocked"
			}
		}
		return ""
	}
	if p.AB.Status == p.BA.Status {
		return ""
	}
	if p.AB.UpdatedAt.IsZero() || p.BA.UpdatedAt.IsZero() {
		return "missing_reverse"
	}
	return "status_mismatch"
}
