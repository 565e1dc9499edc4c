// Package quota enforces the daily swipe and undo budget.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/oggyb/cowatch/internal/db"
	apperrors "github.com/oggyb/cowatch/internal/errors"
	"github.com/oggyb/cowatch/internal/metrics"
	"github.com/oggyb/cowatch/internal/repository"
)

// Unlimited is the sentinel limit for premium users.
const Unlimited = -1

// Decision is the structured answer to "may this user swipe/undo now".
// A denial is an expected outcome, not an error.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"` // -1 when unlimited
	Message   string `json:"message,omitempty"`
}

// Options hold the free-tier defaults and the calendar the day is counted in.
type Options struct {
	FreeSwipeLimit int
	FreeUndoLimit  int
	Location       *time.Location
}

// Manager is the quota gate. Every check first rolls the record over to
// today and lazily expires premium.
type Manager struct {
	quotas *repository.QuotaRepository
	swipes *repository.SwipeRepository
	clock  clockwork.Clock
	log    *slog.Logger
	opts   Options
}

func NewManager(
	quotas *repository.QuotaRepository,
	swipes *repository.SwipeRepository,
	clock clockwork.Clock,
	log *slog.Logger,
	opts Options,
) *Manager {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.FreeSwipeLimit <= 0 {
		opts.FreeSwipeLimit = 2
	}
	if opts.FreeUndoLimit <= 0 {
		opts.FreeUndoLimit = 5
	}
	return &Manager{quotas: quotas, swipes: swipes, clock: clock, log: log, opts: opts}
}

// Today is the current quota day, e.g. "2026-03-01".
func (m *Manager) Today() string {
	return m.clock.Now().In(m.opts.Location).Format(time.DateOnly)
}

// Limits returns the user's record after day rollover.
func (m *Manager) Limits(ctx context.Context, userID string) (*db.QuotaRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrInvalidArgument)
	}
	now := m.clock.Now().UTC()
	today := m.Today()

	if err := m.quotas.Ensure(ctx, userID, m.opts.FreeSwipeLimit, m.opts.FreeUndoLimit, today); err != nil {
		return nil, fmt.Errorf("failed to create quota record: %w", err)
	}
	if ok, err := m.quotas.RevertExpiredPremium(ctx, userID, m.opts.FreeSwipeLimit, m.opts.FreeUndoLimit, now); err != nil {
		return nil, fmt.Errorf("failed to expire premium: %w", err)
	} else if ok {
		metrics.PremiumExpirations.Inc()
		m.log.Info("premium expired", "user", userID)
	}
	if ok, err := m.quotas.ResetIfStale(ctx, userID, today, now); err != nil {
		return nil, fmt.Errorf("failed to reset quota day: %w", err)
	} else if ok {
		m.log.Debug("quota day rolled over", "user", userID, "day", today)
	}

	rec, err := m.quotas.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quota: %w", err)
	}
	return rec, nil
}

// CanSwipe reports whether the user has budget left.
func (m *Manager) CanSwipe(ctx context.Context, userID string) (Decision, error) {
	rec, err := m.Limits(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	return swipeDecision(rec), nil
}

func swipeDecision(rec *db.QuotaRecord) Decision {
	if rec.DailySwipesLimit == Unlimited {
		return Decision{Allowed: true, Remaining: Unlimited}
	}
	remaining := rec.DailySwipesLimit + rec.ExtraSwipesPurchased - rec.DailySwipesUsed
	if remaining > 0 {
		return Decision{Allowed: true, Remaining: remaining}
	}
	return Decision{
		Allowed:   false,
		Remaining: 0,
		Message:   "You've used all your swipes for today. Get more swipes or go premium for unlimited swipes.",
	}
}

// UseSwipe charges one swipe and records it for undo.
//
// The charge is a single conditional UPDATE, so two devices racing on the
// last swipe cannot both succeed. A denied charge is returned as a Decision.
func (m *Manager) UseSwipe(ctx context.Context, userID string, action db.SwipeAction, targetID string) (Decision, error) {
	rec, err := m.Limits(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if d := swipeDecision(rec); !d.Allowed {
		metrics.QuotaDenials.WithLabelValues("swipe").Inc()
		return d, nil
	}

	now := m.clock.Now().UTC()
	ok, err := m.quotas.IncrementUsed(ctx, userID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to charge swipe: %w", err)
	}
	if !ok {
		metrics.QuotaDenials.WithLabelValues("swipe").Inc()
		return swipeDecision(&db.QuotaRecord{DailySwipesLimit: 0}), nil
	}

	if err := m.swipes.Record(ctx, &db.SwipeHistory{
		UserID:    userID,
		TargetID:  targetID,
		Action:    action,
		CreatedAt: now,
	}); err != nil {
		// audit trail only; the swipe itself went through
		m.log.Warn("failed to record swipe history", "user", userID, "target", targetID, "err", err)
	}

	d := Decision{Allowed: true, Remaining: Unlimited}
	if rec.DailySwipesLimit != Unlimited {
		d.Remaining = max(0, rec.DailySwipesLimit+rec.ExtraSwipesPurchased-rec.DailySwipesUsed-1)
	}
	return d, nil
}

// RefundSwipe gives back a swipe charged for an action that then failed.
func (m *Manager) RefundSwipe(ctx context.Context, userID string) error {
	if err := m.quotas.DecrementUsed(ctx, userID, m.clock.Now().UTC()); err != nil {
		return fmt.Errorf("failed to refund swipe: %w", err)
	}
	return nil
}

// CanUndo reports whether the user has an undo left.
func (m *Manager) CanUndo(ctx context.Context, userID string) (Decision, error) {
	rec, err := m.Limits(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	return undoDecision(rec), nil
}

func undoDecision(rec *db.QuotaRecord) Decision {
	if rec.UndoLimit == Unlimited {
		return Decision{Allowed: true, Remaining: Unlimited}
	}
	if rec.UndoCount > 0 {
		return Decision{Allowed: true, Remaining: rec.UndoCount}
	}
	return Decision{
		Allowed:   false,
		Remaining: 0,
		Message:   "No undos left today. Go premium for unlimited undos.",
	}
}

// UseUndo spends an undo and refunds the swipe being reversed.
func (m *Manager) UseUndo(ctx context.Context, userID string) (Decision, error) {
	rec, err := m.Limits(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	return m.consumeUndo(ctx, m.quotas, userID, rec)
}

// UseUndoTx is UseUndo inside the caller's transaction. It skips the day
// rollover, so callers check CanUndo first.
func (m *Manager) UseUndoTx(ctx context.Context, tx *gorm.DB, userID string) (Decision, error) {
	quotas := m.quotas.WithTx(tx)
	rec, err := quotas.Get(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load quota: %w", err)
	}
	return m.consumeUndo(ctx, quotas, userID, rec)
}

func (m *Manager) consumeUndo(
	ctx context.Context,
	quotas *repository.QuotaRepository,
	userID string,
	rec *db.QuotaRecord,
) (Decision, error) {
	if d := undoDecision(rec); !d.Allowed {
		metrics.QuotaDenials.WithLabelValues("undo").Inc()
		return d, nil
	}

	ok, err := quotas.ConsumeUndo(ctx, userID, m.clock.Now().UTC())
	if err != nil {
		return Decision{}, fmt.Errorf("failed to consume undo: %w", err)
	}
	if !ok {
		metrics.QuotaDenials.WithLabelValues("undo").Inc()
		return undoDecision(&db.QuotaRecord{}), nil
	}

	d := Decision{Allowed: true, Remaining: Unlimited}
	if rec.UndoLimit != Unlimited {
		d.Remaining = max(0, rec.UndoCount-1)
	}
	return d, nil
}

// AddExtraSwipes credits purchased swipes. They survive daily resets.
func (m *Manager) AddExtraSwipes(ctx context.Context, userID string, amount int) (*db.QuotaRecord, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", apperrors.ErrInvalidArgument)
	}
	if _, err := m.Limits(ctx, userID); err != nil {
		return nil, err
	}
	if err := m.quotas.AddExtra(ctx, userID, amount, m.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to add extra swipes: %w", err)
	}
	return m.quotas.Get(ctx, userID)
}

// SetPremium grants unlimited swipes and undos. A nil expiresAt never expires.
func (m *Manager) SetPremium(ctx context.Context, userID string, expiresAt *time.Time) (*db.QuotaRecord, error) {
	now := m.clock.Now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: premium expiry must be in the future", apperrors.ErrInvalidArgument)
	}
	if _, err := m.Limits(ctx, userID); err != nil {
		return nil, err
	}
	if expiresAt != nil {
		utc := expiresAt.UTC()
		expiresAt = &utc
	}
	if err := m.quotas.SetPremium(ctx, userID, expiresAt, now); err != nil {
		return nil, fmt.Errorf("failed to set premium: %w", err)
	}
	m.log.Info("premium granted", "user", userID, "expires_at", expiresAt)
	return m.quotas.Get(ctx, userID)
}

// ExpirePremium reverts every lapsed premium account and returns how many
// were reverted.
func (m *Manager) ExpirePremium(ctx context.Context, batch int) (int, error) {
	now := m.clock.Now().UTC()
	ids, err := m.quotas.ListExpiredPremium(ctx, now, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired premium: %w", err)
	}

	reverted := 0
	for _, id := range ids {
		ok, err := m.quotas.RevertExpiredPremium(ctx, id, m.opts.FreeSwipeLimit, m.opts.FreeUndoLimit, now)
		if err != nil {
			m.log.Warn("failed to expire premium", "user", id, "err", err)
			continue
		}
		if ok {
			reverted++
			metrics.PremiumExpirations.Inc()
		}
	}
	return reverted, nil
}
