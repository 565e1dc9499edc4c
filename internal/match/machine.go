// Package match implements the like/pass/match/unmatch/block lifecycle of a
// user pair.
//
// Every transition rewrites both directed rows of the pair inside one
// transaction (see repository.RelationRepository.Transact). The Reconciler
// repairs anything that slipped past that, e.g. rows written by older
// clients.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/oggyb/cowatch/internal/db"
	apperrors "github.com/oggyb/cowatch/internal/errors"
	"github.com/oggyb/cowatch/internal/metrics"
	"github.com/oggyb/cowatch/internal/quota"
	"github.com/oggyb/cowatch/internal/repository"
	"github.com/oggyb/cowatch/internal/utils/pagination"
)

// Reason explains a denied transition.
type Reason string

const (
	ReasonQuotaExceeded  Reason = "quota_exceeded"
	ReasonBlocked        Reason = "blocked"
	ReasonAlreadyMatched Reason = "already_matched"
	ReasonNotUnmatched   Reason = "not_unmatched"
	ReasonNothingToUndo  Reason = "nothing_to_undo"
	ReasonUndoExhausted  Reason = "undo_exhausted"
)

// Result is the outcome of a transition. Business-rule denials come back as
// Allowed=false with a Reason; errors are reserved for hard failures.
type Result struct {
	Allowed   bool   `json:"allowed"`
	Reason    Reason `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Matched   bool   `json:"matched"`
	Remaining int    `json:"remaining"`
}

func denied(reason Reason, msg string) Result {
	return Result{Reason: reason, Message: msg}
}

var (
	errPairBlocked   = errors.New("pair is blocked")
	errAlreadyUndone = errors.New("swipe already undone")
	errUndoExhausted = errors.New("no undos left")
)

// StateMachine applies relationship transitions.
type StateMachine struct {
	relations *repository.RelationRepository
	swipes    *repository.SwipeRepository
	users     *repository.UserRepository
	quotas    *quota.Manager
	notifier  *Notifier
	clock     clockwork.Clock
	log       *slog.Logger
}

func NewStateMachine(
	relations *repository.RelationRepository,
	swipes *repository.SwipeRepository,
	users *repository.UserRepository,
	quotas *quota.Manager,
	notifier *Notifier,
	clock clockwork.Clock,
	log *slog.Logger,
) *StateMachine {
	return &StateMachine{
		relations: relations,
		swipes:    swipes,
		users:     users,
		quotas:    quotas,
		notifier:  notifier,
		clock:     clock,
		log:       log,
	}
}

// checkPair validates the two ids and makes sure the target exists.
func (m *StateMachine) checkPair(ctx context.Context, a, b string) error {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return fmt.Errorf("%w: both user ids are required", apperrors.ErrInvalidArgument)
	}
	if a == b {
		return apperrors.ErrSelfAction
	}
	ok, err := m.users.Exists(ctx, b)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %s: %w", b, apperrors.ErrNotFound)
	}
	return nil
}

// stamp sets UpdatedAt on the sides fn changed.
func stamp(p *repository.Pair, before repository.Pair, now time.Time) {
	if p.AB != before.AB {
		p.AB.UpdatedAt = now
	}
	if p.BA != before.BA {
		p.BA.UpdatedAt = now
	}
}

// Like records that a liked b and creates a match when b already liked a.
//
// Behavior:
//   - A blocked pair is denied before any swipe is charged.
//   - The swipe is charged before the relationship write and refunded if
//     that write fails.
//   - On a mutual like both rows become matched and MatchCreated is
//     published once.
//   - Liking an existing match is denied without charge.
func (m *StateMachine) Like(ctx context.Context, a, b, contentID string) (Result, error) {
	if err := m.checkPair(ctx, a, b); err != nil {
		return Result{}, err
	}

	ab, err := m.relations.Get(ctx, a, b)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load relation: %w", err)
	}
	ba, err := m.relations.Get(ctx, b, a)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load relation: %w", err)
	}
	if ab.Blocked || ba.Blocked {
		metrics.SwipesTotal.WithLabelValues("like", "denied").Inc()
		return denied(ReasonBlocked, "You can't like this user."), nil
	}
	if ab.Status == db.RelationMatched {
		return denied(ReasonAlreadyMatched, "You're already matched."), nil
	}

	d, err := m.quotas.UseSwipe(ctx, a, db.SwipeLike, b)
	if err != nil {
		metrics.SwipesTotal.WithLabelValues("like", "error").Inc()
		return Result{}, err
	}
	if !d.Allowed {
		metrics.SwipesTotal.WithLabelValues("like", "denied").Inc()
		return Result{Reason: ReasonQuotaExceeded, Message: d.Message, Remaining: d.Remaining}, nil
	}

	now := m.clock.Now().UTC()
	matched := false
	err = m.relations.Transact(ctx, a, b, func(_ *gorm.DB, p *repository.Pair) error {
		if p.AB.Blocked || p.BA.Blocked {
			return errPairBlocked
		}
		before := *p
		if p.BA.Liked || p.BA.Status == db.RelationMatched {
			matchPair(p, contentID, now)
			matched = true
		} else if !p.AB.Liked {
			p.AB.Liked = true
			p.AB.LikedAt = &now
		}
		stamp(p, before, now)
		return nil
	})
	if err != nil {
		if rerr := m.quotas.RefundSwipe(ctx, a); rerr != nil {
			m.log.Error("failed to refund swipe", "user", a, "err", rerr)
		}
		if errors.Is(err, errPairBlocked) {
			metrics.SwipesTotal.WithLabelValues("like", "denied").Inc()
			return denied(ReasonBlocked, "You can't like this user."), nil
		}
		metrics.SwipesTotal.WithLabelValues("like", "error").Inc()
		return Result{}, fmt.Errorf("failed to record like: %w", err)
	}

	metrics.SwipesTotal.WithLabelValues("like", "ok").Inc()
	if matched {
		metrics.MatchesCreated.Inc()
		metrics.RelationTransitions.WithLabelValues("match").Inc()
		m.log.Info("match created", "user_a", a, "user_b", b, "content", contentID)
		m.notifier.MatchCreated(ctx, a, b, contentID, now)
	} else {
		metrics.RelationTransitions.WithLabelValues("like").Inc()
	}
	return Result{Allowed: true, Matched: matched, Remaining: d.Remaining}, nil
}

// matchPair moves both sides to matched and clears pending likes and any
// stale unmatched state.
func matchPair(p *repository.Pair, contentID string, now time.Time) {
	for _, r := range []*db.Relation{&p.AB, &p.BA} {
		r.Liked = false
		r.LikedAt = nil
		r.Status = db.RelationMatched
		r.MatchedAt = &now
		r.MatchedContentID = contentID
	}
}

// Pass charges a swipe and leaves the relationship untouched.
func (m *StateMachine) Pass(ctx context.Context, a, b string) (Result, error) {
	if err := m.checkPair(ctx, a, b); err != nil {
		return Result{}, err
	}
	d, err := m.quotas.UseSwipe(ctx, a, db.SwipePass, b)
	if err != nil {
		metrics.SwipesTotal.WithLabelValues("pass", "error").Inc()
		return Result{}, err
	}
	if !d.Allowed {
		metrics.SwipesTotal.WithLabelValues("pass", "denied").Inc()
		return Result{Reason: ReasonQuotaExceeded, Message: d.Message, Remaining: d.Remaining}, nil
	}
	metrics.SwipesTotal.WithLabelValues("pass", "ok").Inc()
	return Result{Allowed: true, Remaining: d.Remaining}, nil
}

// Unmatch puts both sides into unmatched. Repeating it changes nothing.
// The content the pair matched on is kept so RestoreMatch can reuse it.
func (m *StateMachine) Unmatch(ctx context.Context, a, b string) (Result, error) {
	if err := m.checkPair(ctx, a, b); err != nil {
		return Result{}, err
	}
	err := m.relations.Transact(ctx, a, b, func(_ *gorm.DB, p *repository.Pair) error {
		if p.AB.Blocked || p.BA.Blocked {
			return errPairBlocked
		}
		before := *p
		for _, r := range []*db.Relation{&p.AB, &p.BA} {
			r.Liked = false
			r.LikedAt = nil
			r.Status = db.RelationUnmatched
			r.MatchedAt = nil
		}
		stamp(p, before, m.clock.Now().UTC())
		return nil
	})
	if errors.Is(err, errPairBlocked) {
		return denied(ReasonBlocked, "This user is blocked."), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to unmatch: %w", err)
	}
	metrics.RelationTransitions.WithLabelValues("unmatch").Inc()
	return Result{Allowed: true}, nil
}

// Block blocks the pair in both directions regardless of who asked.
// Any match, pending like or unmatched state is dropped.
func (m *StateMachine) Block(ctx context.Context, a, b string) (Result, error) {
	if err := m.checkPair(ctx, a, b); err != nil {
		return Result{}, err
	}
	err := m.relations.Transact(ctx, a, b, func(_ *gorm.DB, p *repository.Pair) error {
		now := m.clock.Now().UTC()
		before := *p
		for _, r := range []*db.Relation{&p.AB, &p.BA} {
			if !r.Blocked {
				r.Blocked = true
				r.BlockedAt = &now
			}
			r.Liked = false
			r.LikedAt = nil
			r.Status = db.RelationNone
			r.MatchedAt = nil
			r.MatchedContentID = ""
		}
		stamp(p, before, now)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to block: %w", err)
	}
	metrics.RelationTransitions.WithLabelValues("block").Inc()
	m.log.Info("user blocked", "user", a, "target", b)
	return Result{Allowed: true}, nil
}

// Unblock lifts a's block of b only. Once neither side blocks the other the
// pair lands in unmatched; a fresh mutual like is needed to match again.
func (m *StateMachine) Unblock(ctx context.Context, a, b string) (Result, error) {
	if err := m.checkPair(ctx, a, b); err != nil {
		return Result{}, err
	}
	err := m.relations.Transact(ctx, a, b, func(_ *gorm.DB, p *repository.Pair) error {
		if !p.AB.Blocked {
			return nil
		}
		before := *p
		p.AB.Blocked = false
		p.AB.BlockedAt = nil
		if !p.BA.Blocked {
			p.AB.Status = db.RelationUnmatched
			p.BA.Status = db.RelationUnmatched
		}
		stamp(p, before, m.clock.Now().UTC())
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to unblock: %w", err)
	}
	metrics.RelationTransitions.WithLabelValues("unblock").Inc()
	return Result{Allowed: true}, nil
}

// RestoreMatch turns an unmatched pair back into a match without a new
// mutual like. An empty contentID keeps the content they first matched on.
func (m *StateMachine) RestoreMatch(ctx context.Context, a, b, contentID string) (Result, error) {
	if err := m.checkPair(ctx, a, b); err != nil {
		return Result{}, err
	}
	errNotUnmatched := errors.New("pair is not unmatched")
	err := m.relations.Transact(ctx, a, b, func(_ *gorm.DB, p *repository.Pair) error {
		if p.AB.Blocked || p.BA.Blocked {
			return errPairBlocked
		}
		if p.AB.Status != db.RelationUnmatched && p.BA.Status != db.RelationUnmatched {
			return errNotUnmatched
		}
		if contentID == "" {
			contentID = p.AB.MatchedContentID
		}
		now := m.clock.Now().UTC()
		before := *p
		matchPair(p, contentID, now)
		stamp(p, before, now)
		return nil
	})
	switch {
	case errors.Is(err, errPairBlocked):
		return denied(ReasonBlocked, "This user is blocked."), nil
	case errors.Is(err, errNotUnmatched):
		return denied(ReasonNotUnmatched, "There is no previous match to restore."), nil
	case err != nil:
		return Result{}, fmt.Errorf("failed to restore match: %w", err)
	}
	metrics.RelationTransitions.WithLabelValues("restore").Inc()
	return Result{Allowed: true, Matched: true}, nil
}

// UndoLastSwipe reverses the user's newest swipe.
//
// Behavior:
//   - Requires an undo in the budget.
//   - A pending like is withdrawn; a like that already became a match is
//     left alone, the undo still consumes the history entry.
//   - The charged swipe is refunded as part of the undo.
//   - The history entry, the relation rows and the quota change commit in
//     one transaction; on any error none of them is applied.
func (m *StateMachine) UndoLastSwipe(ctx context.Context, userID string) (Result, *db.SwipeHistory, error) {
	d, err := m.quotas.CanUndo(ctx, userID)
	if err != nil {
		return Result{}, nil, err
	}
	if !d.Allowed {
		metrics.SwipesTotal.WithLabelValues("undo", "denied").Inc()
		return Result{Reason: ReasonUndoExhausted, Message: d.Message}, nil, nil
	}

	last, err := m.swipes.LastActive(ctx, userID)
	if err != nil {
		return Result{}, nil, fmt.Errorf("failed to load swipe history: %w", err)
	}
	if last == nil {
		return denied(ReasonNothingToUndo, "There is nothing to undo."), nil, nil
	}

	err = m.relations.Transact(ctx, userID, last.TargetID, func(tx *gorm.DB, p *repository.Pair) error {
		ok, err := m.swipes.WithTx(tx).MarkUndone(ctx, last.ID)
		if err != nil {
			return fmt.Errorf("failed to mark swipe undone: %w", err)
		}
		if !ok {
			return errAlreadyUndone
		}

		d, err = m.quotas.UseUndoTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return errUndoExhausted
		}

		if last.Action != db.SwipeLike || !p.AB.Liked || p.AB.Status == db.RelationMatched {
			return nil
		}
		before := *p
		p.AB.Liked = false
		p.AB.LikedAt = nil
		stamp(p, before, m.clock.Now().UTC())
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyUndone):
		return denied(ReasonNothingToUndo, "There is nothing to undo."), nil, nil
	case errors.Is(err, errUndoExhausted):
		metrics.SwipesTotal.WithLabelValues("undo", "denied").Inc()
		return Result{Reason: ReasonUndoExhausted, Message: d.Message}, nil, nil
	case err != nil:
		return Result{}, nil, fmt.Errorf("failed to undo swipe: %w", err)
	}

	last.Undone = true
	metrics.SwipesTotal.WithLabelValues("undo", "ok").Inc()
	return Result{Allowed: true, Remaining: d.Remaining}, last, nil
}

// ListSwipeHistory pages through the user's swipes, newest first.
func (m *StateMachine) ListSwipeHistory(
	ctx context.Context,
	userID string,
	token *string,
	limit int,
) ([]db.SwipeHistory, *string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if token != nil {
		if _, err := pagination.Decode(*token); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err)
		}
	}
	swipes, next, err := m.swipes.List(ctx, userID, token, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list swipes: %w", err)
	}
	return swipes, next, nil
}

// Edge is one entry in a relationships listing.
type Edge struct {
	UserID    string     `json:"user_id"`
	At        *time.Time `json:"at,omitempty"`
	ContentID string     `json:"content_id,omitempty"`
}

// Relationships is a user's view of every pair they are part of.
type Relationships struct {
	Matches      []Edge `json:"matches"`
	PendingLikes []Edge `json:"pending_likes"`
	Unmatched    []Edge `json:"unmatched"`
	Blocked      []Edge `json:"blocked"`
}

// GetRelationships lists the user's pairs by state. Read failures that
// mean "no data" degrade to an empty listing.
func (m *StateMachine) GetRelationships(ctx context.Context, userID string) (*Relationships, error) {
	out := &Relationships{
		Matches:      []Edge{},
		PendingLikes: []Edge{},
		Unmatched:    []Edge{},
		Blocked:      []Edge{},
	}
	rows, err := m.relations.ListByOwner(ctx, userID)
	if err != nil {
		if apperrors.IsReadDegradable(err) {
			m.log.Warn("relationships unavailable", "user", userID, "err", err)
			return out, nil
		}
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}

	for _, r := range rows {
		switch {
		case r.Blocked:
			out.Blocked = append(out.Blocked, Edge{UserID: r.OtherID, At: r.BlockedAt})
		case r.Status == db.RelationMatched:
			out.Matches = append(out.Matches, Edge{UserID: r.OtherID, At: r.MatchedAt, ContentID: r.MatchedContentID})
		case r.Status == db.RelationUnmatched:
			out.Unmatched = append(out.Unmatched, Edge{UserID: r.OtherID, ContentID: r.MatchedContentID})
		}
		if r.Liked && !r.Blocked && r.Status != db.RelationMatched {
			out.PendingLikes = append(out.PendingLikes, Edge{UserID: r.OtherID, At: r.LikedAt})
		}
	}
	return out, nil
}
