// Package presence tracks what each user is watching right now.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oggyb/cowatch/internal/cache"
	"github.com/oggyb/cowatch/internal/content"
	"github.com/oggyb/cowatch/internal/db"
	apperrors "github.com/oggyb/cowatch/internal/errors"
	"github.com/oggyb/cowatch/internal/metrics"
	"github.com/oggyb/cowatch/internal/repository"
)

// Publisher fans presence events out to other instances.
type Publisher interface {
	Publish(ctx context.Context, channel string, v any) error
}

// StartRequest describes a new viewing session.
type StartRequest struct {
	UserID          string
	ContentID       string
	MediaType       content.MediaType
	PositionSeconds float64
	DurationSeconds float64
	Title           string
	PosterPath      string
}

// Tracker owns the single-session-per-user state.
type Tracker struct {
	sessions *repository.SessionRepository
	history  *repository.HistoryRepository
	users    *repository.UserRepository
	pub      Publisher
	clock    clockwork.Clock
	log      *slog.Logger
}

// NewTracker wires a Tracker. pub may be nil, in which case other
// instances only see changes on their next poll.
func NewTracker(
	sessions *repository.SessionRepository,
	history *repository.HistoryRepository,
	users *repository.UserRepository,
	pub Publisher,
	clock clockwork.Clock,
	log *slog.Logger,
) *Tracker {
	return &Tracker{
		sessions: sessions,
		history:  history,
		users:    users,
		pub:      pub,
		clock:    clock,
		log:      log,
	}
}

// StartWatching replaces whatever the user was watching with req.
// It never merges with the previous session.
func (t *Tracker) StartWatching(ctx context.Context, req StartRequest) (*db.WatchSession, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrInvalidArgument)
	}
	id, err := content.ParseID(req.ContentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err)
	}
	if req.PositionSeconds < 0 || req.DurationSeconds < 0 {
		return nil, fmt.Errorf("%w: negative position or duration", apperrors.ErrInvalidArgument)
	}

	now := t.clock.Now().UTC()
	s := &db.WatchSession{
		UserID:          req.UserID,
		ContentID:       content.FormatID(id),
		MediaType:       string(req.MediaType),
		Title:           req.Title,
		PosterPath:      req.PosterPath,
		PositionSeconds: req.PositionSeconds,
		DurationSeconds: req.DurationSeconds,
		StartedAt:       now,
		LastUpdatedAt:   now,
	}
	if err := t.sessions.Replace(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	t.touch(ctx, req.UserID, now)
	t.emit(ctx, Event{
		Type:      EventStarted,
		UserID:    s.UserID,
		ContentID: s.ContentID,
		MediaType: s.MediaType,
		Position:  s.PositionSeconds,
		Duration:  s.DurationSeconds,
		StartedAt: s.StartedAt,
		At:        now,
	})
	return s, nil
}

// UpdateProgress moves the user's position on contentID.
// A stale update (different content or no session) is dropped and reports false.
func (t *Tracker) UpdateProgress(ctx context.Context, userID, contentID string, position float64) (bool, error) {
	id, err := content.ParseID(contentID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err)
	}
	if position < 0 {
		return false, fmt.Errorf("%w: negative position", apperrors.ErrInvalidArgument)
	}

	now := t.clock.Now().UTC()
	canonical := content.FormatID(id)
	ok, err := t.sessions.UpdateProgress(ctx, userID, canonical, position, now)
	if err != nil {
		return false, fmt.Errorf("failed to update progress: %w", err)
	}
	if !ok {
		t.log.Debug("dropping stale progress update", "user", userID, "content", canonical)
		return false, nil
	}

	t.touch(ctx, userID, now)
	t.emit(ctx, Event{
		Type:      EventProgress,
		UserID:    userID,
		ContentID: canonical,
		Position:  position,
		At:        now,
	})
	return true, nil
}

// StopWatching ends the user's session on contentID. Stopping content the
// user is not watching is a no-op.
func (t *Tracker) StopWatching(ctx context.Context, userID, contentID string) error {
	id, err := content.ParseID(contentID)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err)
	}

	removed, err := t.sessions.Remove(ctx, userID, content.FormatID(id))
	if err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}
	if removed == nil {
		return nil
	}

	now := t.clock.Now().UTC()
	t.finish(ctx, removed, now)
	t.touch(ctx, userID, now)
	return nil
}

// Current returns the user's session. Read failures degrade to "not watching".
func (t *Tracker) Current(ctx context.Context, userID string) *db.WatchSession {
	s, err := t.sessions.Current(ctx, userID)
	if err != nil {
		t.log.Warn("failed to load current session", "user", userID, "err", err)
		return nil
	}
	return s
}

// ReapStale ends sessions that have not been updated for staleAfter,
// as if the user had stopped watching. Returns how many were removed.
func (t *Tracker) ReapStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	now := t.clock.Now().UTC()
	stale, err := t.sessions.ListStale(ctx, now.Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	reaped := 0
	for i := range stale {
		s := &stale[i]
		ok, err := t.sessions.RemoveByID(ctx, s.ID)
		if err != nil {
			t.log.Warn("failed to reap session", "user", s.UserID, "session", s.ID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		t.finish(ctx, s, now)
		reaped++
	}
	if reaped > 0 {
		metrics.SessionsReaped.Add(float64(reaped))
	}
	return reaped, nil
}

// finish records history for an ended session and announces it.
func (t *Tracker) finish(ctx context.Context, s *db.WatchSession, now time.Time) {
	h := &db.WatchHistory{
		UserID:    s.UserID,
		ContentID: s.ContentID,
		MediaType: s.MediaType,
		Progress:  ProgressPercent(s.PositionSeconds, s.DurationSeconds),
		WatchedAt: now,
	}
	if err := t.history.Append(ctx, h); err != nil {
		t.log.Warn("failed to append watch history", "user", s.UserID, "content", s.ContentID, "err", err)
	}

	t.emit(ctx, Event{
		Type:      EventStopped,
		UserID:    s.UserID,
		ContentID: s.ContentID,
		MediaType: s.MediaType,
		Position:  s.PositionSeconds,
		StartedAt: s.StartedAt,
		At:        now,
	})
}

func (t *Tracker) touch(ctx context.Context, userID string, at time.Time) {
	if t.users == nil {
		return
	}
	if err := t.users.Touch(ctx, userID, at); err != nil {
		t.log.Warn("failed to record activity", "user", userID, "err", err)
	}
}

func (t *Tracker) emit(ctx context.Context, ev Event) {
	metrics.PresenceEvents.WithLabelValues(string(ev.Type)).Inc()
	if t.pub == nil {
		return
	}
	if err := t.pub.Publish(ctx, cache.ChannelPresence, ev); err != nil {
		t.log.Warn("failed to publish presence event", "type", ev.Type, "user", ev.UserID, "err", err)
	}
}

// ProgressPercent converts a position into 0..100. Unknown duration gives 0.
func ProgressPercent(position, duration float64) float64 {
	if duration <= 0 || position <= 0 {
		return 0
	}
	p := position / duration * 100
	if p > 100 {
		return 100
	}
	return p
}
