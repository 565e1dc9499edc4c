package match

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oggyb/cowatch/internal/cache"
)

// Publisher delivers events to other instances.
type Publisher interface {
	Publish(ctx context.Context, channel string, v any) error
}

// MatchCreated is published once per mutual like. Push delivery listens
// for it on cache.ChannelMatch.
type MatchCreated struct {
	EventID   string    `json:"event_id"`
	UserA     string    `json:"user_a"`
	UserB     string    `json:"user_b"`
	ContentID string    `json:"content_id,omitempty"`
	MatchedAt time.Time `json:"matched_at"`
}

// Notifier fans match events out. A nil publisher makes it a no-op.
type Notifier struct {
	pub Publisher
	log *slog.Logger
}

func NewNotifier(pub Publisher, log *slog.Logger) *Notifier {
	return &Notifier{pub: pub, log: log}
}

// MatchCreated publishes the event. Delivery failures are logged, the match
// itself is already committed.
func (n *Notifier) MatchCreated(ctx context.Context, userA, userB, contentID string, at time.Time) {
	if n == nil || n.pub == nil {
		return
	}
	ev := MatchCreated{
		EventID:   uuid.NewString(),
		UserA:     userA,
		UserB:     userB,
		ContentID: contentID,
		MatchedAt: at,
	}
	if err := n.pub.Publish(ctx, cache.ChannelMatch, ev); err != nil {
		n.log.Warn("failed to publish match event", "event", ev.EventID, "user_a", userA, "user_b", userB, "err", err)
		return
	}
	n.log.Debug("match event published", "event", ev.EventID)
}
