package cowatch

import (
	"time"

	"github.com/oggyb/cowatch/internal/compat"
	"github.com/oggyb/cowatch/internal/content"
	"github.com/oggyb/cowatch/internal/coviewing"
	"github.com/oggyb/cowatch/internal/db"
)

// Empty is used by calls that take or return nothing.
type Empty struct{}

type StartWatchingRequest struct {
	ContentID       content.RawID `json:"content_id" validate:"required"`
	MediaType       string        `json:"media_type" validate:"required,oneof=movie tv"`
	PositionSeconds float64       `json:"position_seconds" validate:"gte=0"`
	DurationSeconds float64       `json:"duration_seconds" validate:"gte=0"`
	Title           string        `json:"title,omitempty" validate:"max=512"`
	PosterPath      string        `json:"poster_path,omitempty" validate:"max=512"`
}

type UpdateProgressRequest struct {
	ContentID       content.RawID `json:"content_id" validate:"required"`
	PositionSeconds float64       `json:"position_seconds" validate:"gte=0"`
}

type StopWatchingRequest struct {
	ContentID content.RawID `json:"content_id" validate:"required"`
}

// Session is the caller's current viewing session.
type Session struct {
	ContentID       string    `json:"content_id"`
	MediaType       string    `json:"media_type"`
	PositionSeconds float64   `json:"position_seconds"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

func sessionFrom(s *db.WatchSession) *Session {
	if s == nil {
		return nil
	}
	return &Session{
		ContentID:       s.ContentID,
		MediaType:       s.MediaType,
		PositionSeconds: s.PositionSeconds,
		DurationSeconds: s.DurationSeconds,
		StartedAt:       s.StartedAt,
		LastUpdatedAt:   s.LastUpdatedAt,
	}
}

type SessionResponse struct {
	Session *Session `json:"session"`
}

type UpdateProgressResponse struct {
	// Applied is false when the update was dropped as stale.
	Applied bool `json:"applied"`
}

// GroupView is one content group with its viewers in id order.
type GroupView struct {
	ContentID   int64              `json:"content_id"`
	MediaType   string             `json:"media_type"`
	Metadata    content.Metadata   `json:"metadata"`
	ViewerCount int                `json:"viewer_count"`
	Viewers     []coviewing.Viewer `json:"viewers"`
	StartedAt   time.Time          `json:"started_at"`
}

type GroupsResponse struct {
	Groups  []GroupView `json:"groups"`
	Version uint64      `json:"version"`
	BuiltAt time.Time   `json:"built_at"`
}

func groupsFrom(snap *coviewing.Snapshot) *GroupsResponse {
	out := &GroupsResponse{
		Groups:  make([]GroupView, 0, len(snap.Groups)),
		Version: snap.Version,
		BuiltAt: snap.BuiltAt,
	}
	for _, g := range snap.Groups {
		ids := g.ViewerIDs()
		viewers := make([]coviewing.Viewer, 0, len(ids))
		for _, id := range ids {
			viewers = append(viewers, g.Viewers[id])
		}
		out.Groups = append(out.Groups, GroupView{
			ContentID:   g.ContentID,
			MediaType:   string(g.MediaType),
			Metadata:    g.Metadata,
			ViewerCount: len(viewers),
			Viewers:     viewers,
			StartedAt:   g.StartedAt,
		})
	}
	return out
}

type MatchesResponse struct {
	Candidates []compat.Candidate `json:"candidates"`
}

// Limits is the caller's quota after day rollover.
type Limits struct {
	DailySwipesUsed      int        `json:"daily_swipes_used"`
	DailySwipesLimit     int        `json:"daily_swipes_limit"`
	ExtraSwipesPurchased int        `json:"extra_swipes_purchased"`
	UndoCount            int        `json:"undo_count"`
	UndoLimit            int        `json:"undo_limit"`
	LastResetDate        string     `json:"last_reset_date"`
	IsPremium            bool       `json:"is_premium"`
	PremiumExpiresAt     *time.Time `json:"premium_expires_at,omitempty"`
}

func limitsFrom(r *db.QuotaRecord) *Limits {
	return &Limits{
		DailySwipesUsed:      r.DailySwipesUsed,
		DailySwipesLimit:     r.DailySwipesLimit,
		ExtraSwipesPurchased: r.ExtraSwipesPurchased,
		UndoCount:            r.UndoCount,
		UndoLimit:            r.UndoLimit,
		LastResetDate:        r.LastResetDate,
		IsPremium:            r.IsPremium,
		PremiumExpiresAt:     r.PremiumExpiresAt,
	}
}

type TargetRequest struct {
	TargetUserID string `json:"target_user_id" validate:"required,max=64"`
}

type LikeRequest struct {
	TargetUserID string        `json:"target_user_id" validate:"required,max=64"`
	ContentID    content.RawID `json:"content_id,omitempty"`
}

type RestoreMatchRequest struct {
	TargetUserID string        `json:"target_user_id" validate:"required,max=64"`
	ContentID    content.RawID `json:"content_id,omitempty"`
}

// Swipe is one swipe history entry.
type Swipe struct {
	ID           uint64    `json:"id"`
	TargetUserID string    `json:"target_user_id"`
	Action       string    `json:"action"`
	Undone       bool      `json:"undone"`
	CreatedAt    time.Time `json:"created_at"`
}

func swipeFrom(s *db.SwipeHistory) *Swipe {
	if s == nil {
		return nil
	}
	return &Swipe{
		ID:           s.ID,
		TargetUserID: s.TargetID,
		Action:       string(s.Action),
		Undone:       s.Undone,
		CreatedAt:    s.CreatedAt,
	}
}

type UndoResponse struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Remaining int    `json:"remaining"`
	Swipe     *Swipe `json:"swipe,omitempty"`
}

// AddExtraSwipesRequest credits a completed purchase to UserID. Only
// trusted internal callers may send it.
type AddExtraSwipesRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	Amount int    `json:"amount" validate:"gt=0,lte=1000"`
}

// SetPremiumRequest grants premium to UserID. Only trusted internal callers
// may send it.
type SetPremiumRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	// ExpiresAt nil grants premium without expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type ListSwipeHistoryRequest struct {
	PaginationToken *string `json:"pagination_token,omitempty"`
	Limit           int     `json:"limit,omitempty" validate:"omitempty,gte=1,lte=100"`
}

type ListSwipeHistoryResponse struct {
	Swipes              []Swipe `json:"swipes"`
	NextPaginationToken *string `json:"next_pagination_token,omitempty"`
}
