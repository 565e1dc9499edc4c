package db

import (
	"time"
)

// User is the profile row the matching core reads summaries from.
// IDs are opaque strings handed out by the identity provider.
type User struct {
	ID           string `gorm:"primaryKey;size:64"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	DisplayName  string `gorm:"size:128"`
	PhotoURL     string `gorm:"size:512"`
	Active       bool   `gorm:"default:true"`
	LastActiveAt time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// WatchSession is one user's current viewing activity.
//
// UserID is indexed but deliberately not unique: two devices racing
// StartWatching can leave two rows for a user until the next write, and
// readers resolve that by picking the greatest StartedAt.
//
// ContentID is stored as text. The tracker writes the canonical form, but
// rows from older clients may hold "550.0" or worse, so readers always go
// through content.ParseID.
type WatchSession struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement"`
	UserID          string    `gorm:"size:64;not null;index:idx_session_user_content,priority:1"`
	ContentID       string    `gorm:"size:64;not null;index:idx_session_user_content,priority:2"`
	MediaType       string    `gorm:"size:16;not null"`
	Title           string    `gorm:"size:255"`
	PosterPath      string    `gorm:"size:512"`
	PositionSeconds float64   `gorm:"not null;default:0"`
	DurationSeconds float64   `gorm:"not null;default:0"`
	StartedAt       time.Time `gorm:"not null"`
	LastUpdatedAt   time.Time `gorm:"not null;index"`
}

// WatchHistory is appended whenever a session ends.
type WatchHistory struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"size:64;not null;index:idx_history_user_watched,priority:1"`
	ContentID string    `gorm:"size:64;not null"`
	MediaType string    `gorm:"size:16;not null"`
	Progress  float64   `gorm:"not null;default:0"`
	WatchedAt time.Time `gorm:"not null;index:idx_history_user_watched,priority:2,sort:desc"`
}

// RelationStatus is the match state an owner holds for another user.
type RelationStatus string

const (
	RelationNone      RelationStatus = ""
	RelationMatched   RelationStatus = "matched"
	RelationUnmatched RelationStatus = "unmatched"
)

// Relation is one side of a user pair: what Owner's record says about Other.
//
// Composite PK: (OwnerID, OtherID)
//   - Every pair is stored twice, once per owner, mirroring the per-user
//     relationship lists of the document model.
//   - Status must match the reverse row; Blocked is per side.
//
// Fields:
//   - Liked: Owner liked Other and is waiting for a like back.
//   - Status: matched / unmatched / none.
//   - Blocked: Owner has Other in their blocked set.
type Relation struct {
	OwnerID          string         `gorm:"primaryKey;size:64"`
	OtherID          string         `gorm:"primaryKey;size:64;index"`
	Liked            bool           `gorm:"not null;default:false"`
	LikedAt          *time.Time
	Status           RelationStatus `gorm:"size:16;not null;default:'';index"`
	MatchedAt        *time.Time
	MatchedContentID string `gorm:"size:64"`
	Blocked          bool   `gorm:"not null;default:false;index"`
	BlockedAt        *time.Time
	UpdatedAt        time.Time
}

// QuotaRecord is a user's daily swipe/undo budget.
// A limit of -1 means unlimited (premium).
type QuotaRecord struct {
	UserID               string `gorm:"primaryKey;size:64"`
	DailySwipesUsed      int    `gorm:"not null;default:0"`
	DailySwipesLimit     int    `gorm:"not null"`
	LastResetDate        string `gorm:"size:10;not null"`
	UndoCount            int    `gorm:"not null"`
	UndoLimit            int    `gorm:"not null"`
	ExtraSwipesPurchased int    `gorm:"not null;default:0"`
	IsPremium            bool   `gorm:"not null;default:false;index"`
	PremiumExpiresAt     *time.Time
	UpdatedAt            time.Time
}

// SwipeAction is what a user did to a candidate.
type SwipeAction string

const (
	SwipeLike SwipeAction = "like"
	SwipePass SwipeAction = "pass"
)

// SwipeHistory is the audit trail that undo pops from.
type SwipeHistory struct {
	ID        uint64      `gorm:"primaryKey;autoIncrement"`
	UserID    string      `gorm:"size:64;not null;index:idx_swipe_user_created,priority:1"`
	TargetID  string      `gorm:"size:64;not null"`
	Action    SwipeAction `gorm:"size:8;not null"`
	Undone    bool        `gorm:"not null;default:false"`
	CreatedAt time.Time   `gorm:"precision:6;not null;index:idx_swipe_user_created,priority:2,sort:desc"`
}

// AllModels lists every table for AutoMigrate.
func AllModels() []any {
	return []any{
		&User{},
		&WatchSession{},
		&WatchHistory{},
		&Relation{},
		&QuotaRecord{},
		&SwipeHistory{},
	}
}
