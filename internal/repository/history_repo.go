package repository

import (
	"context"
	"time"

	"github.com/oggyb/cowatch/internal/db"

	"gorm.io/gorm"
)

// HistoryRepository stores finished viewing activity used for scoring.
type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(database *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: database}
}

func (r *HistoryRepository) Append(ctx context.Context, h *db.WatchHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

// ListForUsers returns history newer than since, grouped by user and
// ordered newest first within each user.
func (r *HistoryRepository) ListForUsers(
	ctx context.Context,
	userIDs []string,
	since time.Time,
) (map[string][]db.WatchHistory, error) {
	out := make(map[string][]db.WatchHistory, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	var rows []db.WatchHistory
	err := r.db.WithContext(ctx).
		Where("user_id IN ? AND watched_at >= ?", userIDs, since).
		Order("watched_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, h := range rows {
		out[h.UserID] = append(out[h.UserID], h)
	}
	return out, nil
}
