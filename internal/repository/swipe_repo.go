package repository

import (
	"context"
	"errors"

	"github.com/oggyb/cowatch/internal/db"
	"github.com/oggyb/cowatch/internal/utils/pagination"

	"gorm.io/gorm"
)

// SwipeRepository keeps the like/pass audit trail.
type SwipeRepository struct {
	db *gorm.DB
}

// NewSwipeRepository creates a new repository bound to the given DB connection.
func NewSwipeRepository(database *gorm.DB) *SwipeRepository {
	return &SwipeRepository{db: database}
}

// WithTx returns a repository that runs its statements inside tx.
func (r *SwipeRepository) WithTx(tx *gorm.DB) *SwipeRepository {
	return &SwipeRepository{db: tx}
}

func (r *SwipeRepository) Record(ctx context.Context, s *db.SwipeHistory) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// LastActive returns the user's newest swipe that has not been undone,
// or nil when there is none.
func (r *SwipeRepository) LastActive(ctx context.Context, userID string) (*db.SwipeHistory, error) {
	var s db.SwipeHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND undone = ?", userID, false).
		Order("created_at DESC, id DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkUndone flags an entry as undone. Returns false if another request
// already undid it.
func (r *SwipeRepository) MarkUndone(ctx context.Context, id uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.SwipeHistory{}).
		Where("id = ? AND undone = ?", id, false).
		Update("undone", true)
	return res.RowsAffected > 0, res.Error
}

// List returns the user's swipes newest first.
//
// Behavior:
//   - Ordered by created_at DESC, id DESC.
//   - Supports cursor-based pagination via paginationToken.
//   - nextToken is nil on the last page.
//
// Example:
//
//	repo.List(ctx, "u1", nil, 20)
func (r *SwipeRepository) List(
	ctx context.Context,
	userID string,
	paginationToken *string,
	limit int,
) ([]db.SwipeHistory, *string, error) {
	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if !cursor.IsZero() {
		ts := cursor.CreatedAt()
		query = query.Where(
			"(created_at < ? OR (created_at = ? AND id < ?))",
			ts, ts, cursor.ID,
		)
	}

	var swipes []db.SwipeHistory
	if err := query.Find(&swipes).Error; err != nil {
		return nil, nil, err
	}

	var nextToken *string
	if len(swipes) > limit {
		last := swipes[limit-1]
		token, _ := pagination.Encode(pagination.At(last.ID, last.CreatedAt))
		nextToken = &token
		swipes = swipes[:limit]
	}
	return swipes, nextToken, nil
}

func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
