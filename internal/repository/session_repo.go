package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oggyb/cowatch/internal/db"

	"gorm.io/gorm"
)

// SessionRepository provides data access for WatchSession rows.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new repository bound to the given DB connection.
func NewSessionRepository(database *gorm.DB) *SessionRepository {
	return &SessionRepository{db: database}
}

// Replace makes s the user's only session.
//
// Behavior:
//   - Deletes every existing row for s.UserID and inserts s in one transaction.
//   - Two devices racing this call can still interleave on engines without
//     gap locks; readers dedup by StartedAt.
//
// Example:
//
//	repo.Replace(ctx, &db.WatchSession{UserID: "u1", ContentID: "550", ...})
func (r *SessionRepository) Replace(ctx context.Context, s *db.WatchSession) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", s.UserID).Delete(&db.WatchSession{}).Error; err != nil {
			return err
		}
		return tx.Create(s).Error
	})
}

// UpdateProgress moves the position of the user's session on contentID.
// Returns false when no such session exists (stale update racing a stop or
// a new start); that is not an error.
func (r *SessionRepository) UpdateProgress(
	ctx context.Context,
	userID, contentID string,
	position float64,
	at time.Time,
) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.WatchSession{}).
		Where("user_id = ? AND content_id = ?", userID, contentID).
		Updates(map[string]any{
			"position_seconds": position,
			"last_updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Remove deletes the user's sessions on contentID and returns the most
// recent one removed, or nil when nothing matched.
func (r *SessionRepository) Remove(ctx context.Context, userID, contentID string) (*db.WatchSession, error) {
	var removed *db.WatchSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s db.WatchSession
		err := tx.Where("user_id = ? AND content_id = ?", userID, contentID).
			Order("started_at DESC").
			First(&s).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("user_id = ? AND content_id = ?", userID, contentID).
			Delete(&db.WatchSession{}).Error; err != nil {
			return err
		}
		removed = &s
		return nil
	})
	return removed, err
}

// RemoveByID deletes one row. Returns false when it was already gone.
func (r *SessionRepository) RemoveByID(ctx context.Context, id uint64) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&db.WatchSession{}, id)
	return res.RowsAffected > 0, res.Error
}

// Current returns the user's latest session, or nil if they are not watching.
func (r *SessionRepository) Current(ctx context.Context, userID string) (*db.WatchSession, error) {
	var s db.WatchSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC, id DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListAll returns every session row, duplicates included.
func (r *SessionRepository) ListAll(ctx context.Context) ([]db.WatchSession, error) {
	var sessions []db.WatchSession
	err := r.db.WithContext(ctx).Order("id").Find(&sessions).Error
	return sessions, err
}

// ListStale returns sessions not updated since before.
func (r *SessionRepository) ListStale(ctx context.Context, before time.Time) ([]db.WatchSession, error) {
	var sessions []db.WatchSession
	err := r.db.WithContext(ctx).
		Where("last_updated_at < ?", before).
		Find(&sessions).Error
	return sessions, err
}
