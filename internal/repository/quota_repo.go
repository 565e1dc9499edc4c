package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oggyb/cowatch/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaRepository mutates QuotaRecord rows with single conditional UPDATE
// statements so concurrent devices can never lose an increment.
//
// Assignment order inside each SET list matters: MySQL evaluates left to
// right using already-assigned values, SQLite uses the old row. Every
// statement below reads a column before it is reassigned so both agree.
type QuotaRepository struct {
	db *gorm.DB
}

// NewQuotaRepository creates a new repository bound to the given DB connection.
func NewQuotaRepository(database *gorm.DB) *QuotaRepository {
	return &QuotaRepository{db: database}
}

// WithTx returns a repository that runs its statements inside tx.
func (r *QuotaRepository) WithTx(tx *gorm.DB) *QuotaRepository {
	return &QuotaRepository{db: tx}
}

// Ensure creates a free-tier record for the user if none exists.
func (r *QuotaRepository) Ensure(ctx context.Context, userID string, swipeLimit, undoLimit int, today string) error {
	rec := db.QuotaRecord{
		UserID:           userID,
		DailySwipesLimit: swipeLimit,
		LastResetDate:    today,
		UndoCount:        undoLimit,
		UndoLimit:        undoLimit,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

// Get returns the user's record or ErrRecordNotFound.
func (r *QuotaRepository) Get(ctx context.Context, userID string) (*db.QuotaRecord, error) {
	var rec db.QuotaRecord
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ResetIfStale starts a new quota day when the stored date differs from today.
//
// Behavior:
//   - dailySwipesUsed is zeroed.
//   - Purchased extras pay for the part of yesterday's usage above the daily
//     limit; what is left carries over.
//   - undoCount is refilled to undoLimit unless undos are unlimited.
//   - Only one concurrent caller observes true.
func (r *QuotaRepository) ResetIfStale(ctx context.Context, userID, today string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE quota_records SET
			extra_swipes_purchased = CASE
				WHEN daily_swipes_limit >= 0 AND daily_swipes_used > daily_swipes_limit THEN
					CASE
						WHEN extra_swipes_purchased > daily_swipes_used - daily_swipes_limit
						THEN extra_swipes_purchased - (daily_swipes_used - daily_swipes_limit)
						ELSE 0
					END
				ELSE extra_swipes_purchased
			END,
			daily_swipes_used = 0,
			undo_count = CASE WHEN undo_limit = -1 THEN undo_count ELSE undo_limit END,
			last_reset_date = ?,
			updated_at = ?
		WHERE user_id = ? AND last_reset_date <> ?`,
		today, now, userID, today,
	)
	return res.RowsAffected > 0, res.Error
}

// RevertExpiredPremium drops the user back to the free tier when their
// premium expired at or before now. Usage made while unlimited is cleared so
// the next reset never charges it to purchased extras.
func (r *QuotaRepository) RevertExpiredPremium(
	ctx context.Context,
	userID string,
	swipeLimit, undoLimit int,
	now time.Time,
) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE quota_records SET
			is_premium = ?,
			daily_swipes_limit = ?,
			undo_limit = ?,
			undo_count = ?,
			daily_swipes_used = 0,
			premium_expires_at = NULL,
			updated_at = ?
		WHERE user_id = ? AND is_premium = ? AND premium_expires_at IS NOT NULL AND premium_expires_at <= ?`,
		false, swipeLimit, undoLimit, undoLimit, now, userID, true, now,
	)
	return res.RowsAffected > 0, res.Error
}

// ListExpiredPremium returns users whose premium has lapsed.
func (r *QuotaRepository) ListExpiredPremium(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&db.QuotaRecord{}).
		Where("is_premium = ? AND premium_expires_at IS NOT NULL AND premium_expires_at <= ?", true, now).
		Order("user_id").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

// IncrementUsed charges one swipe if the user still has budget.
// Returns false when the budget was already exhausted.
func (r *QuotaRepository) IncrementUsed(ctx context.Context, userID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE quota_records SET
			daily_swipes_used = daily_swipes_used + 1,
			updated_at = ?
		WHERE user_id = ?
			AND (daily_swipes_limit = -1 OR daily_swipes_used < daily_swipes_limit + extra_swipes_purchased)`,
		now, userID,
	)
	return res.RowsAffected > 0, res.Error
}

// DecrementUsed refunds one swipe, floored at zero.
func (r *QuotaRepository) DecrementUsed(ctx context.Context, userID string, now time.Time) error {
	return r.db.WithContext(ctx).Exec(`
		UPDATE quota_records SET
			daily_swipes_used = daily_swipes_used - 1,
			updated_at = ?
		WHERE user_id = ? AND daily_swipes_used > 0`,
		now, userID,
	).Error
}

// ConsumeUndo spends one undo (unless unlimited) and refunds one swipe.
// Returns false when no undo was available.
func (r *QuotaRepository) ConsumeUndo(ctx context.Context, userID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE quota_records SET
			undo_count = CASE WHEN undo_limit = -1 THEN undo_count ELSE undo_count - 1 END,
			daily_swipes_used = CASE WHEN daily_swipes_used > 0 THEN daily_swipes_used - 1 ELSE 0 END,
			updated_at = ?
		WHERE user_id = ? AND (undo_limit = -1 OR undo_count > 0)`,
		now, userID,
	)
	return res.RowsAffected > 0, res.Error
}

// AddExtra adds purchased swipes.
func (r *QuotaRepository) AddExtra(ctx context.Context, userID string, amount int, now time.Time) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE quota_records SET
			extra_swipes_purchased = extra_swipes_purchased + ?,
			updated_at = ?
		WHERE user_id = ?`,
		amount, now, userID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetPremium grants unlimited swipes and undos until expiresAt.
func (r *QuotaRepository) SetPremium(ctx context.Context, userID string, expiresAt *time.Time, now time.Time) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE quota_records SET
			is_premium = ?,
			daily_swipes_limit = -1,
			undo_limit = -1,
			undo_count = -1,
			premium_expires_at = ?,
			updated_at = ?
		WHERE user_id = ?`,
		true, expiresAt, now, userID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsNotFound reports whether err means the quota row is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
