package repository

import (
	"context"
	"time"

	"github.com/oggyb/cowatch/internal/db"

	"gorm.io/gorm"
)

// UserSummary is the slice of a profile shown next to a viewer or candidate.
type UserSummary struct {
	ID           string
	DisplayName  string
	PhotoURL     string
	LastActiveAt time.Time
}

// UserRepository reads profile summaries.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(database *gorm.DB) *UserRepository {
	return &UserRepository{db: database}
}

// Summaries loads active users by id. Unknown ids are simply absent from
// the result.
func (r *UserRepository) Summaries(ctx context.Context, ids []string) (map[string]UserSummary, error) {
	out := make(map[string]UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var users []db.User
	err := r.db.WithContext(ctx).
		Select("id", "username", "display_name", "photo_url", "last_active_at").
		Where("id IN ? AND active = ?", ids, true).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		name := u.DisplayName
		if name == "" {
			name = u.Username
		}
		out[u.ID] = UserSummary{
			ID:           u.ID,
			DisplayName:  name,
			PhotoURL:     u.PhotoURL,
			LastActiveAt: u.LastActiveAt,
		}
	}
	return out, nil
}

// Exists reports whether an active user with the id exists.
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id = ? AND active = ?", id, true).
		Count(&n).Error
	return n > 0, err
}

// Touch records activity for the user.
func (r *UserRepository) Touch(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id = ?", id).
		Update("last_active_at", at).Error
}
