// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"testing"
	"time"

	"github.com/oggyb/cowatch/internal/db"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a fresh schema. The pool is pinned to one connection since
// every new connection to ":memory:" would see an empty database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return database
}

// SeedUsers inserts active users with the given ids.
func SeedUsers(t testing.TB, database *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		u := db.User{
			ID:           id,
			Username:     id,
			Email:        id + "@example.com",
			PasswordHash: "x",
			DisplayName:  "User " + id,
			Active:       true,
		}
		if err := database.Create(&u).Error; err != nil {
			t.Fatalf("failed to seed user %s: %v", id, err)
		}
	}
}
