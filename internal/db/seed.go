package db

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedUserCount is how many demo users SeedTestData creates.
const SeedUserCount = 20

// seedContent is a small catalog of TMDB ids. A few are spelled the way old
// clients wrote them so the canonicalization paths get exercised.
var seedContent = []struct {
	id        string
	mediaType string
	title     string
}{
	{"603", "movie", "The Matrix"},
	{"603.0", "movie", "The Matrix"},
	{"550", "movie", "Fight Club"},
	{"1396", "tv", "Breaking Bad"},
	{"1399", "tv", "Game of Thrones"},
	{"27205", "movie", ""},
}

// SeedTestData resets the database and populates it with demo data.
//
// Behavior:
//  1. Clears every table.
//  2. Creates SeedUserCount users (user1..userN) sharing the password "password".
//  3. Puts most users in a live session, several on the same content.
//  4. Writes a month of watch history per user.
//  5. Adds mirrored relations: every 3rd pair matched, some pending likes,
//     one unmatched pair and one mutual block.
//
// Compatible with both MySQL and SQLite.
func SeedTestData(db *gorm.DB, log *slog.Logger) error {
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	now := time.Now().UTC()

	// --- Fresh start ---
	for _, table := range []string{"swipe_histories", "quota_records", "relations", "watch_histories", "watch_sessions", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	switch db.Dialector.Name() {
	case "mysql":
		db.Exec("ALTER TABLE watch_sessions AUTO_INCREMENT = 1")
		db.Exec("ALTER TABLE watch_histories AUTO_INCREMENT = 1")
		db.Exec("ALTER TABLE swipe_histories AUTO_INCREMENT = 1")
	case "sqlite":
		db.Exec("DELETE FROM sqlite_sequence WHERE name IN ('watch_sessions','watch_histories','swipe_histories')")
	}
	log.Info("cleared existing data")

	// --- Users ---
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	users := make([]User, 0, SeedUserCount)
	for i := 1; i <= SeedUserCount; i++ {
		users = append(users, User{
			ID:           SeedUserID(i),
			Username:     fmt.Sprintf("user%d", i),
			Email:        fmt.Sprintf("user%d@example.com", i),
			PasswordHash: string(hash),
			DisplayName:  fmt.Sprintf("User %d", i),
			Active:       true,
			LastActiveAt: now.Add(-time.Duration(r.IntN(120)) * time.Second),
		})
	}
	if err := db.Create(&users).Error; err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}
	log.Info("seeded users", "count", len(users))

	// --- Live sessions: every 4th user is idle ---
	var sessions []WatchSession
	for i := 1; i <= SeedUserCount; i++ {
		if i%4 == 0 {
			continue
		}
		c := seedContent[r.IntN(len(seedContent))]
		started := now.Add(-time.Duration(r.IntN(90)) * time.Minute)
		sessions = append(sessions, WatchSession{
			UserID:          SeedUserID(i),
			ContentID:       c.id,
			MediaType:       c.mediaType,
			Title:           c.title,
			PositionSeconds: float64(r.IntN(3600)),
			DurationSeconds: 7200,
			StartedAt:       started,
			LastUpdatedAt:   now.Add(-time.Duration(r.IntN(60)) * time.Second),
		})
	}
	if err := db.Create(&sessions).Error; err != nil {
		return fmt.Errorf("failed to seed sessions: %w", err)
	}

	// --- History: ~8 finished views per user in the last 30 days ---
	var history []WatchHistory
	for i := 1; i <= SeedUserCount; i++ {
		for j := 0; j < 8; j++ {
			c := seedContent[r.IntN(len(seedContent))]
			history = append(history, WatchHistory{
				UserID:    SeedUserID(i),
				ContentID: c.id,
				MediaType: c.mediaType,
				Progress:  r.Float64(),
				WatchedAt: now.Add(-time.Duration(r.IntN(30*24)) * time.Hour),
			})
		}
	}
	if err := db.CreateInBatches(&history, 100).Error; err != nil {
		return fmt.Errorf("failed to seed history: %w", err)
	}
	log.Info("seeded activity", "sessions", len(sessions), "history", len(history))

	// --- Relations ---
	counter := 0
	for a := 1; a <= SeedUserCount; a++ {
		for j := 0; j < 3; j++ {
			b := r.IntN(SeedUserCount) + 1
			if a == b {
				continue
			}
			var pair []Relation
			if counter%3 == 0 {
				pair = seedMatch(SeedUserID(a), SeedUserID(b), seedContent[r.IntN(len(seedContent))].id, now)
			} else {
				pair = seedLike(SeedUserID(a), SeedUserID(b), now)
			}
			if err := upsertRelations(db, pair); err != nil {
				return err
			}
			counter++
		}
	}

	// fixed edge cases so the listing endpoints always have something to show
	unmatched := seedMatch(SeedUserID(1), SeedUserID(2), "550", now)
	for i := range unmatched {
		unmatched[i].Status = RelationUnmatched
		unmatched[i].MatchedAt = nil
	}
	blocked := []Relation{
		{OwnerID: SeedUserID(3), OtherID: SeedUserID(4), Blocked: true, BlockedAt: &now, UpdatedAt: now},
		{OwnerID: SeedUserID(4), OtherID: SeedUserID(3), Blocked: true, BlockedAt: &now, UpdatedAt: now},
	}
	if err := upsertRelations(db, append(unmatched, blocked...)); err != nil {
		return err
	}
	log.Info("seeded relations", "pairs", counter+2)

	return nil
}

// SeedUserID is the id SeedTestData gives its i-th user.
func SeedUserID(i int) string {
	return fmt.Sprintf("user-%02d", i)
}

func seedMatch(a, b, contentID string, now time.Time) []Relation {
	at := now.Add(-time.Hour)
	return []Relation{
		{OwnerID: a, OtherID: b, Status: RelationMatched, MatchedAt: &at, MatchedContentID: contentID, UpdatedAt: now},
		{OwnerID: b, OtherID: a, Status: RelationMatched, MatchedAt: &at, MatchedContentID: contentID, UpdatedAt: now},
	}
}

// seedLike is a pending like. The reverse row is written so the pair is
// mirrored, but carries no state of its own.
func seedLike(a, b string, now time.Time) []Relation {
	at := now.Add(-30 * time.Minute)
	return []Relation{
		{OwnerID: a, OtherID: b, Liked: true, LikedAt: &at, UpdatedAt: now},
		{OwnerID: b, OtherID: a, UpdatedAt: now},
	}
}

// upsertRelations writes whole rows; a later seed pair replaces an earlier
// one for the same users.
func upsertRelations(db *gorm.DB, rows []Relation) error {
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "other_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"liked", "liked_at", "status", "matched_at", "matched_content_id", "blocked", "blocked_at", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to seed relations: %w", err)
	}
	return nil
}
