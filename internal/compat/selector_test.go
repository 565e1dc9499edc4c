package compat_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oggyb/cowatch/internal/compat"
	"github.com/oggyb/cowatch/internal/content"
	"github.com/oggyb/cowatch/internal/coviewing"
	"github.com/oggyb/cowatch/internal/db"
	"github.com/oggyb/cowatch/internal/db/dbtest"
	"github.com/oggyb/cowatch/internal/logger"
	"github.com/oggyb/cowatch/internal/presence"
	"github.com/oggyb/cowatch/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	clock    *clockwork.FakeClock
	tracker  *presence.Tracker
	agg      *coviewing.Aggregator
	selector *compat.Selector
}

func setup(t *testing.T, maxCandidates int) *fixture {
	t.Helper()
	database := dbtest.Open(t)
	clock := clockwork.NewFakeClockAt(t0)

	sessions := repository.NewSessionRepository(database)
	history := repository.NewHistoryRepository(database)
	users := repository.NewUserRepository(database)
	tracker := presence.NewTracker(sessions, history, users, nil, clock, logger.Discard())
	agg := coviewing.New(sessions, users, nil, nil, clock, logger.Discard(), coviewing.Options{})
	selector := compat.NewSelector(
		agg, sessions, history, repository.NewRelationRepository(database), users,
		compat.DefaultScorer(), clock, rand.New(rand.NewPCG(1, 2)), logger.Discard(),
		compat.SelectorOptions{MaxCandidates: maxCandidates},
	)
	return &fixture{db: database, clock: clock, tracker: tracker, agg: agg, selector: selector}
}

func (f *fixture) watch(t *testing.T, user, contentID string) {
	t.Helper()
	_, err := f.tracker.StartWatching(context.Background(), presence.StartRequest{
		UserID: user, ContentID: contentID, MediaType: content.MediaMovie, DurationSeconds: 6000,
	})
	require.NoError(t, err)
}

func (f *fixture) matches(t *testing.T, user string) []compat.Candidate {
	t.Helper()
	require.NoError(t, f.agg.Rebuild(context.Background()))
	got, err := f.selector.RealTimeMatches(context.Background(), user)
	require.NoError(t, err)
	return got
}

func ids(c []compat.Candidate) []string {
	out := make([]string, 0, len(c))
	for _, x := range c {
		out = append(out, x.UserID)
	}
	return out
}

func TestMatchesShareContent(t *testing.T) {
	f := setup(t, 20)
	dbtest.SeedUsers(t, f.db, "a", "b", "c")
	f.watch(t, "a", "100")
	f.watch(t, "b", "100")
	f.watch(t, "c", "200")

	got := f.matches(t, "a")
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].UserID)
	assert.Greater(t, got[0].Score, 0.0)
	assert.Equal(t, []int64{100}, got[0].CommonContentIDs)
	assert.Equal(t, int64(100), got[0].WatchingNow)
	assert.Equal(t, "User b", got[0].DisplayName)
}

func TestHistoryCountsTowardOverlap(t *testing.T) {
	f := setup(t, 20)
	dbtest.SeedUsers(t, f.db, "a", "b")
	require.NoError(t, f.db.Create(&db.WatchHistory{
		UserID: "a", ContentID: "300", MediaType: "movie", Progress: 40, WatchedAt: t0.Add(-time.Hour),
	}).Error)
	f.watch(t, "a", "100")
	f.watch(t, "b", "300")

	got := f.matches(t, "a")
	require.Len(t, got, 1)
	assert.Equal(t, []int64{300}, got[0].CommonContentIDs)
}

func TestExcludesBlockedAndMatched(t *testing.T) {
	f := setup(t, 20)
	dbtest.SeedUsers(t, f.db, "a", "b", "c", "d", "e")
	for _, u := range []string{"a", "b", "c", "d", "e"} {
		f.watch(t, u, "100")
	}
	rels := []db.Relation{
		{OwnerID: "a", OtherID: "b", Blocked: true},
		{OwnerID: "c", OtherID: "a", Blocked: true},
		{OwnerID: "a", OtherID: "d", Status: db.RelationMatched},
		{OwnerID: "d", OtherID: "a", Status: db.RelationMatched},
	}
	require.NoError(t, f.db.Create(&rels).Error)

	assert.Equal(t, []string{"e"}, ids(f.matches(t, "a")))
}

func TestDropsInactiveCandidates(t *testing.T) {
	f := setup(t, 20)
	dbtest.SeedUsers(t, f.db, "a", "b", "c")
	f.watch(t, "b", "100")
	f.clock.Advance(10 * time.Minute)
	f.watch(t, "a", "100")
	f.watch(t, "c", "100")

	assert.Equal(t, []string{"c"}, ids(f.matches(t, "a")))
}

func TestCapsAndShuffles(t *testing.T) {
	f := setup(t, 5)
	dbtest.SeedUsers(t, f.db, "me")
	f.watch(t, "me", "100")
	for i := 0; i < 12; i++ {
		u := fmt.Sprintf("u%02d", i)
		dbtest.SeedUsers(t, f.db, u)
		f.watch(t, u, "100")
	}

	seen := map[string]bool{}
	orders := map[string]bool{}
	for i := 0; i < 10; i++ {
		got := f.matches(t, "me")
		require.Len(t, got, 5)
		orders[fmt.Sprint(ids(got))] = true
		for _, c := range got {
			assert.NotEqual(t, "me", c.UserID)
			seen[c.UserID] = true
		}
	}
	assert.Greater(t, len(orders), 1, "selection should vary between calls")
	assert.Greater(t, len(seen), 5, "shuffling should surface more than the first five")
}

func TestRequiresUser(t *testing.T) {
	f := setup(t, 20)
	_, err := f.selector.RealTimeMatches(context.Background(), "")
	assert.Error(t, err)

	got, err := f.selector.RealTimeMatches(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}
