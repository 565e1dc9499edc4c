package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/oggyb/cowatch/internal/db"
	"github.com/oggyb/cowatch/internal/db/dbtest"
	"github.com/oggyb/cowatch/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func session(user, content string, at time.Time) *db.WatchSession {
	return &db.WatchSession{
		UserID:        user,
		ContentID:     content,
		MediaType:     "movie",
		StartedAt:     at,
		LastUpdatedAt: at,
	}
}

func TestReplaceKeepsSingleSession(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewSessionRepository(dbtest.Open(t))

	require.NoError(t, repo.Replace(ctx, session("a", "100", t0)))
	require.NoError(t, repo.Replace(ctx, session("a", "200", t0.Add(time.Minute))))
	require.NoError(t, repo.Replace(ctx, session("a", "300", t0.Add(2*time.Minute))))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "300", all[0].ContentID)
}

func TestUpdateProgressOnlyMatchingContent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewSessionRepository(dbtest.Open(t))
	require.NoError(t, repo.Replace(ctx, session("a", "100", t0)))

	ok, err := repo.UpdateProgress(ctx, "a", "999", 50, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UpdateProgress(ctx, "a", "100", 50, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	cur, err := repo.Current(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, 50.0, cur.PositionSeconds)
	assert.True(t, cur.LastUpdatedAt.Equal(t0.Add(time.Minute)))
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewSessionRepository(dbtest.Open(t))
	require.NoError(t, repo.Replace(ctx, session("a", "100", t0)))

	removed, err := repo.Remove(ctx, "a", "200")
	require.NoError(t, err)
	assert.Nil(t, removed)

	removed, err = repo.Remove(ctx, "a", "100")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "100", removed.ContentID)

	removed, err = repo.Remove(ctx, "a", "100")
	require.NoError(t, err)
	assert.Nil(t, removed)

	cur, err := repo.Current(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestListStale(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewSessionRepository(dbtest.Open(t))
	require.NoError(t, repo.Replace(ctx, session("old", "100", t0)))
	require.NoError(t, repo.Replace(ctx, session("fresh", "100", t0.Add(3*time.Hour))))

	stale, err := repo.ListStale(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].UserID)

	ok, err := repo.RemoveByID(ctx, stale[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.RemoveByID(ctx, stale[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryListForUsers(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewHistoryRepository(dbtest.Open(t))

	for i, c := range []string{"1", "2", "3"} {
		require.NoError(t, repo.Append(ctx, &db.WatchHistory{
			UserID: "a", ContentID: c, MediaType: "movie", Progress: 10,
			WatchedAt: t0.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, repo.Append(ctx, &db.WatchHistory{
		UserID: "b", ContentID: "1", MediaType: "movie", WatchedAt: t0.Add(-48 * time.Hour),
	}))

	got, err := repo.ListForUsers(ctx, []string{"a", "b"}, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got["a"], 3)
	assert.Equal(t, "3", got["a"][0].ContentID)
	assert.Empty(t, got["b"])

	empty, err := repo.ListForUsers(ctx, nil, t0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
