package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oggyb/cowatch/internal/db/dbtest"
	"github.com/oggyb/cowatch/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQuotaRepo(t *testing.T) *repository.QuotaRepository {
	t.Helper()
	repo := repository.NewQuotaRepository(dbtest.Open(t))
	require.NoError(t, repo.Ensure(context.Background(), "u", 2, 5, "2026-03-01"))
	return repo
}

func TestEnsureDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	repo := newQuotaRepo(t)

	ok, err := repo.IncrementUsed(ctx, "u", t0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.Ensure(ctx, "u", 2, 5, "2026-03-01"))
	rec, err := repo.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DailySwipesUsed)
	assert.Equal(t, 5, rec.UndoCount)
}

func TestIncrementUsedStopsAtBudget(t *testing.T) {
	ctx := context.Background()
	repo := newQuotaRepo(t)

	for i := 0; i < 2; i++ {
		ok, err := repo.IncrementUsed(ctx, "u", t0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := repo.IncrementUsed(ctx, "u", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.AddExtra(ctx, "u", 1, t0))
	ok, err = repo.IncrementUsed(ctx, "u", t0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIncrementUsedConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := newQuotaRepo(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.IncrementUsed(ctx, "u", t0)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, granted)
	rec, _ := repo.Get(ctx, "u")
	assert.Equal(t, 2, rec.DailySwipesUsed)
}

func TestResetIfStale(t *testing.T) {
	ctx := context.Background()
	repo := newQuotaRepo(t)

	require.NoError(t, repo.AddExtra(ctx, "u", 3, t0))
	for i := 0; i < 4; i++ {
		ok, err := repo.IncrementUsed(ctx, "u", t0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := repo.ConsumeUndo(ctx, "u", t0)
	require.NoError(t, err)
	require.True(t, ok)

	reset, err := repo.ResetIfStale(ctx, "u", "2026-03-01", t0)
	require.NoError(t, err)
	assert.False(t, reset, "same day must not reset")

	reset, err = repo.ResetIfStale(ctx, "u", "2026-03-02", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, reset)

	rec, err := repo.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.DailySwipesUsed)
	assert.Equal(t, "2026-03-02", rec.LastResetDate)
	assert.Equal(t, 5, rec.UndoCount)
	// used 3 after undo refund, limit 2: one extra spent, two carried over
	assert.Equal(t, 2, rec.ExtraSwipesPurchased)
}

func TestConsumeUndo(t *testing.T) {
	ctx := context.Background()
	database := dbtest.Open(t)
	repo := repository.NewQuotaRepository(database)
	require.NoError(t, repo.Ensure(ctx, "u", 2, 1, "2026-03-01"))

	ok, err := repo.ConsumeUndo(ctx, "u", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ConsumeUndo(ctx, "u", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, _ := repo.Get(ctx, "u")
	assert.Equal(t, 0, rec.UndoCount)
	assert.Equal(t, 0, rec.DailySwipesUsed, "refund is floored at zero")
}

func TestPremiumLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newQuotaRepo(t)

	expires := t0.Add(time.Hour)
	require.NoError(t, repo.SetPremium(ctx, "u", &expires, t0))

	rec, _ := repo.Get(ctx, "u")
	assert.True(t, rec.IsPremium)
	assert.Equal(t, -1, rec.DailySwipesLimit)
	assert.Equal(t, -1, rec.UndoLimit)
	assert.Equal(t, -1, rec.UndoCount)

	for i := 0; i < 10; i++ {
		ok, err := repo.IncrementUsed(ctx, "u", t0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := repo.ConsumeUndo(ctx, "u", t0)
	require.NoError(t, err)
	assert.True(t, ok)
	rec, _ = repo.Get(ctx, "u")
	assert.Equal(t, -1, rec.UndoCount)

	ids, err := repo.ListExpiredPremium(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	later := t0.Add(2 * time.Hour)
	ids, err = repo.ListExpiredPremium(ctx, later, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"u"}, ids)

	reverted, err := repo.RevertExpiredPremium(ctx, "u", 2, 5, later)
	require.NoError(t, err)
	assert.True(t, reverted)

	rec, _ = repo.Get(ctx, "u")
	assert.False(t, rec.IsPremium)
	assert.Equal(t, 2, rec.DailySwipesLimit)
	assert.Equal(t, 5, rec.UndoLimit)
	assert.Nil(t, rec.PremiumExpiresAt)
}

func TestMissingQuotaRow(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewQuotaRepository(dbtest.Open(t))

	err := repo.AddExtra(ctx, "ghost", 1, t0)
	assert.True(t, repository.IsNotFound(err))

	_, err = repo.Get(ctx, "ghost")
	assert.True(t, repository.IsNotFound(err))
}
