package match_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/cowatch/internal/cache"
	"github.com/oggyb/cowatch/internal/config"
	"github.com/oggyb/cowatch/internal/db"
	"github.com/oggyb/cowatch/internal/db/dbtest"
	"github.com/oggyb/cowatch/internal/logger"
	"github.com/oggyb/cowatch/internal/match"
	"github.com/oggyb/cowatch/internal/metrics"
	"github.com/oggyb/cowatch/internal/repository"
)

func ptr[T any](v T) *T { return &v }

func TestReconcilerRepairsAsymmetricPairs(t *testing.T) {
	ctx := context.Background()
	database := dbtest.Open(t)
	clock := clockwork.NewFakeClockAt(t0)
	relations := repository.NewRelationRepository(database)

	older, newer := t0.Add(-time.Hour), t0.Add(-time.Minute)
	rows := []db.Relation{
		// a matched b, b's row still says unmatched from earlier
		{OwnerID: "a", OtherID: "b", Status: db.RelationMatched, MatchedAt: ptr(newer), MatchedContentID: "100", UpdatedAt: newer},
		{OwnerID: "b", OtherID: "a", Status: db.RelationUnmatched, UpdatedAt: older},
		// c blocks d but d still holds a match
		{OwnerID: "c", OtherID: "d", Blocked: true, BlockedAt: ptr(older), UpdatedAt: older},
		{OwnerID: "d", OtherID: "c", Status: db.RelationMatched, MatchedAt: ptr(older), UpdatedAt: older},
		// e's reverse row was never written
		{OwnerID: "e", OtherID: "f", Status: db.RelationUnmatched, UpdatedAt: older},
		// healthy
		{OwnerID: "g", OtherID: "h", Liked: true, UpdatedAt: older},
	}
	require.NoError(t, database.Create(&rows).Error)

	before := testutil.ToFloat64(metrics.RelationRepairs.WithLabelValues("missing_reverse"))
	r := match.NewReconciler(relations, nil, clock, time.Minute, logger.Discard())
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RelationRepairs.WithLabelValues("missing_reverse")))

	ba, _ := relations.Get(ctx, "b", "a")
	assert.Equal(t, db.RelationMatched, ba.Status)
	assert.Equal(t, "100", ba.MatchedContentID)

	dc, _ := relations.Get(ctx, "d", "c")
	assert.Equal(t, db.RelationNone, dc.Status)
	assert.Nil(t, dc.MatchedAt)
	assert.False(t, dc.Blocked, "repair never adds a block")

	fe, _ := relations.Get(ctx, "f", "e")
	assert.Equal(t, db.RelationUnmatched, fe.Status)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second pass finds nothing")
}

func TestReconcilerRunsOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	database := dbtest.Open(t)
	clock := clockwork.NewFakeClockAt(t0)
	relations := repository.NewRelationRepository(database)
	require.NoError(t, database.Create(&db.Relation{
		OwnerID: "a", OtherID: "b", Status: db.RelationMatched, UpdatedAt: t0,
	}).Error)

	r := match.NewReconciler(relations, nil, clock, time.Minute, logger.Discard())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	assert.Eventually(t, func() bool {
		var n int64
		database.Model(&db.Relation{}).Where("owner_id = ? AND status = ?", "b", db.RelationMatched).Count(&n)
		return n == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestNotifierPublishesToRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	sub, err := rc.Subscribe(ctx, cache.ChannelMatch, 4)
	require.NoError(t, err)
	defer sub.Close()

	n := match.NewNotifier(rc, logger.Discard())
	n.MatchCreated(ctx, "a", "b", "100", t0)

	select {
	case raw := <-sub.C:
		var ev match.MatchCreated
		require.NoError(t, json.Unmarshal(raw, &ev))
		assert.Equal(t, "a", ev.UserA)
		assert.Equal(t, "b", ev.UserB)
		assert.Equal(t, "100", ev.ContentID)
		assert.True(t, ev.MatchedAt.Equal(t0))
		assert.Len(t, ev.EventID, 36)
	case <-time.After(time.Second):
		t.Fatal("match event not delivered")
	}

	// nil notifier and nil publisher are both no-ops
	var none *match.Notifier
	none.MatchCreated(ctx, "a", "b", "", t0)
	match.NewNotifier(nil, logger.Discard()).MatchCreated(ctx, "a", "b", "", t0)
}
