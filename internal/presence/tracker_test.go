package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oggyb/cowatch/internal/cache"
	"github.com/oggyb/cowatch/internal/config"
	"github.com/oggyb/cowatch/internal/content"
	"github.com/oggyb/cowatch/internal/db"
	"github.com/oggyb/cowatch/internal/db/dbtest"
	apperrors "github.com/oggyb/cowatch/internal/errors"
	"github.com/oggyb/cowatch/internal/logger"
	"github.com/oggyb/cowatch/internal/presence"
	"github.com/oggyb/cowatch/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []presence.Event
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if channel == cache.ChannelPresence {
		p.events = append(p.events, v.(presence.Event))
	}
	return nil
}

func (p *recordingPublisher) types() []presence.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]presence.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	db      *gorm.DB
	tracker *presence.Tracker
	clock   *clockwork.FakeClock
	pub     *recordingPublisher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database := dbtest.Open(t)
	dbtest.SeedUsers(t, database, "a", "b")

	clock := clockwork.NewFakeClockAt(t0)
	pub := &recordingPublisher{}
	tracker := presence.NewTracker(
		repository.NewSessionRepository(database),
		repository.NewHistoryRepository(database),
		repository.NewUserRepository(database),
		pub,
		clock,
		logger.Discard(),
	)
	return &fixture{db: database, tracker: tracker, clock: clock, pub: pub}
}

func start(t *testing.T, f *fixture, user, contentID string) {
	t.Helper()
	_, err := f.tracker.StartWatching(context.Background(), presence.StartRequest{
		UserID:          user,
		ContentID:       contentID,
		MediaType:       content.MediaMovie,
		DurationSeconds: 100,
	})
	require.NoError(t, err)
}

func countSessions(t *testing.T, database *gorm.DB, user string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, database.Model(&db.WatchSession{}).Where("user_id = ?", user).Count(&n).Error)
	return n
}

func TestStartWatchingKeepsOnlyLatest(t *testing.T) {
	f := setup(t)

	start(t, f, "a", "100")
	f.clock.Advance(time.Second)
	start(t, f, "a", "200")
	f.clock.Advance(time.Second)
	start(t, f, "a", "300.0")

	assert.Equal(t, int64(1), countSessions(t, f.db, "a"))
	cur := f.tracker.Current(context.Background(), "a")
	require.NotNil(t, cur)
	assert.Equal(t, "300", cur.ContentID)
	assert.True(t, cur.StartedAt.Equal(t0.Add(2*time.Second)))
	assert.Equal(t, []presence.EventType{presence.EventStarted, presence.EventStarted, presence.EventStarted}, f.pub.types())
}

func TestStartWatchingValidates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.tracker.StartWatching(ctx, presence.StartRequest{UserID: "a", ContentID: "abc"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = f.tracker.StartWatching(ctx, presence.StartRequest{ContentID: "1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = f.tracker.StartWatching(ctx, presence.StartRequest{UserID: "a", ContentID: "1", PositionSeconds: -1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestUpdateProgressIgnoresStaleContent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start(t, f, "a", "100")

	ok, err := f.tracker.UpdateProgress(ctx, "a", "200", 30)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.tracker.UpdateProgress(ctx, "b", "100", 30)
	require.NoError(t, err)
	assert.False(t, ok, "user without a session")

	f.clock.Advance(time.Minute)
	ok, err = f.tracker.UpdateProgress(ctx, "a", "100", 30)
	require.NoError(t, err)
	assert.True(t, ok)

	cur := f.tracker.Current(ctx, "a")
	assert.Equal(t, 30.0, cur.PositionSeconds)
	assert.True(t, cur.LastUpdatedAt.Equal(t0.Add(time.Minute)))
	assert.True(t, cur.StartedAt.Equal(t0))
}

func TestStopWatchingRecordsHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start(t, f, "a", "100")
	_, err := f.tracker.UpdateProgress(ctx, "a", "100", 40)
	require.NoError(t, err)

	require.NoError(t, f.tracker.StopWatching(ctx, "a", "999"))
	assert.Equal(t, int64(1), countSessions(t, f.db, "a"), "other content is untouched")

	require.NoError(t, f.tracker.StopWatching(ctx, "a", "100"))
	require.NoError(t, f.tracker.StopWatching(ctx, "a", "100"))
	assert.Equal(t, int64(0), countSessions(t, f.db, "a"))

	var history []db.WatchHistory
	require.NoError(t, f.db.Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, "100", history[0].ContentID)
	assert.InDelta(t, 40.0, history[0].Progress, 0.001)

	assert.Equal(t, []presence.EventType{
		presence.EventStarted, presence.EventProgress, presence.EventStopped,
	}, f.pub.types())
}

func TestReapStale(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start(t, f, "a", "100")
	f.clock.Advance(90 * time.Minute)
	start(t, f, "b", "100")
	f.clock.Advance(45 * time.Minute)

	n, err := f.tracker.ReapStale(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, f.tracker.Current(ctx, "a"))
	assert.NotNil(t, f.tracker.Current(ctx, "b"))
}

func TestReaperRunsOnTicker(t *testing.T) {
	f := setup(t)
	start(t, f, "a", "100")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaper := presence.NewReaper(f.tracker, f.clock, time.Minute, time.Hour, logger.Discard())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(2 * time.Hour)

	assert.Eventually(t, func() bool {
		return f.tracker.Current(context.Background(), "a") == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestEventsReachRedisSubscribers(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	sub, err := rc.Subscribe(ctx, cache.ChannelPresence, 8)
	require.NoError(t, err)
	defer sub.Close()

	database := dbtest.Open(t)
	tracker := presence.NewTracker(
		repository.NewSessionRepository(database),
		repository.NewHistoryRepository(database),
		nil,
		rc,
		clockwork.NewFakeClockAt(t0),
		logger.Discard(),
	)
	_, err = tracker.StartWatching(ctx, presence.StartRequest{UserID: "a", ContentID: "550", MediaType: content.MediaMovie})
	require.NoError(t, err)

	select {
	case raw := <-sub.C:
		ev, err := presence.DecodeEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, presence.EventStarted, ev.Type)
		assert.Equal(t, "550", ev.ContentID)
		assert.True(t, ev.StartedAt.Equal(t0))
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event received")
	}
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0.0, presence.ProgressPercent(10, 0))
	assert.Equal(t, 50.0, presence.ProgressPercent(50, 100))
	assert.Equal(t, 100.0, presence.ProgressPercent(500, 100))
}
