package coviewing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oggyb/cowatch/internal/cache"
	"github.com/oggyb/cowatch/internal/content"
	"github.com/oggyb/cowatch/internal/db"
	apperrors "github.com/oggyb/cowatch/internal/errors"
	"github.com/oggyb/cowatch/internal/metrics"
	"github.com/oggyb/cowatch/internal/presence"
	"github.com/oggyb/cowatch/internal/repository"
)

// EventSource delivers presence events published by any instance.
type EventSource interface {
	Subscribe(ctx context.Context, channel string, buffer int) (*cache.Subscription, error)
}

// Options tune the aggregator.
type Options struct {
	PollInterval      time.Duration
	EnrichConcurrency int
	EnrichTimeout     time.Duration
}

type pendingPatch struct {
	ev      presence.Event
	id      int64
	summary *repository.UserSummary
}

// Aggregator maintains the current Snapshot.
//
// Two paths feed it: a periodic full rebuild from the session table and
// incremental patches from presence events. Both build a new Snapshot and
// swap it in under mu, so readers never see a half-applied change. Patches
// that land while a rebuild is reading the store are replayed on top of the
// rebuilt snapshot before it is published.
type Aggregator struct {
	sessions *repository.SessionRepository
	users    *repository.UserRepository
	enricher *enricher
	events   EventSource
	clock    clockwork.Clock
	log      *slog.Logger
	opts     Options

	current atomic.Pointer[Snapshot]

	rebuildMu  sync.Mutex
	mu         sync.Mutex
	rebuilding bool
	pending    []pendingPatch
	bg         context.Context
	bgWG       sync.WaitGroup

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
}

// New creates an Aggregator with an empty snapshot. provider and events may
// be nil: groups then carry fallback titles and only the poll path runs.
func New(
	sessions *repository.SessionRepository,
	users *repository.UserRepository,
	provider content.Provider,
	events EventSource,
	clock clockwork.Clock,
	log *slog.Logger,
	opts Options,
) *Aggregator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = 4
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = 3 * time.Second
	}

	a := &Aggregator{
		sessions: sessions,
		users:    users,
		enricher: &enricher{provider: provider, timeout: opts.EnrichTimeout, limit: opts.EnrichConcurrency, log: log},
		events:   events,
		clock:    clock,
		log:      log,
		opts:     opts,
		subs:     make(map[*Subscription]struct{}),
	}
	a.current.Store(emptySnapshot())
	return a
}

// Snapshot returns the current view. Never nil.
func (a *Aggregator) Snapshot() *Snapshot {
	return a.current.Load()
}

// Groups returns the current groups, most watched first.
func (a *Aggregator) Groups() []*Group {
	return a.current.Load().Groups
}

// Run keeps the snapshot fresh until ctx is cancelled: it rebuilds every
// PollInterval and applies pushed presence events in between.
func (a *Aggregator) Run(ctx context.Context) {
	a.mu.Lock()
	a.bg = ctx
	a.mu.Unlock()

	var (
		sub    *cache.Subscription
		events <-chan []byte
	)
	subscribe := func() {
		if a.events == nil {
			return
		}
		s, err := a.events.Subscribe(ctx, cache.ChannelPresence, 256)
		if err != nil {
			a.log.Warn("presence subscription failed, polling only", "err", err)
			return
		}
		sub, events = s, s.C
	}
	// subscribe before the first read so nothing falls between the two
	subscribe()
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	if err := a.boundedRebuild(ctx); err != nil {
		a.log.Warn("initial co-viewing rebuild failed", "err", err)
	}

	ticker := a.clock.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.bgWG.Wait()
			return

		case <-ticker.Chan():
			if err := a.boundedRebuild(ctx); err != nil {
				a.log.Warn("co-viewing rebuild failed", "err", err)
			}
			if events == nil {
				subscribe()
			}

		case raw, ok := <-events:
			if !ok {
				a.log.Warn("presence subscription closed, will resubscribe")
				sub.Close()
				sub, events = nil, nil
				continue
			}
			ev, err := presence.DecodeEvent(raw)
			if err != nil {
				a.log.Warn("dropping malformed presence event", "err", err)
				continue
			}
			a.boundedApply(ctx, ev)
		}
	}
}

// boundedRebuild keeps a stalled store read from outliving one poll interval.
func (a *Aggregator) boundedRebuild(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.PollInterval)
	defer cancel()
	return a.Rebuild(ctx)
}

func (a *Aggregator) boundedApply(ctx context.Context, ev presence.Event) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.PollInterval)
	defer cancel()
	a.Apply(ctx, ev)
}

// Rebuild recomputes the snapshot from the session table and swaps it in.
// On a store failure the previous snapshot stays in place.
func (a *Aggregator) Rebuild(ctx context.Context) error {
	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	a.mu.Lock()
	a.rebuilding = true
	a.pending = nil
	a.mu.Unlock()

	start := a.clock.Now()
	defer func() {
		metrics.AggregatorRebuildDuration.Observe(a.clock.Since(start).Seconds())
	}()

	sessions, err := a.sessions.ListAll(ctx)
	if err != nil {
		if apperrors.IsReadDegradable(err) {
			a.log.Warn("session read refused, publishing empty view", "err", err)
			sessions = nil
		} else {
			a.mu.Lock()
			a.rebuilding = false
			a.pending = nil
			a.mu.Unlock()
			metrics.AggregatorRebuilds.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to list sessions: %w", err)
		}
	}

	next := a.build(ctx, sessions, a.current.Load())

	a.mu.Lock()
	for _, p := range a.pending {
		if patched, ok := applyPatch(next, p); ok {
			next = patched
		}
	}
	a.pending = nil
	a.rebuilding = false
	next.BuiltAt = a.clock.Now()
	a.publishLocked(next)
	a.mu.Unlock()

	metrics.AggregatorRebuilds.WithLabelValues("ok").Inc()
	a.log.Debug("co-viewing snapshot rebuilt", "groups", len(next.Groups), "viewers", next.ViewerCount())
	return nil
}

// build runs the two grouping passes over raw session rows.
func (a *Aggregator) build(ctx context.Context, sessions []db.WatchSession, prev *Snapshot) *Snapshot {
	// pass 1: the newest session per user wins
	latest := make(map[string]*db.WatchSession, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		cur, ok := latest[s.UserID]
		if !ok || s.StartedAt.After(cur.StartedAt) || (s.StartedAt.Equal(cur.StartedAt) && s.ID > cur.ID) {
			latest[s.UserID] = s
		}
	}

	userIDs := make([]string, 0, len(latest))
	for id := range latest {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)
	summaries := a.loadSummaries(ctx, userIDs)

	// pass 2: group by canonical content id
	snap := emptySnapshot()
	for _, userID := range userIDs {
		s := latest[userID]
		id, err := content.ParseID(s.ContentID)
		if err != nil {
			metrics.SkippedSessions.Inc()
			a.log.Warn("skipping session with unusable content id", "user", userID, "content", s.ContentID, "err", err)
			continue
		}

		g, ok := snap.byContent[id]
		if !ok {
			g = newGroup(id, s.MediaType, s.Title, s.PosterPath)
			if old, found := prev.byContent[id]; found && old.enriched {
				g.Metadata, g.enriched = old.Metadata, true
			}
			snap.byContent[id] = g
		}
		g.Viewers[userID] = viewerFrom(s, summaries[userID])
		if g.StartedAt.IsZero() || s.StartedAt.Before(g.StartedAt) {
			g.StartedAt = s.StartedAt
		}
		snap.byUser[userID] = membership{contentID: id, startedAt: s.StartedAt}
	}

	var todo []*Group
	for _, g := range snap.byContent {
		if !g.enriched {
			todo = append(todo, g)
		}
	}
	a.enricher.enrichAll(ctx, todo)
	return snap
}

func (a *Aggregator) loadSummaries(ctx context.Context, ids []string) map[string]repository.UserSummary {
	if a.users == nil || len(ids) == 0 {
		return nil
	}
	out, err := a.users.Summaries(ctx, ids)
	if err != nil {
		a.log.Warn("failed to load viewer summaries", "count", len(ids), "err", err)
		return nil
	}
	return out
}

// Apply patches the snapshot with one presence event.
func (a *Aggregator) Apply(ctx context.Context, ev presence.Event) {
	id, err := content.ParseID(ev.ContentID)
	if err != nil {
		metrics.AggregatorPatches.WithLabelValues("invalid").Inc()
		a.log.Warn("ignoring presence event with unusable content id", "user", ev.UserID, "content", ev.ContentID)
		return
	}

	p := pendingPatch{ev: ev, id: id}
	if ev.Type == presence.EventStarted {
		if v, ok := a.current.Load().Viewer(ev.UserID); ok {
			p.summary = &repository.UserSummary{ID: v.UserID, DisplayName: v.DisplayName, PhotoURL: v.PhotoURL}
		} else if s, ok := a.loadSummaries(ctx, []string{ev.UserID})[ev.UserID]; ok {
			p.summary = &s
		}
	}

	a.mu.Lock()
	if a.rebuilding {
		a.pending = append(a.pending, p)
	}
	next, ok := applyPatch(a.current.Load(), p)
	if !ok {
		a.mu.Unlock()
		metrics.AggregatorPatches.WithLabelValues("ignored").Inc()
		return
	}
	a.publishLocked(next)
	g, exists := next.byContent[id]
	needsEnrich := exists && !g.enriched
	mediaType := content.MediaMovie
	if exists {
		mediaType = g.MediaType
	}
	bg := a.bg
	a.mu.Unlock()

	metrics.AggregatorPatches.WithLabelValues("applied").Inc()
	if needsEnrich && bg != nil {
		a.enrichLater(bg, id, mediaType)
	}
}

// applyPatch returns the snapshot with p applied, or false when p is stale
// or changes nothing.
func applyPatch(cur *Snapshot, p pendingPatch) (*Snapshot, bool) {
	ev := p.ev
	m, watching := cur.byUser[ev.UserID]

	switch ev.Type {
	case presence.EventStarted:
		if watching && m.startedAt.After(ev.StartedAt) {
			return nil, false
		}
		next := cur.mutable()
		if watching {
			removeViewer(next, ev.UserID, m.contentID)
		}

		g, ok := next.byContent[p.id]
		if ok {
			g = g.clone()
		} else {
			g = newGroup(p.id, ev.MediaType, "", "")
		}
		v := Viewer{
			UserID:          ev.UserID,
			PositionSeconds: ev.Position,
			DurationSeconds: ev.Duration,
			StartedAt:       ev.StartedAt,
			LastUpdatedAt:   ev.At,
		}
		if p.summary != nil {
			v.DisplayName, v.PhotoURL = p.summary.DisplayName, p.summary.PhotoURL
		}
		g.Viewers[ev.UserID] = v
		g.recomputeStart()
		next.byContent[p.id] = g
		next.byUser[ev.UserID] = membership{contentID: p.id, startedAt: ev.StartedAt}
		return next, true

	case presence.EventProgress:
		if !watching || m.contentID != p.id {
			return nil, false
		}
		g := cur.byContent[p.id]
		v := g.Viewers[ev.UserID]
		if ev.At.Before(v.LastUpdatedAt) {
			return nil, false
		}
		next := cur.mutable()
		g = g.clone()
		v.PositionSeconds = ev.Position
		v.LastUpdatedAt = ev.At
		g.Viewers[ev.UserID] = v
		next.byContent[p.id] = g
		return next, true

	case presence.EventStopped:
		if !watching || m.contentID != p.id {
			return nil, false
		}
		if !ev.StartedAt.IsZero() && m.startedAt.After(ev.StartedAt) {
			return nil, false
		}
		next := cur.mutable()
		removeViewer(next, ev.UserID, p.id)
		return next, true
	}
	return nil, false
}

// removeViewer drops userID from its group; an emptied group is deleted.
func removeViewer(s *Snapshot, userID string, contentID int64) {
	delete(s.byUser, userID)
	g, ok := s.byContent[contentID]
	if !ok {
		return
	}
	g = g.clone()
	delete(g.Viewers, userID)
	if len(g.Viewers) == 0 {
		delete(s.byContent, contentID)
		return
	}
	g.recomputeStart()
	s.byContent[contentID] = g
}

func (a *Aggregator) enrichLater(ctx context.Context, id int64, mediaType content.MediaType) {
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		md, ok := a.enricher.lookup(ctx, id, mediaType)
		if !ok {
			return
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		cur := a.current.Load()
		g, exists := cur.byContent[id]
		if !exists || g.enriched {
			return
		}
		next := cur.mutable()
		g = g.clone()
		g.Metadata, g.enriched = md, true
		next.byContent[id] = g
		a.publishLocked(next)
	}()
}

// publishLocked seals and swaps in next. Callers hold mu.
func (a *Aggregator) publishLocked(next *Snapshot) {
	prev := a.current.Load()
	next.Version = prev.Version + 1
	if next.BuiltAt.IsZero() {
		next.BuiltAt = prev.BuiltAt
	}
	next.seal()
	a.current.Store(next)
	metrics.ViewerGroups.Set(float64(len(next.Groups)))
	a.broadcast(next)
}

func newGroup(id int64, mediaType, title, poster string) *Group {
	mt, err := content.ParseMediaType(mediaType)
	if err != nil {
		mt = content.MediaMovie
	}
	return &Group{
		ContentID: id,
		MediaType: mt,
		Metadata:  fallbackMetadata(id, title, poster),
		Viewers:   make(map[string]Viewer),
	}
}

func viewerFrom(s *db.WatchSession, summary repository.UserSummary) Viewer {
	return Viewer{
		UserID:          s.UserID,
		DisplayName:     summary.DisplayName,
		PhotoURL:        summary.PhotoURL,
		PositionSeconds: s.PositionSeconds,
		DurationSeconds: s.DurationSeconds,
		StartedAt:       s.StartedAt,
		LastUpdatedAt:   s.LastUpdatedAt,
	}
}
