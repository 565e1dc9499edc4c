package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/oggyb/cowatch/internal/compat"
	"github.com/oggyb/cowatch/internal/content"
	"github.com/oggyb/cowatch/internal/coviewing"
	"github.com/oggyb/cowatch/internal/logger"
	"github.com/oggyb/cowatch/internal/match"
	"github.com/oggyb/cowatch/internal/presence"
	"github.com/oggyb/cowatch/internal/quota"
	"github.com/oggyb/cowatch/internal/repository"
)

// Components are the wired domain services plus their background workers.
type Components struct {
	Tracker    *presence.Tracker
	Aggregator *coviewing.Aggregator
	Selector   *compat.Selector
	Quotas     *quota.Manager
	Machine    *match.StateMachine

	Reaper     *presence.Reaper
	Sweeper    *quota.Sweeper
	Reconciler *match.Reconciler
}

// Build wires every component from the shared dependencies.
func Build(appCtx *AppContext) *Components {
	cfg := appCtx.Config
	log := appCtx.Logger
	clock := appCtx.Clock

	sessions := repository.NewSessionRepository(appCtx.DB)
	history := repository.NewHistoryRepository(appCtx.DB)
	users := repository.NewUserRepository(appCtx.DB)
	relations := repository.NewRelationRepository(appCtx.DB)
	swipes := repository.NewSwipeRepository(appCtx.DB)
	quotaRepo := repository.NewQuotaRepository(appCtx.DB)

	// typed nils must not leak into the interfaces below
	var (
		pub      presence.Publisher
		matchPub match.Publisher
		events   coviewing.EventSource
		sweepLdr quota.Elector
		recLdr   match.Elector
	)
	if rc := appCtx.RedisCache; rc != nil {
		pub, matchPub, events = rc, rc, rc
		sweepLdr = rc.NewLeader("premium-sweeper", cfg.App.InstanceID, 2*cfg.Quota.SweepInterval)
		recLdr = rc.NewLeader("relation-reconciler", cfg.App.InstanceID, 2*cfg.Reconciler.Interval)
	}

	var provider content.Provider
	if cfg.TMDB.APIKey != "" {
		provider = content.NewTMDBProvider(content.TMDBOptions{
			BaseURL:        cfg.TMDB.BaseURL,
			APIKey:         cfg.TMDB.APIKey,
			Timeout:        cfg.TMDB.Timeout,
			RequestsPerSec: cfg.TMDB.RequestsPerSec,
			Logger:         logger.Named(log, "tmdb"),
		})
		if appCtx.RedisCache != nil {
			provider = content.NewCachedProvider(provider, appCtx.RedisCache, cfg.TMDB.MetadataTTL, logger.Named(log, "metadata"))
		}
	}

	tracker := presence.NewTracker(sessions, history, users, pub, clock, logger.Named(log, "presence"))
	agg := coviewing.New(sessions, users, provider, events, clock, logger.Named(log, "coviewing"), coviewing.Options{
		PollInterval:      cfg.Aggregator.PollInterval,
		EnrichConcurrency: cfg.Aggregator.EnrichConcurrency,
		EnrichTimeout:     cfg.Aggregator.EnrichTimeout,
	})
	selector := compat.NewSelector(agg, sessions, history, relations, users, compat.DefaultScorer(), clock, nil,
		logger.Named(log, "compat"), compat.SelectorOptions{
			FreshnessWindow: cfg.Matching.FreshnessWindow,
			MaxCandidates:   cfg.Matching.MaxCandidates,
			HistoryWindow:   cfg.Matching.HistoryWindow,
		})
	quotas := quota.NewManager(quotaRepo, swipes, clock, logger.Named(log, "quota"), quota.Options{
		FreeSwipeLimit: cfg.Quota.FreeSwipeLimit,
		FreeUndoLimit:  cfg.Quota.FreeUndoLimit,
		Location:       cfg.Location(),
	})
	machine := match.NewStateMachine(relations, swipes, users, quotas,
		match.NewNotifier(matchPub, logger.Named(log, "notifier")), clock, logger.Named(log, "match"))

	return &Components{
		Tracker:    tracker,
		Aggregator: agg,
		Selector:   selector,
		Quotas:     quotas,
		Machine:    machine,
		Reaper: presence.NewReaper(tracker, clock, cfg.Presence.ReaperInterval, cfg.Presence.StaleAfter,
			logger.Named(log, "reaper")),
		Sweeper: quota.NewSweeper(quotas, sweepLdr, clock, cfg.Quota.SweepInterval, logger.Named(log, "sweeper")),
		Reconciler: match.NewReconciler(relations, recLdr, clock, cfg.Reconciler.Interval,
			logger.Named(log, "reconciler")),
	}
}

// RunWorkers runs the aggregator and periodic workers until ctx is cancelled.
func (c *Components) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { c.Aggregator.Run(ctx); return nil })
	g.Go(func() error { c.Reaper.Run(ctx); return nil })
	g.Go(func() error { c.Sweeper.Run(ctx); return nil })
	g.Go(func() error { c.Reconciler.Run(ctx); return nil })
	return g.Wait()
}
