package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/oggyb/cowatch/internal/app"
	"github.com/oggyb/cowatch/internal/cache"
	"github.com/oggyb/cowatch/internal/config"
	"github.com/oggyb/cowatch/internal/db"
	"github.com/oggyb/cowatch/internal/logger"
	"github.com/oggyb/cowatch/internal/server"
	"github.com/oggyb/cowatch/internal/service/cowatch"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		os.Exit(1)
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(ctx); err != nil {
		log.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	if cfg.App.ENV == "development" {
		if err := db.SeedTestData(database, logger.Named(log, "seed")); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	appCtx := app.New(cfg, database, redisCache, log, nil)
	comps := app.Build(appCtx)

	grpcServer, healthServer := server.NewGRPCServer(logger.Named(log, "grpc"),
		server.Options{RequestTimeout: cfg.GRPC.RequestTimeout, InternalToken: cfg.App.InternalToken},
		cowatch.NewRegistrar(cowatch.NewService(comps, logger.Named(log, "service"))))

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting gRPC server", "addr", cfg.GRPC.Host+":"+cfg.GRPC.Port)
		return server.StartGRPCServer(ctx, cfg, grpcServer, healthServer)
	})
	g.Go(func() error {
		log.Info("serving metrics", "addr", cfg.Metrics.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return comps.RunWorkers(ctx) })

	if err := g.Wait(); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
