package app

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/oggyb/cowatch/internal/cache"
	"github.com/oggyb/cowatch/internal/config"
)

// AppContext holds shared dependencies (DB, Redis, Logger, Clock, Config).
// RedisCache may be nil; components then fall back to polling only and
// uncached metadata.
type AppContext struct {
	Config     *config.Config
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	Clock      clockwork.Clock
}

// New creates a new AppContext
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger, clock clockwork.Clock) *AppContext {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AppContext{
		Config:     cfg,
		DB:         db,
		RedisCache: rdb,
		Logger:     logger,
		Clock:      clock,
	}
}
