package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LogConfig struct {
	Level     string
	Format    string
	Component string
	Source    bool
}

type Config struct {
	App struct {
		ENV           string
		InstanceID    string
		InternalToken string
	}

	Log LogConfig

	DB struct {
		DSN      string
		Timeout  time.Duration
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	GRPC struct {
		Host           string
		Port           string
		RequestTimeout time.Duration
	}

	Metrics struct {
		Addr string
	}

	TMDB struct {
		APIKey         string
		BaseURL        string
		Timeout        time.Duration
		RequestsPerSec float64
		MetadataTTL    time.Duration
	}

	Presence struct {
		StaleAfter     time.Duration
		ReaperInterval time.Duration
	}

	Aggregator struct {
		PollInterval      time.Duration
		EnrichConcurrency int
		EnrichTimeout     time.Duration
	}

	Matching struct {
		FreshnessWindow time.Duration
		MaxCandidates   int
		HistoryWindow   time.Duration
	}

	Quota struct {
		FreeSwipeLimit int
		FreeUndoLimit  int
		Timezone       string
		SweepInterval  time.Duration
	}

	Reconciler struct {
		Interval time.Duration
	}
}

// New builds the configuration from the environment. A .env file in the
// working directory is loaded first when present; real env vars win.
func New() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.App.ENV = getEnvDefault("APP_ENV", "development")
	host, _ := os.Hostname()
	cfg.App.InstanceID = getEnvDefault("INSTANCE_ID", fmt.Sprintf("%s-%d", host, os.Getpid()))
	cfg.App.InternalToken = os.Getenv("INTERNAL_API_TOKEN")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "cowatch")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.Timeout = getEnvDuration("DB_TIMEOUT", 10*time.Second)
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "cowatch")

		// driver-level timeouts so a stalled connection cannot outlive the
		// context deadlines above it
		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC&timeout=%s&readTimeout=%s&writeTimeout=%s",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
			cfg.DB.Timeout, cfg.DB.Timeout, cfg.DB.Timeout,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// gRPC
	cfg.GRPC.Host = getEnvDefault("GRPC_HOST", "127.0.0.1")
	cfg.GRPC.Port = getEnvDefault("GRPC_PORT", "50051")
	cfg.GRPC.RequestTimeout = getEnvDuration("GRPC_REQUEST_TIMEOUT", 10*time.Second)

	cfg.Metrics.Addr = getEnvDefault("METRICS_ADDR", ":9090")

	// Content provider
	cfg.TMDB.APIKey = os.Getenv("TMDB_API_KEY")
	cfg.TMDB.BaseURL = getEnvDefault("TMDB_BASE_URL", "https://api.themoviedb.org/3")
	cfg.TMDB.Timeout = getEnvDuration("TMDB_TIMEOUT", 10*time.Second)
	cfg.TMDB.RequestsPerSec = getEnvFloat("TMDB_RPS", 20)
	cfg.TMDB.MetadataTTL = getEnvDuration("TMDB_METADATA_TTL", 24*time.Hour)

	cfg.Presence.StaleAfter = getEnvDuration("PRESENCE_STALE_AFTER", 2*time.Hour)
	cfg.Presence.ReaperInterval = getEnvDuration("PRESENCE_REAPER_INTERVAL", time.Minute)

	cfg.Aggregator.PollInterval = getEnvDuration("AGGREGATOR_POLL_INTERVAL", 15*time.Second)
	cfg.Aggregator.EnrichConcurrency = getEnvInt("AGGREGATOR_ENRICH_CONCURRENCY", 4)
	cfg.Aggregator.EnrichTimeout = getEnvDuration("AGGREGATOR_ENRICH_TIMEOUT", 3*time.Second)

	cfg.Matching.FreshnessWindow = getEnvDuration("MATCHING_FRESHNESS_WINDOW", 5*time.Minute)
	cfg.Matching.MaxCandidates = getEnvInt("MATCHING_MAX_CANDIDATES", 20)
	cfg.Matching.HistoryWindow = getEnvDuration("MATCHING_HISTORY_WINDOW", 30*24*time.Hour)

	cfg.Quota.FreeSwipeLimit = getEnvInt("QUOTA_FREE_SWIPES", 2)
	cfg.Quota.FreeUndoLimit = getEnvInt("QUOTA_FREE_UNDOS", 5)
	cfg.Quota.Timezone = getEnvDefault("QUOTA_TIMEZONE", "UTC")
	cfg.Quota.SweepInterval = getEnvDuration("QUOTA_PREMIUM_SWEEP_INTERVAL", 10*time.Minute)

	cfg.Reconciler.Interval = getEnvDuration("RECONCILER_INTERVAL", 5*time.Minute)

	return cfg
}

// Location resolves the quota timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v, err := strconv.Atoi(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(getEnvDefault(k, ""), 64); err == nil {
		return v
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
