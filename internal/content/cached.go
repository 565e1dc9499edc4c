package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oggyb/cowatch/internal/cache"
	"github.com/oggyb/cowatch/internal/metrics"
)

// MetadataCache is the slice of the Redis cache CachedProvider needs.
type MetadataCache interface {
	KeyForMetadata(mediaType string, contentID int64) string
	GetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// CachedProvider serves metadata from Redis first and falls back to the
// upstream provider, collapsing concurrent misses for the same item.
type CachedProvider struct {
	upstream Provider
	cache    MetadataCache
	ttl      time.Duration
	group    singleflight.Group
	log      *slog.Logger
}

func NewCachedProvider(upstream Provider, c MetadataCache, ttl time.Duration, log *slog.Logger) *CachedProvider {
	if log == nil {
		log = slog.Default()
	}
	return &CachedProvider{upstream: upstream, cache: c, ttl: ttl, log: log}
}

func (p *CachedProvider) GetDetails(ctx context.Context, id int64, mediaType MediaType) (*Metadata, error) {
	key := p.cache.KeyForMetadata(string(mediaType), id)

	var cached Metadata
	switch err := p.cache.GetJSON(ctx, key, &cached, p.ttl); {
	case err == nil:
		metrics.MetadataLookups.WithLabelValues("cache", "hit").Inc()
		return &cached, nil
	case errors.Is(err, cache.ErrMiss):
		metrics.MetadataLookups.WithLabelValues("cache", "miss").Inc()
	default:
		// a broken cache must not block enrichment
		p.log.Warn("metadata cache read failed", "key", key, "err", err)
		metrics.MetadataLookups.WithLabelValues("cache", "error").Inc()
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		meta, err := p.upstream.GetDetails(ctx, id, mediaType)
		if err != nil {
			return nil, err
		}
		if err := p.cache.SetJSON(ctx, key, meta, p.ttl); err != nil {
			p.log.Warn("metadata cache write failed", "key", key, "err", err)
		}
		return meta, nil
	})
	if err != nil {
		metrics.MetadataLookups.WithLabelValues("provider", "error").Inc()
		return nil, fmt.Errorf("metadata for %s %d: %w", mediaType, id, err)
	}
	metrics.MetadataLookups.WithLabelValues("provider", "ok").Inc()
	return v.(*Metadata), nil
}
