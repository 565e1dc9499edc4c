package coviewing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oggyb/cowatch/internal/content"
)

// enricher attaches catalog metadata to groups. Metadata is display-only:
// any failure leaves the fallback in place and the group is kept.
type enricher struct {
	provider content.Provider
	timeout  time.Duration
	limit    int
	log      *slog.Logger
}

// enrichAll fills unpublished groups in place, at most limit lookups at once.
func (e *enricher) enrichAll(ctx context.Context, groups []*Group) {
	if e.provider == nil || len(groups) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(e.limit)
	for _, grp := range groups {
		g.Go(func() error {
			if md, ok := e.lookup(ctx, grp.ContentID, grp.MediaType); ok {
				grp.Metadata, grp.enriched = md, true
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (e *enricher) lookup(ctx context.Context, id int64, mediaType content.MediaType) (content.Metadata, bool) {
	if e.provider == nil {
		return content.Metadata{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	md, err := e.provider.GetDetails(ctx, id, mediaType)
	if err != nil {
		if errors.Is(err, content.ErrUnknownContent) {
			e.log.Debug("content not in catalog", "content", id, "media_type", mediaType)
		} else {
			e.log.Warn("metadata lookup failed", "content", id, "media_type", mediaType, "err", err)
		}
		return content.Metadata{}, false
	}
	if md.Title == "" {
		md.Title = content.FormatID(id)
	}
	return *md, true
}

func fallbackMetadata(id int64, title, poster string) content.Metadata {
	if title == "" {
		title = content.FormatID(id)
	}
	return content.Metadata{Title: title, PosterPath: poster}
}
