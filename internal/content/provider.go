package content

import (
	"context"
	"errors"
)

// ErrUnknownContent is returned when the catalog has no such item.
var ErrUnknownContent = errors.New("content not found in catalog")

// Metadata is the display information shown next to a viewer group.
type Metadata struct {
	Title          string   `json:"title"`
	PosterPath     string   `json:"poster_path,omitempty"`
	Genres         []string `json:"genres,omitempty"`
	RuntimeMinutes int      `json:"runtime_minutes,omitempty"`
}

// Provider is the external catalog. It is used for display enrichment only,
// never for matching decisions.
type Provider interface {
	GetDetails(ctx context.Context, id int64, mediaType MediaType) (*Metadata, error)
}
