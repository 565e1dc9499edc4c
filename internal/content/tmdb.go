package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/oggyb/cowatch/internal/metrics"
)

const posterBaseURL = "https://image.tmdb.org/t/p/w500"

// TMDBProvider fetches display metadata from The Movie Database v3 API.
// Calls are rate limited and guarded by a circuit breaker so a catalog
// outage degrades enrichment instead of stalling aggregation.
type TMDBProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// TMDBOptions configures NewTMDBProvider.
type TMDBOptions struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec float64
	Logger         *slog.Logger
}

func NewTMDBProvider(opts TMDBOptions) *TMDBProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 20
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &TMDBProvider{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), int(opts.RequestsPerSec)+1),
		log:     log,
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= 5 && float64(c.TotalFailures)/float64(c.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnknownContent)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn("circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return p
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

type detailsResponse struct {
	ID         int    `json:"id"`
	Title      string `json:"title"` // movies
	Name       string `json:"name"`  // tv
	PosterPath string `json:"poster_path"`
	Runtime    int    `json:"runtime"`
	EpisodeRun []int  `json:"episode_run_time"`
	Genres     []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

// GetDetails returns title, poster, genres and runtime for a catalog item.
func (p *TMDBProvider) GetDetails(ctx context.Context, id int64, mediaType MediaType) (*Metadata, error) {
	res, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx, id, mediaType)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Metadata), nil
}

func (p *TMDBProvider) fetch(ctx context.Context, id int64, mediaType MediaType) (*Metadata, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/movie/%d", id)
	if mediaType == MediaTV {
		endpoint = fmt.Sprintf("/tv/%d", id)
	}

	u, err := url.Parse(p.baseURL + endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("api_key", p.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %d: %w", mediaType, id, ErrUnknownContent)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("TMDB returned %d", resp.StatusCode)
	}

	var d detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode TMDB details: %w", err)
	}

	meta := &Metadata{Title: d.Title, RuntimeMinutes: d.Runtime}
	if meta.Title == "" {
		meta.Title = d.Name
	}
	if meta.RuntimeMinutes == 0 && len(d.EpisodeRun) > 0 {
		meta.RuntimeMinutes = d.EpisodeRun[0]
	}
	if d.PosterPath != "" {
		meta.PosterPath = posterBaseURL + d.PosterPath
	}
	for _, g := range d.Genres {
		meta.Genres = append(meta.Genres, g.Name)
	}
	return meta, nil
}
