package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTMDBProvider_MovieAndTV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		switch r.URL.Path {
		case "/movie/550":
			_, _ = w.Write([]byte(`{"id":550,"title":"Fight Club","poster_path":"/p.jpg","runtime":139,"genres":[{"name":"Drama"}]}`))
		case "/tv/1399":
			_, _ = w.Write([]byte(`{"id":1399,"name":"Game of Thrones","episode_run_time":[60],"genres":[{"name":"Drama"},{"name":"Fantasy"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewTMDBProvider(TMDBOptions{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second, RequestsPerSec: 100})
	ctx := context.Background()

	movie, err := p.GetDetails(ctx, 550, MediaMovie)
	require.NoError(t, err)
	assert.Equal(t, "Fight Club", movie.Title)
	assert.Equal(t, posterBaseURL+"/p.jpg", movie.PosterPath)
	assert.Equal(t, 139, movie.RuntimeMinutes)
	assert.Equal(t, []string{"Drama"}, movie.Genres)

	show, err := p.GetDetails(ctx, 1399, MediaTV)
	require.NoError(t, err)
	assert.Equal(t, "Game of Thrones", show.Title)
	assert.Equal(t, 60, show.RuntimeMinutes)
	assert.Empty(t, show.PosterPath)

	_, err = p.GetDetails(ctx, 1, MediaMovie)
	assert.ErrorIs(t, err, ErrUnknownContent)
}

func TestTMDBProvider_BreakerOpensOnFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewTMDBProvider(TMDBOptions{BaseURL: srv.URL, RequestsPerSec: 1000})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := p.GetDetails(ctx, 550, MediaMovie)
		assert.Error(t, err)
	}
	assert.Equal(t, int32(5), hits.Load(), "breaker should stop calling upstream after tripping")
}
