package links_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lizheng/media-analyst/internal/links"
	"github.com/lizheng/media-analyst/internal/model"

	"github.com/stretchr/testify/require"
)

func TestHTTPResolver(t *testing.T) {
	t.Parallel()
	var flaky atomic.Int32
	var agent atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("GET /short/", func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		http.Redirect(w, r, "https://www.iesdouyin.com/share/video/7605333789232876826/?region=CN", http.StatusFound)
	})
	mux.HandleFunc("GET /flaky/", func(w http.ResponseWriter, r *http.Request) {
		if flaky.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.Redirect(w, r, "/video/1", http.StatusMovedPermanently)
	})
	mux.HandleFunc("GET /gone/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("GET /plain/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := links.NewHTTPResolver(
		links.WithHTTPClient(srv.Client()),
		links.WithRate(1000, 10),
		links.WithRetries(3, time.Millisecond),
		links.WithUserAgent("media-analyst-test"),
	)

	t.Run("redirect", func(t *testing.T) {
		got, err := r.Resolve(t.Context(), srv.URL+"/short/abc/")
		require.NoError(t, err)
		require.Equal(t, "https://www.iesdouyin.com/share/video/7605333789232876826/?region=CN", got)
		require.Equal(t, "media-analyst-test", agent.Load())
	})

	t.Run("retried", func(t *testing.T) {
		got, err := r.Resolve(t.Context(), srv.URL+"/flaky/x")
		require.NoError(t, err)
		require.Equal(t, srv.URL+"/video/1", got)
		require.EqualValues(t, 3, flaky.Load())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := r.Resolve(t.Context(), srv.URL+"/gone/x")
		require.Error(t, err)
		require.Contains(t, err.Error(), "404")
	})

	t.Run("no redirect", func(t *testing.T) {
		_, err := r.Resolve(t.Context(), srv.URL+"/plain/x")
		require.Error(t, err)
	})
}

func TestResolverFromConfig(t *testing.T) {
	t.Parallel()
	r, err := links.ResolverFromConfig(model.DefaultConfig().Service.Resolver)
	require.NoError(t, err)
	require.Nil(t, r)

	cfg := model.DefaultConfig().Service.Resolver
	cfg.Enabled = true
	r, err = links.ResolverFromConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, r)

	cfg.Timeout = "later"
	_, err = links.ResolverFromConfig(cfg)
	require.Error(t, err)
}
