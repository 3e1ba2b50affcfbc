package links

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/lizheng/media-analyst/internal/model"
)

const defaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"

// HTTPResolver resolves short links by reading the Location header of the
// first redirect. Requests are rate limited and retried with exponential
// backoff on network and server errors.
type HTTPResolver struct {
	client    *http.Client
	limiter   *rate.Limiter
	retries   uint64
	interval  time.Duration
	userAgent string
}

type ResolverOption func(*HTTPResolver)

func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *HTTPResolver) {
		cp := *c
		cp.CheckRedirect = noRedirect
		r.client = &cp
	}
}

// WithRate limits the requests per second.
func WithRate(rps float64, burst int) ResolverOption {
	return func(r *HTTPResolver) {
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithRetries(n uint64, initial time.Duration) ResolverOption {
	return func(r *HTTPResolver) {
		r.retries = n
		r.interval = initial
	}
}

func WithUserAgent(ua string) ResolverOption {
	return func(r *HTTPResolver) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func NewHTTPResolver(opts ...ResolverOption) *HTTPResolver {
	r := &HTTPResolver{
		client: &http.Client{
			Timeout:       10 * time.Second,
			CheckRedirect: noRedirect,
		},
		limiter:   rate.NewLimiter(rate.Limit(2), 1),
		retries:   2,
		interval:  500 * time.Millisecond,
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolverFromConfig returns nil when resolving is disabled.
func ResolverFromConfig(cfg model.Resolver) (*HTTPResolver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	timeout, err := model.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("service.resolver.timeout: %w", err)
	}
	return NewHTTPResolver(
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithRate(cfg.Rate, cfg.Burst),
		WithRetries(uint64(max(cfg.Retries, 0)), 500*time.Millisecond),
		WithUserAgent(cfg.UserAgent),
	), nil
}

func (r *HTTPResolver) Resolve(ctx context.Context, shortURL string) (string, error) {
	var target string
	operation := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		target, err = r.once(ctx, shortURL)
		return err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.interval
	expBackoff.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(expBackoff, r.retries), ctx)

	if err := backoff.Retry(operation, b); err != nil {
		return "", fmt.Errorf("resolving %s: %w", shortURL, err)
	}
	slog.DebugContext(ctx, "short link resolved", "url", shortURL, "target", target)
	return target, nil
}

var errNoRedirect = errors.New("short link did not redirect")

func (r *HTTPResolver) once(ctx context.Context, shortURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc, err := resp.Location()
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("status %d: %w", resp.StatusCode, err))
		}
		return loc.String(), nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	default:
		return "", backoff.Permanent(errNoRedirect)
	}
}
