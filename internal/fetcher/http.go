package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geotag/gazetteer/internal/resilience"
)

// defaultHostRate applies to hosts without a configured limiter.
const defaultHostRate = 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxRetries is the number of attempts per request, the first included.
	MaxRetries int
	// RetryBackoff is the delay before the first retry. Default 1s.
	RetryBackoff time.Duration
	// RateLimiters seeds the per-host limiters, keyed by host[:port].
	RateLimiters map[string]*rate.Limiter
}

// DefaultRateLimiters returns limiters for the hosts gazetteer sources are
// published on.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"download.geonames.org":  rate.NewLimiter(2, 2),
		"naciscdn.org":           rate.NewLimiter(2, 2),
		"storage.googleapis.com": rate.NewLimiter(5, 5),
	}
}

// AdaptiveLimiter is a rate limiter that slows down when a host answers
// 429 and recovers on success. The rate stays between a quarter and twice
// the initial rate.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	floor   rate.Limit
	ceiling rate.Limit
}

// NewAdaptiveLimiter returns an adaptive limiter starting at r.
func NewAdaptiveLimiter(r rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(r, burst),
		floor:   r / 4,
		ceiling: r * 2,
	}
}

// Wait blocks until the limiter allows a request.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by a fifth.
func (a *AdaptiveLimiter) OnSuccess() {
	a.scale(1.2)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	r := a.scale(0.5)
	zap.L().Warn("fetcher: host rate limited, slowing down", zap.Float64("rate", float64(r)))
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	return a.limiter.Limit()
}

func (a *AdaptiveLimiter) scale(factor float64) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := min(max(a.limiter.Limit()*rate.Limit(factor), a.floor), a.ceiling)
	a.limiter.SetLimit(r)
	return r
}

// HTTPFetcher implements Fetcher over net/http. Each host gets its own
// adaptive limiter and transient failures (network errors, 429, 5xx) are
// retried with backoff.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	retry  resilience.RetryConfig
	log    *zap.Logger

	mu    sync.Mutex
	hosts map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "gazetteer/1.0"
	}
	hosts := make(map[string]*AdaptiveLimiter, len(opts.RateLimiters))
	for host, lim := range opts.RateLimiters {
		hosts[host] = NewAdaptiveLimiter(lim.Limit(), lim.Burst())
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts: opts,
		retry: resilience.RetryConfig{
			MaxAttempts:    opts.MaxRetries,
			InitialBackoff: opts.RetryBackoff,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2,
			JitterFraction: 0.25,
			OnRetry:        resilience.RetryLogger("fetcher.download"),
		},
		log:   zap.L().With(zap.String("component", "fetcher")),
		hosts: hosts,
	}
}

// limiterFor returns the limiter of host, creating a default one on first use.
func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.hosts[host]
	if !ok {
		lim = NewAdaptiveLimiter(defaultHostRate, defaultHostRate)
		f.hosts[host] = lim
	}
	return lim
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.get(ctx, rawURL, time.Time{})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL into path and returns the file size. The
// body is written to a temporary file beside path and renamed when
// complete. An existing path makes the request conditional on its
// modification time; an unchanged remote file is not downloaded again.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	var since time.Time
	if fi, err := os.Stat(path); err == nil {
		since = fi.ModTime()
	}
	resp, err := f.get(ctx, rawURL, since)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotModified {
		fi, err := os.Stat(path)
		if err != nil {
			return 0, eris.Wrapf(err, "fetcher: stat %s", path)
		}
		f.log.Info("source file up to date", zap.String("url", rawURL), zap.String("path", path))
		return fi.Size(), nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "fetcher: mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.part")
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", path)
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, eris.Wrapf(err, "fetcher: write %s", path)
	}
	if modified, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		_ = os.Chtimes(path, modified, modified)
	}

	f.log.Info("downloaded source file",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.Int64("bytes", n),
	)
	return n, nil
}

// get issues a GET for rawURL. A non-zero since makes the request
// conditional; the caller then sees either 200 or 304.
func (f *HTTPFetcher) get(ctx context.Context, rawURL string, since time.Time) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("fetcher: bad url %q", rawURL)
	}
	lim := f.limiterFor(u.Host)

	resp, err := resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*http.Response, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		if !since.IsZero() {
			req.Header.Set("If-Modified-Since", since.UTC().Format(http.TimeFormat))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, resilience.NewTransientError(err, 0)
		}
		switch resp.StatusCode {
		case http.StatusOK, http.StatusNotModified:
			lim.OnSuccess()
			return resp, nil
		case http.StatusTooManyRequests:
			lim.OnRateLimit()
		}
		_ = resp.Body.Close()

		err = eris.Errorf("unexpected status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: download %s", rawURL)
	}
	return resp, nil
}
