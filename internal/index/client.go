package index

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geotag/gazetteer/internal/resilience"
)

// DefaultURL is the gazetteer core of a local Solr.
const DefaultURL = "http://127.0.0.1:7000/solr/gazetteer"

// Client is the add/commit/optimize/delete contract of the search index.
type Client interface {
	Add(ctx context.Context, docs []Document) error
	Commit(ctx context.Context) error
	Optimize(ctx context.Context) error
	Delete(ctx context.Context, id int64) error
}

// SolrOptions configures a SolrClient. Zero values take defaults.
type SolrOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables rate limiting
	Retry             resilience.RetryConfig
	Breaker           resilience.CircuitBreakerConfig
	HTTPClient        *http.Client
}

// SolrClient talks to the Solr JSON update handler. Requests are rate
// limited, retried on transient failures and stop early while the circuit
// breaker is open. Document IDs are row IDs, so a retried add overwrites
// rather than duplicates.
type SolrClient struct {
	updateURL string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	log       *zap.Logger
}

var _ Client = (*SolrClient)(nil)

// NewSolrClient returns a client for the core at baseURL. A bare host:port
// is expanded to the default gazetteer core.
func NewSolrClient(baseURL string, opts SolrOptions) *SolrClient {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "http://" + baseURL + "/solr/gazetteer"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond)))
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("index.update")
	}

	log := zap.L().With(zap.String("component", "index.solr"))
	if opts.Breaker.OnStateChange == nil {
		opts.Breaker.OnStateChange = func(from, to resilience.CircuitState) {
			log.Warn("circuit breaker state change", zap.Stringer("from", from), zap.Stringer("to", to))
		}
	}
	return &SolrClient{
		updateURL: strings.TrimRight(baseURL, "/") + "/update",
		http:      hc,
		limiter:   limiter,
		retry:     opts.Retry,
		breaker:   resilience.NewCircuitBreaker(opts.Breaker),
		log:       log,
	}
}

// Add sends a batch of documents without committing.
func (c *SolrClient) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	return eris.Wrapf(c.update(ctx, docs), "index: add %d documents", len(docs))
}

// Commit makes added documents searchable.
func (c *SolrClient) Commit(ctx context.Context) error {
	return eris.Wrap(c.update(ctx, map[string]any{"commit": struct{}{}}), "index: commit")
}

// Optimize merges index segments.
func (c *SolrClient) Optimize(ctx context.Context) error {
	return eris.Wrap(c.update(ctx, map[string]any{"optimize": struct{}{}}), "index: optimize")
}

// Delete removes the document with the given row ID.
func (c *SolrClient) Delete(ctx context.Context, id int64) error {
	body := map[string]any{"delete": map[string]string{"id": strconv.FormatInt(id, 10)}}
	return eris.Wrapf(c.update(ctx, body), "index: delete %d", id)
}

// solrResponse covers both the success header and the error body.
type solrResponse struct {
	ResponseHeader struct {
		Status int `json:"status"`
		QTime  int `json:"QTime"`
	} `json:"responseHeader"`
	Error *struct {
		Msg  string `json:"msg"`
		Code int    `json:"code"`
	} `json:"error"`
}

func (c *SolrClient) update(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "marshal update")
	}
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.post(ctx, body)
		})
	})
}

func (c *SolrClient) post(ctx context.Context, body []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.updateURL+"?wt=json", bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return resilience.NewTransientError(eris.Wrap(err, "post update"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "read response"), resp.StatusCode)
	}

	var parsed solrResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if parsed.Error != nil && parsed.Error.Msg != "" {
			msg = parsed.Error.Msg
		}
		err := eris.Errorf("status %d: %s", resp.StatusCode, msg)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	if parsed.ResponseHeader.Status != 0 {
		return eris.Errorf("solr status %d", parsed.ResponseHeader.Status)
	}
	c.log.Debug("update", zap.Int("bytes", len(body)), zap.Int("qtime_ms", parsed.ResponseHeader.QTime))
	return nil
}
