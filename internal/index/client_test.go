package index

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotag/gazetteer/internal/resilience"
)

const okBody = `{"responseHeader":{"status":0,"QTime":3}}`

func fastOptions() SolrOptions {
	return SolrOptions{
		Retry:   resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 10, ResetTimeout: time.Minute},
	}
}

func TestSolrClient_Add(t *testing.T) {
	t.Parallel()

	var got []Document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/solr/gazetteer/update", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("wt"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(okBody)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewSolrClient(srv.URL+"/solr/gazetteer/", fastOptions())
	err := c.Add(context.Background(), []Document{{ID: 1, Name: "Paris"}, {ID: 2, Name: "Lyon"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Lyon", got[1].Name)
}

func TestSolrClient_AddEmpty(t *testing.T) {
	t.Parallel()
	c := NewSolrClient("http://127.0.0.1:1/solr/gazetteer", fastOptions())
	assert.NoError(t, c.Add(context.Background(), nil))
}

func TestSolrClient_Commands(t *testing.T) {
	t.Parallel()

	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.Write([]byte(okBody)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewSolrClient(srv.URL, fastOptions())
	ctx := context.Background()
	require.NoError(t, c.Commit(ctx))
	require.NoError(t, c.Optimize(ctx))
	require.NoError(t, c.Delete(ctx, 77))
	assert.Equal(t, []string{`{"commit":{}}`, `{"optimize":{}}`, `{"delete":{"id":"77"}}`}, bodies)
}

func TestSolrClient_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(okBody)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewSolrClient(srv.URL, fastOptions())
	require.NoError(t, c.Commit(context.Background()))
	assert.EqualValues(t, 3, calls.Load())
}

func TestSolrClient_BadRequestNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"responseHeader":{"status":400},"error":{"msg":"unknown field 'nme'","code":400}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewSolrClient(srv.URL, fastOptions())
	err := c.Add(context.Background(), []Document{{ID: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
	assert.EqualValues(t, 1, calls.Load())
}

func TestSolrClient_CircuitOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.Breaker.FailureThreshold = 2
	c := NewSolrClient(srv.URL, opts)

	err := c.Commit(context.Background())
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.EqualValues(t, 2, calls.Load(), "third attempt is rejected by the breaker")
}

func TestSolrClient_HostPort(t *testing.T) {
	c := NewSolrClient("solr.local:8983", SolrOptions{})
	assert.Equal(t, "http://solr.local:8983/solr/gazetteer/update", c.updateURL)

	d := NewSolrClient("", SolrOptions{})
	assert.Equal(t, DefaultURL+"/update", d.updateURL)
}
