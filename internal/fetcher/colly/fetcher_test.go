package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjjenkim/fis-results-scraper/internal/corrector"
	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second})
	collector := f.buildCollector(scrape.FetchRequest{URL: "https://example.com"}, time.Unix(0, 0), &scrape.FetchResponse{}, new(error))
	assert.Equal(t, "coverage-agent", collector.UserAgent)
	assert.True(t, collector.IgnoreRobotsTxt)
	assert.True(t, collector.AllowURLRevisit)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	assert.Equal(t, DefaultUserAgent, f.cfg.UserAgent)
	assert.Equal(t, 30*time.Second, f.cfg.Timeout)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := scrape.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result scrape.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	assert.Equal(t, "en-US,en;q=0.9,ko;q=0.8", collyReq.Headers.Get("Accept-Language"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	var statusErr *scrape.StatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second})
	for range 2 {
		resp, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(resp.Body), "ok")
	}
	assert.Equal(t, DefaultUserAgent, agent.Load())
}

func TestFetchStatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code int
		kind corrector.ErrorKind
	}{
		{name: "not found", code: http.StatusNotFound, kind: corrector.KindNotFound},
		{name: "forbidden", code: http.StatusForbidden, kind: corrector.KindUnknown},
		{name: "rate limited", code: http.StatusTooManyRequests, kind: corrector.KindRateLimit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.code)
			}))
			t.Cleanup(srv.Close)

			resp, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
			var statusErr *scrape.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tc.code, statusErr.Code)
			assert.Equal(t, tc.code, resp.StatusCode)
			assert.Equal(t, tc.kind, corrector.Classify(err))
			assert.Equal(t, tc.code == http.StatusForbidden, scrape.IsForbidden(err))
		})
	}
}

func TestFetchTransportErrorsClassify(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), scrape.FetchRequest{URL: addr})
	require.Error(t, err)
	assert.Equal(t, corrector.KindNetwork, corrector.Classify(err))

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(slow.Close)

	_, err = New(Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), scrape.FetchRequest{URL: slow.URL})
	require.Error(t, err)
	assert.Equal(t, corrector.KindTimeout, corrector.Classify(err))
}

func TestFetchHonorsContextAndLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	limiter := &countingLimiter{}
	f := New(Config{Timeout: time.Second}, WithLimiter(limiter))
	_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(1), limiter.calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	limiter.err = context.Canceled
	_, err = f.Fetch(ctx, scrape.FetchRequest{URL: srv.URL})
	assert.ErrorIs(t, err, context.Canceled)
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
