package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
)

func TestFetchRewritesSameOriginOntoUpstream(t *testing.T) {
	var gotPath, gotHost, gotForwarded string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotHost = r.Host
		gotForwarded = r.Header.Get("X-Forwarded-Host")
		w.Header().Set("Content-Type", "text/css")
		w.Header().Set("Connection", "close")
		_, _ = w.Write([]byte("body{}"))
	}))
	defer upstream.Close()

	client := newTestClient(t, "https://example.com", upstream.URL+"/site/")
	req := mustRequest(t, "https://example.com/src/styles/style.css?v=2")

	resp, err := client.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if gotPath != "/site/src/styles/style.css?v=2" {
		t.Fatalf("unexpected upstream path %s", gotPath)
	}
	if gotHost != mustParse(t, upstream.URL).Host || gotForwarded != "example.com" {
		t.Fatalf("unexpected host headers: host=%s forwarded=%s", gotHost, gotForwarded)
	}
	if resp.URL != req.URL.String() || resp.Type != cache.ResponseBasic {
		t.Fatalf("response should keep the public url: %+v", resp)
	}
	if string(resp.Body) != "body{}" || resp.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Header.Get("Connection") != "" {
		t.Fatalf("hop-by-hop headers must be dropped")
	}
}

func TestFetchCrossOriginIsNotRewritten(t *testing.T) {
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "font/woff2")
		_, _ = w.Write([]byte("font"))
	}))
	defer external.Close()

	client := newTestClient(t, "https://example.com", "")
	resp, err := client.Fetch(context.Background(), mustRequest(t, external.URL+"/inter.woff2"))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if resp.Type != cache.ResponseCORS || string(resp.Body) != "font" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestFetchReturnsHTTPErrorsAsResponses(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream.URL, "")
	resp, err := client.Fetch(context.Background(), mustRequest(t, upstream.URL+"/missing"))
	if err != nil {
		t.Fatalf("404 should not be a fetch error: %v", err)
	}
	if resp.Status != http.StatusNotFound || resp.OK() {
		t.Fatalf("unexpected status %d", resp.Status)
	}
}

func TestFetchNetworkFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := upstream.URL
	upstream.Close()

	client := newTestClient(t, target, "")
	_, err := client.Fetch(context.Background(), mustRequest(t, target+"/"))
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestFetchWithRetryRecoversFromServerErrors(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream.URL, "")
	resp, err := client.FetchWithRetry(context.Background(), mustRequest(t, upstream.URL+"/"), RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if resp.Status != http.StatusOK || calls.Load() != 3 {
		t.Fatalf("expected success on third attempt, status=%d calls=%d", resp.Status, calls.Load())
	}
}

func TestFetchWithRetryReturnsLastServerError(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream.URL, "")
	resp, err := client.FetchWithRetry(context.Background(), mustRequest(t, upstream.URL+"/"), RetryPolicy{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("exhausted retries should still yield the last response: %v", err)
	}
	if resp.Status != http.StatusServiceUnavailable || calls.Load() != 2 {
		t.Fatalf("unexpected result status=%d calls=%d", resp.Status, calls.Load())
	}
}

func newTestClient(t *testing.T, origin, upstream string) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts := Options{
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Origin:     mustParse(t, origin),
		Logger:     logger,
	}
	if upstream != "" {
		opts.Upstream = mustParse(t, upstream)
	}
	return NewClient(opts)
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func mustRequest(t *testing.T, raw string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, raw, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}
