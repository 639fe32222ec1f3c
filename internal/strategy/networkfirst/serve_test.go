package networkfirst

import (
	"context"
	"net/http"
	"testing"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/strategy"
	"github.com/any-hub/shellcache/internal/strategy/strategytest"
)

func TestServeStoresSuccessfulResponses(t *testing.T) {
	env := strategytest.New(t)
	env.FetchFunc = func(context.Context, *http.Request) (*cache.Response, error) {
		return strategytest.Response(200, "application/octet-stream", "fresh"), nil
	}
	url := strategytest.Origin + "/api/projects"

	result := Serve(context.Background(), env, strategytest.Request(t, url, ""))
	if result.Source != strategy.SourceNetwork || string(result.Response.Body) != "fresh" {
		t.Fatalf("unexpected result: %+v", result)
	}
	body, ok := env.Cached(t, url)
	if !ok || body != "fresh" {
		t.Fatalf("successful response should be stored without content-type gating")
	}
}

func TestServeSkipsStoringErrors(t *testing.T) {
	env := strategytest.New(t)
	env.FetchFunc = func(context.Context, *http.Request) (*cache.Response, error) {
		return strategytest.Response(500, "application/json", "{}"), nil
	}
	url := strategytest.Origin + "/api/projects"

	result := Serve(context.Background(), env, strategytest.Request(t, url, ""))
	if result.Response.Status != 500 {
		t.Fatalf("expected upstream status, got %d", result.Response.Status)
	}
	if _, ok := env.Cached(t, url); ok {
		t.Fatalf("500 must not be stored")
	}
}

func TestServeFallsBackToCache(t *testing.T) {
	env := strategytest.New(t)
	url := strategytest.Origin + "/data.json"
	env.Seed(t, strategytest.GeneralCache, url, strategytest.Response(200, "application/json", `{"v":1}`))

	result := Serve(context.Background(), env, strategytest.Request(t, url, ""))
	if result.Source != strategy.SourceCache || string(result.Response.Body) != `{"v":1}` {
		t.Fatalf("expected cached copy, got %+v", result)
	}
}

func TestServeReturnsNetworkErrorWithoutCache(t *testing.T) {
	env := strategytest.New(t)
	result := Serve(context.Background(), env, strategytest.Request(t, strategytest.Origin+"/api/x", ""))
	if !result.Response.IsNetworkError() {
		t.Fatalf("expected network error response, got %+v", result.Response)
	}
}
