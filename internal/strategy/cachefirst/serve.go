package cachefirst

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Serve 实现 cache-first。网络失败时依次尝试 HTML 兜底文档、图片兜底、同 URL 的 CSS/JS 缓存，
// 都不可用时合成 503。
func Serve(ctx context.Context, env strategy.Env, req *http.Request) strategy.Result {
	if resp, ok := strategy.Lookup(ctx, env, cache.KeyFor(req)); ok {
		return strategy.Result{Response: resp, Source: strategy.SourceCache}
	}

	resp, err := env.Fetch(ctx, req)
	if err == nil {
		strategy.Store(ctx, env, req, resp, env.ShouldCache)
		return strategy.Result{Response: resp, Source: strategy.SourceNetwork}
	}

	rawURL := req.URL.String()
	env.Logger().WithFields(logrus.Fields{
		"action": "network_failed",
		"url":    rawURL,
	}).WithError(err).Warn("network_failed")

	fallbacks := env.Fallbacks()
	accept := req.Header.Get("Accept")
	if strings.Contains(accept, "text/html") && fallbacks.Document != "" {
		if resp, ok := strategy.Lookup(ctx, env, cache.GetKey(fallbacks.Document)); ok {
			return strategy.Result{Response: resp, Source: strategy.SourceFallback}
		}
	}
	if strings.Contains(accept, "image") && fallbacks.Image != "" {
		if resp, ok := strategy.Lookup(ctx, env, cache.GetKey(fallbacks.Image)); ok {
			return strategy.Result{Response: resp, Source: strategy.SourceFallback}
		}
	}
	if strings.Contains(rawURL, ".css") || strings.Contains(rawURL, ".js") {
		if resp, ok := strategy.Lookup(ctx, env, cache.GetKey(rawURL)); ok {
			return strategy.Result{Response: resp, Source: strategy.SourceFallback}
		}
	}
	return strategy.Result{Response: strategy.Offline(rawURL), Source: strategy.SourceSynthetic}
}
