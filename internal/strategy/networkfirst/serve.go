package networkfirst

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Serve 实现 network-first：成功响应（2xx）不经内容类型与来源判定直接写入通用缓存。
func Serve(ctx context.Context, env strategy.Env, req *http.Request) strategy.Result {
	resp, err := env.Fetch(ctx, req)
	if err == nil {
		strategy.Store(ctx, env, req, resp, strategy.OnlyOK)
		return strategy.Result{Response: resp, Source: strategy.SourceNetwork}
	}

	env.Logger().WithFields(logrus.Fields{
		"action": "network_failed",
		"url":    req.URL.String(),
	}).WithError(err).Info("network_failed")

	if cached, ok := strategy.Lookup(ctx, env, cache.KeyFor(req)); ok {
		return strategy.Result{Response: cached, Source: strategy.SourceCache}
	}
	return strategy.Result{Response: cache.NetworkError(req.URL.String()), Source: strategy.SourceSynthetic}
}
