package swr

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/clients"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Serve 实现 stale-while-revalidate：每次调用恰好发起一次回源。
// 命中通用缓存时立即返回缓存副本，回源在后台完成；未命中时等待回源结果。
func Serve(ctx context.Context, env strategy.Env, req *http.Request) strategy.Result {
	var cached *cache.Response
	store, err := env.GeneralStore(ctx)
	if err == nil {
		entry, matchErr := store.Match(ctx, cache.KeyFor(req))
		switch {
		case matchErr == nil:
			cached = entry.Response
		case !errors.Is(matchErr, cache.ErrNotFound):
			env.Logger().WithFields(logrus.Fields{
				"action": "cache_read_failed",
				"url":    req.URL.String(),
			}).WithError(matchErr).Warn("cache_read_failed")
		}
	}

	if cached != nil {
		// 后台刷新不能继承请求的 ctx，响应写回后请求 ctx 即被取消。
		refreshReq := req.Clone(context.Background())
		env.Background("swr_refresh", func(bgCtx context.Context) {
			revalidate(bgCtx, env, refreshReq)
		})
		return strategy.Result{Response: cached, Source: strategy.SourceCache}
	}

	resp, err := revalidate(ctx, env, req)
	if err != nil {
		return strategy.Result{Response: cache.NetworkError(req.URL.String()), Source: strategy.SourceSynthetic}
	}
	return strategy.Result{Response: resp, Source: strategy.SourceNetwork}
}

// revalidate 回源并按准入规则覆盖缓存，完成后向受控页面广播 BACKGROUND_SYNC；失败只记录日志。
func revalidate(ctx context.Context, env strategy.Env, req *http.Request) (*cache.Response, error) {
	rawURL := req.URL.String()
	resp, err := env.Fetch(ctx, req)
	if err != nil {
		env.Logger().WithFields(logrus.Fields{
			"action": "background_refresh_failed",
			"url":    rawURL,
		}).WithError(err).Info("background_refresh_failed")
		return nil, err
	}
	strategy.Store(ctx, env, req, resp, env.ShouldCache)
	env.Broadcast(clients.Message{Type: clients.TypeBackgroundSync, URL: rawURL})
	return resp, nil
}
