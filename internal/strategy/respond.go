package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
)

// OfflineBody 是无任何兜底可用时合成 503 的正文。
const OfflineBody = "No network connection"

// Offline 合成 503 text/plain 响应。
func Offline(url string) *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &cache.Response{
		URL:        url,
		Status:     http.StatusServiceUnavailable,
		StatusText: "Service Unavailable",
		Header:     header,
		Body:       []byte(OfflineBody),
		Type:       cache.ResponseBasic,
	}
}

// Store 通过 Writer 写入通用缓存仓，失败只记录日志，返回是否实际写入。
func Store(ctx context.Context, env Env, req *http.Request, resp *cache.Response, eligible cache.Eligibility) bool {
	store, err := env.GeneralStore(ctx)
	if err != nil {
		env.Logger().WithFields(logrus.Fields{
			"action": "cache_open_failed",
			"url":    req.URL.String(),
		}).WithError(err).Warn("cache_open_failed")
		return false
	}
	stored, err := cache.NewWriter(store, eligible).PutIfEligible(ctx, req, resp)
	if err != nil {
		env.Logger().WithFields(logrus.Fields{
			"action": "cache_write_failed",
			"url":    req.URL.String(),
			"cache":  store.Name(),
		}).WithError(err).Warn("cache_write_failed")
		return false
	}
	return stored
}

// OnlyOK 是仅要求响应成功的准入判定。
func OnlyOK(_ *http.Request, resp *cache.Response) bool {
	return resp.OK()
}

// Lookup 在全部缓存仓中查找 key，读取失败按未命中处理并记录日志。
func Lookup(ctx context.Context, env Env, key cache.Key) (*cache.Response, bool) {
	entry, err := env.Storage().Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			env.Logger().WithFields(logrus.Fields{
				"action": "cache_read_failed",
				"key":    key.String(),
			}).WithError(err).Warn("cache_read_failed")
		}
		return nil, false
	}
	return entry.Response, true
}
