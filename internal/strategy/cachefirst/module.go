// Package cachefirst 注册 cache-first 策略：优先返回缓存，未命中时回源并按准入规则写入通用缓存。
package cachefirst

import "github.com/any-hub/shellcache/internal/strategy"

func init() {
	strategy.MustRegister(strategy.Metadata{
		Key:         strategy.KeyCacheFirst,
		Description: "Serve from any cache store, fall back to network and offline fallbacks",
		Strategy:    strategy.Func(Serve),
	})
}
