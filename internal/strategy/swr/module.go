// Package swr 注册 stale-while-revalidate 策略，用于可缓存的静态资源。
package swr

import "github.com/any-hub/shellcache/internal/strategy"

func init() {
	strategy.MustRegister(strategy.Metadata{
		Key:         strategy.KeyStaleWhileRevalidate,
		Description: "Serve the general-store copy immediately and refresh it in the background",
		Strategy:    strategy.Func(Serve),
		Revalidates: true,
	})
}
