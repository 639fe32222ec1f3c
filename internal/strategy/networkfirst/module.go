// Package networkfirst 注册 network-first 策略，用于 API/查询串等动态请求。
package networkfirst

import "github.com/any-hub/shellcache/internal/strategy"

func init() {
	strategy.MustRegister(strategy.Metadata{
		Key:         strategy.KeyNetworkFirst,
		Description: "Fetch from network, store successful responses, fall back to any cached copy",
		Strategy:    strategy.Func(Serve),
	})
}
