package strategy

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/clients"
)

// 内置策略键。
const (
	KeyCacheFirst           = "cache-first"
	KeyNetworkFirst         = "network-first"
	KeyStaleWhileRevalidate = "stale-while-revalidate"
)

// Source 标记响应的实际来源，写入 X-Shellcache-Source 头。
type Source string

const (
	SourceCache     Source = "cache"
	SourceNetwork   Source = "network"
	SourceFallback  Source = "fallback"
	SourceSynthetic Source = "synthetic"
)

// Result 是一次策略执行的结果；Response 永远非 nil，网络错误以 cache.ResponseError 表示。
type Result struct {
	Response *cache.Response
	Source   Source
}

// Strategy 为单个请求生成响应。实现必须并发安全，且不能修改 req。
type Strategy interface {
	Serve(ctx context.Context, env Env, req *http.Request) Result
}

// Func 让普通函数满足 Strategy。
type Func func(ctx context.Context, env Env, req *http.Request) Result

func (f Func) Serve(ctx context.Context, env Env, req *http.Request) Result {
	return f(ctx, env, req)
}

// Metadata 记录一个策略的静态信息，供配置校验和诊断端使用。
type Metadata struct {
	Key         string
	Description string
	Strategy    Strategy
	// Revalidates 表示命中缓存后仍会在后台回源刷新。
	Revalidates bool
}

// Fallbacks 是离线兜底资源的绝对 URL。
type Fallbacks struct {
	Document string
	Image    string
}

// Env 是策略可以使用的运行期能力，由调度器实现。
type Env interface {
	// Storage 返回全部缓存仓，Match 按创建顺序查找。
	Storage() cache.Storage
	// GeneralStore 返回当前版本的通用缓存仓。
	GeneralStore(ctx context.Context) (cache.Store, error)
	// Fetch 执行一次网络请求；error 仅表示网络失败，HTTP 错误状态是正常响应。
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
	// ShouldCache 是共享的缓存准入判定。
	ShouldCache(req *http.Request, resp *cache.Response) bool
	Fallbacks() Fallbacks
	// Background 在调度器生命周期内执行 fn，请求结束后仍会继续。
	Background(name string, fn func(ctx context.Context))
	// Broadcast 向受控页面群发消息。
	Broadcast(msg clients.Message)
	Logger() logrus.FieldLogger
}
