// Package strategytest 提供策略测试使用的 Env 实现：磁盘缓存位于 t.TempDir()，网络由 FetchFunc 模拟。
package strategytest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/clients"
	"github.com/any-hub/shellcache/internal/routing"
	"github.com/any-hub/shellcache/internal/strategy"
)

const (
	Origin       = "https://example.com"
	GeneralCache = "site-v1"
	ShellCache   = "site-shell-v1"
)

// ErrOffline 模拟网络不可达。
var ErrOffline = errors.New("network unreachable")

// Env 实现 strategy.Env。
type Env struct {
	FetchFunc func(ctx context.Context, req *http.Request) (*cache.Response, error)

	storage   cache.Storage
	rules     *routing.Rules
	fallbacks strategy.Fallbacks
	logger    *logrus.Logger

	fetches atomic.Int32
	bg      sync.WaitGroup

	mu         sync.Mutex
	broadcasts []clients.Message
}

// New 创建测试环境，默认网络不可达。
func New(t *testing.T) *Env {
	t.Helper()
	storage, err := cache.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	origin, _ := url.Parse(Origin)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &Env{
		storage: storage,
		rules: routing.NewRules(routing.Options{
			Origin:                  origin,
			CacheableTypes:          []string{"text/html", "text/css", "application/javascript", "image/png", "image/x-icon"},
			AllowedCrossOriginHosts: []string{"fonts.gstatic.com"},
		}),
		fallbacks: strategy.Fallbacks{
			Document: Origin + "/",
			Image:    Origin + "/public/img/logo.ico",
		},
		logger: logger,
	}
	env.FetchFunc = func(context.Context, *http.Request) (*cache.Response, error) {
		return nil, ErrOffline
	}
	t.Cleanup(func() {
		env.Wait()
		storage.Close()
	})
	return env
}

func (e *Env) Storage() cache.Storage {
	return e.storage
}

func (e *Env) GeneralStore(ctx context.Context) (cache.Store, error) {
	return e.storage.Open(ctx, GeneralCache)
}

func (e *Env) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	e.fetches.Add(1)
	return e.FetchFunc(ctx, req)
}

func (e *Env) ShouldCache(req *http.Request, resp *cache.Response) bool {
	return e.rules.ShouldCache(req, resp)
}

func (e *Env) Fallbacks() strategy.Fallbacks {
	return e.fallbacks
}

func (e *Env) Background(_ string, fn func(ctx context.Context)) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn(context.Background())
	}()
}

func (e *Env) Broadcast(msg clients.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcasts = append(e.broadcasts, msg)
}

func (e *Env) Logger() logrus.FieldLogger {
	return e.logger
}

// Wait 等待全部后台任务结束。
func (e *Env) Wait() {
	e.bg.Wait()
}

// Fetches 返回 Fetch 被调用的次数。
func (e *Env) Fetches() int {
	return int(e.fetches.Load())
}

// Broadcasts 返回已广播消息的副本。
func (e *Env) Broadcasts() []clients.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]clients.Message(nil), e.broadcasts...)
}

// Seed 直接向指定缓存仓写入响应。
func (e *Env) Seed(t *testing.T, store, rawURL string, resp *cache.Response) {
	t.Helper()
	s, err := e.storage.Open(context.Background(), store)
	if err != nil {
		t.Fatalf("open %s: %v", store, err)
	}
	if err := s.Put(context.Background(), cache.GetKey(rawURL), resp); err != nil {
		t.Fatalf("seed %s: %v", rawURL, err)
	}
}

// Cached 从全部缓存仓读取 URL 对应的响应正文，未命中返回 false。
func (e *Env) Cached(t *testing.T, rawURL string) (string, bool) {
	t.Helper()
	entry, err := e.storage.Match(context.Background(), cache.GetKey(rawURL))
	if err != nil {
		return "", false
	}
	return string(entry.Response.Body), true
}

// Request 构造带 Accept 头的 GET 请求。
func Request(t *testing.T, rawURL, accept string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req
}

// Response 构造成功响应。
func Response(status int, contentType, body string) *cache.Response {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &cache.Response{Status: status, Header: header, Body: []byte(body), Type: cache.ResponseBasic}
}
