// Package network 实现调度器的 fetch：同域请求改写到真实回源地址，跨域请求原样发出，
// 响应完整缓冲为 cache.Response。
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/server"
)

// FetchError 表示网络层失败（连接、TLS、超时、读取正文），HTTP 错误状态不属于此类。
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// RetryPolicy 控制安装与后台刷新时的重试，服务请求的策略从不重试。
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// Options 是构造 Client 的依赖。
type Options struct {
	HTTPClient *http.Client
	Origin     *url.URL
	Upstream   *url.URL
	Retry      RetryPolicy
	Logger     logrus.FieldLogger
}

// Client 是共享的回源客户端，可并发使用。
type Client struct {
	http     *http.Client
	origin   *url.URL
	upstream *url.URL
	retry    RetryPolicy
	logger   logrus.FieldLogger
}

// NewClient 创建回源客户端；Upstream 为空时与 Origin 相同。
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	upstream := opts.Upstream
	if upstream == nil {
		upstream = opts.Origin
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		http:     httpClient,
		origin:   opts.Origin,
		upstream: upstream,
		retry:    opts.Retry,
		logger:   logger,
	}
}

// RetryPolicy 返回配置中的默认重试策略。
func (c *Client) RetryPolicy() RetryPolicy {
	return c.retry
}

// Do 发出请求并返回未缓冲的响应，调用方负责关闭 Body（用于透传）。
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	upstreamReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, &FetchError{URL: req.URL.String(), Err: err}
	}
	resp, err := c.http.Do(upstreamReq)
	if err != nil {
		return nil, &FetchError{URL: req.URL.String(), Err: err}
	}
	return resp, nil
}

// Fetch 发出请求并完整读取正文；响应的 URL 保持为原始（对外）地址。
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: req.URL.String(), Err: err}
	}

	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")

	respType := cache.ResponseCORS
	if c.sameOrigin(req.URL) {
		respType = cache.ResponseBasic
	}
	return &cache.Response{
		URL:        req.URL.String(),
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     header,
		Body:       body,
		Type:       respType,
	}, nil
}

// FetchWithRetry 在网络失败与 5xx 时按指数退避重试；重试耗尽后返回最后一次的响应或错误。
func (c *Client) FetchWithRetry(ctx context.Context, req *http.Request, policy RetryPolicy) (*cache.Response, error) {
	expo := backoff.NewExponentialBackOff()
	if policy.InitialBackoff > 0 {
		expo.InitialInterval = policy.InitialBackoff
	}
	expo.MaxElapsedTime = 0
	retries := policy.MaxRetries
	if retries < 0 {
		retries = 0
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(retries)), ctx)

	var last *cache.Response
	operation := func() error {
		resp, err := c.Fetch(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		last = resp
		if resp.Status >= http.StatusInternalServerError {
			return fmt.Errorf("upstream status %d", resp.Status)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"action": "fetch_retry",
			"url":    req.URL.String(),
			"wait":   wait.String(),
		}).WithError(err).Debug("fetch_retry")
	}

	err := backoff.RetryNotify(operation, bo, notify)
	if last != nil {
		return last, nil
	}
	if err == nil {
		err = errors.New("no response")
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return nil, fetchErr
	}
	return nil, &FetchError{URL: req.URL.String(), Err: err}
}

// UpstreamURL 将同域 URL 改写到回源地址（保留回源地址的路径前缀），跨域 URL 原样返回。
func (c *Client) UpstreamURL(u *url.URL) *url.URL {
	if !c.sameOrigin(u) || c.upstream == nil {
		return u
	}
	target := *c.upstream
	target.Path = strings.TrimSuffix(c.upstream.Path, "/") + u.Path
	target.RawPath = ""
	target.RawQuery = u.RawQuery
	target.Fragment = ""
	return &target
}

func (c *Client) buildRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target := c.UpstreamURL(req.URL)

	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	upstreamReq.ContentLength = req.ContentLength

	server.CopyHeaders(upstreamReq.Header, req.Header)
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Host = target.Host
	if c.sameOrigin(req.URL) && req.URL.Host != target.Host {
		upstreamReq.Header.Set("X-Forwarded-Host", req.URL.Host)
		upstreamReq.Header.Set("X-Forwarded-Proto", req.URL.Scheme)
	}
	return upstreamReq, nil
}

func (c *Client) sameOrigin(u *url.URL) bool {
	if c.origin == nil || u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}
