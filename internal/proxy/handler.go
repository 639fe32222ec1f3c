package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/strategy"
	"github.com/any-hub/shellcache/internal/worker"
)

const (
	headerSource      = "X-Shellcache-Source"
	headerPassThrough = "X-Shellcache-Passthrough"
)

// Dispatcher 是代理依赖的调度器能力，由 *worker.Worker 实现。
type Dispatcher interface {
	Route(req *http.Request) worker.Decision
	Serve(ctx context.Context, req *http.Request, decision worker.Decision) (strategy.Result, bool)
	PassThrough(ctx context.Context, req *http.Request) (*http.Response, error)
	Site() config.SiteRuntime
}

// Handler 把 Fiber 请求转换为一次 fetch 事件：透传请求原样流式转发，
// 其余请求交给调度器选定的策略并写回缓冲响应。
type Handler struct {
	dispatcher Dispatcher
	logger     *logrus.Logger
}

// NewHandler constructs a proxy handler around the dispatcher.
func NewHandler(dispatcher Dispatcher, logger *logrus.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := h.buildRequest(ctx, c)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "proxy",
			"request_id": requestID,
			"uri":        string(c.Request().RequestURI()),
		}).WithError(err).Warn("request_invalid")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	decision := h.dispatcher.Route(req)
	if !decision.PassThrough {
		if result, handled := h.dispatcher.Serve(ctx, req, decision); handled {
			return h.writeResult(c, req, decision, result, requestID, started)
		}
	}
	return h.passThrough(ctx, c, req, decision, requestID, started)
}

// buildRequest 还原页面发出的绝对请求：origin-form 以站点 Origin 补全，absolute-form 原样使用。
func (h *Handler) buildRequest(ctx context.Context, c fiber.Ctx) (*http.Request, error) {
	target, err := h.requestURL(string(c.Request().RequestURI()))
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}
	req, err := http.NewRequestWithContext(ctx, strings.Clone(c.Method()), target.String(), body)
	if err != nil {
		return nil, err
	}
	// GetReqHeaders 的字符串指向 fasthttp 复用的请求缓冲区，后台刷新会在 handler 返回后读取，必须深拷贝。
	for key, values := range c.GetReqHeaders() {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderHost) {
			continue
		}
		name := strings.Clone(key)
		for _, value := range values {
			req.Header.Add(name, strings.Clone(value))
		}
	}
	return req, nil
}

func (h *Handler) requestURL(raw string) (*url.URL, error) {
	if raw == "" {
		raw = "/"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse request uri: %w", err)
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	origin := h.dispatcher.Site().Origin
	target := &url.URL{
		Scheme:   origin.Scheme,
		Host:     origin.Host,
		Path:     parsed.Path,
		RawPath:  parsed.RawPath,
		RawQuery: parsed.RawQuery,
	}
	if target.Path == "" {
		target.Path = "/"
	}
	return target, nil
}

func (h *Handler) writeResult(
	c fiber.Ctx,
	req *http.Request,
	decision worker.Decision,
	result strategy.Result,
	requestID string,
	started time.Time,
) error {
	resp := result.Response
	c.Set(headerSource, string(result.Source))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	if resp.IsNetworkError() {
		h.logResult(req, decision, string(result.Source), requestID, fiber.StatusBadGateway, started, nil)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "network_error"})
	}

	copyResponseHeaders(c, resp.Header)
	c.Status(resp.Status)
	h.logResult(req, decision, string(result.Source), requestID, resp.Status, started, nil)
	return c.Send(resp.Body)
}

// passThrough 直接回源并流式写回，不分类也不触碰缓存。
func (h *Handler) passThrough(
	ctx context.Context,
	c fiber.Ctx,
	req *http.Request,
	decision worker.Decision,
	requestID string,
	started time.Time,
) error {
	resp, err := h.dispatcher.PassThrough(ctx, req)
	if err != nil {
		h.logResult(req, decision, "", requestID, 0, started, err)
		if requestID != "" {
			c.Set("X-Request-ID", requestID)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(headerPassThrough, decision.Reason)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		h.logResult(req, decision, "", requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(req, decision, "", requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) logResult(
	req *http.Request,
	decision worker.Decision,
	source string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(req.URL.String(), string(decision.Category), decision.Strategy, source)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["status"] = status
	fields["pass_through"] = decision.PassThrough
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if decision.Reason != "" {
		fields["reason"] = decision.Reason
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
