package worker

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/routing"
	"github.com/any-hub/shellcache/internal/strategy"
)

// 透传原因。
const (
	ReasonMethod          = "method"
	ReasonIgnored         = "ignored"
	ReasonNoController    = "no_controller"
	ReasonStrategyMissing = "strategy_missing"
)

// Decision 是一次 fetch 事件的路由结果。PassThrough 为 true 时请求交给网络原样处理，
// 不进行分类也不触碰任何缓存。
type Decision struct {
	Category    routing.Category `json:"category,omitempty"`
	Strategy    string           `json:"strategy,omitempty"`
	PassThrough bool             `json:"pass_through"`
	Reason      string           `json:"reason,omitempty"`
}

// Route 依次检查请求方法、忽略列表与控制状态，随后分类并选择策略。
func (w *Worker) Route(req *http.Request) Decision {
	if req.Method != "" && req.Method != http.MethodGet {
		return Decision{PassThrough: true, Reason: ReasonMethod}
	}
	if w.site.Rules.IgnoredURL(req.URL.String()) {
		return Decision{PassThrough: true, Reason: ReasonIgnored}
	}
	if w.State() != StateActivated {
		return Decision{PassThrough: true, Reason: ReasonNoController}
	}

	category := w.site.Rules.Classify(req)
	meta, ok := w.site.Mapping.For(category)
	if !ok {
		return Decision{Category: category, PassThrough: true, Reason: ReasonStrategyMissing}
	}
	return Decision{Category: category, Strategy: meta.Key}
}

// Serve 执行 Decision 选定的策略；透传请求返回 false。
func (w *Worker) Serve(ctx context.Context, req *http.Request, decision Decision) (strategy.Result, bool) {
	if decision.PassThrough {
		return strategy.Result{}, false
	}
	meta, ok := strategy.Resolve(decision.Strategy)
	if !ok {
		return strategy.Result{}, false
	}

	result := meta.Strategy.Serve(ctx, w, req)
	if result.Response == nil {
		result = strategy.Result{Response: cache.NetworkError(req.URL.String()), Source: strategy.SourceSynthetic}
	}

	fields := logging.RequestFields(req.URL.String(), string(decision.Category), decision.Strategy, string(result.Source))
	fields["action"] = "fetch"
	fields["status"] = result.Response.Status
	w.logger.WithFields(fields).Debug("fetch_served")
	return result, true
}

// Dispatch 组合 Route 与 Serve，对应一次完整的 fetch 事件。
func (w *Worker) Dispatch(ctx context.Context, req *http.Request) (Decision, strategy.Result, bool) {
	decision := w.Route(req)
	result, handled := w.Serve(ctx, req, decision)
	return decision, result, handled
}

// PassThrough 把请求原样交给网络，返回未缓冲的响应，调用方负责关闭 Body。
func (w *Worker) PassThrough(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := w.fetcher.Do(ctx, req)
	if err != nil {
		w.logger.WithFields(logrus.Fields{
			"action": "passthrough",
			"url":    req.URL.String(),
			"method": req.Method,
		}).WithError(err).Warn("passthrough_failed")
	}
	return resp, err
}

// Mapping 返回当前分类 → 策略映射。
func (w *Worker) Mapping() strategy.Mapping {
	return w.site.Mapping
}
