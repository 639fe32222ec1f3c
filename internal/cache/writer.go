package cache

import (
	"context"
	"errors"
	"net/http"
)

// ErrStoreUnavailable 表示写入器未注入缓存仓。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Eligibility 判断响应是否允许写入缓存（状态码、来源、Content-Type 等）。
type Eligibility func(req *http.Request, resp *Response) bool

// Writer 将缓存仓与可缓存判定绑定，策略层只通过它写入，保证不合格的响应永远不会落盘。
type Writer struct {
	store    Store
	eligible Eligibility
}

// NewWriter 构造写入器；eligible 为空时任何非网络错误响应都允许写入。
func NewWriter(store Store, eligible Eligibility) Writer {
	return Writer{store: store, eligible: eligible}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w Writer) Enabled() bool {
	return w.store != nil
}

// Store 返回底层缓存仓。
func (w Writer) Store() Store {
	return w.store
}

// Eligible 对外暴露判定结果，便于调用方在克隆响应前短路。
func (w Writer) Eligible(req *http.Request, resp *Response) bool {
	if resp.IsNetworkError() {
		return false
	}
	if w.eligible == nil {
		return true
	}
	return w.eligible(req, resp)
}

// PutIfEligible 在判定通过时写入响应副本，返回是否实际写入。
func (w Writer) PutIfEligible(ctx context.Context, req *http.Request, resp *Response) (bool, error) {
	if w.store == nil {
		return false, ErrStoreUnavailable
	}
	if !w.Eligible(req, resp) {
		return false, nil
	}
	if err := w.store.Put(ctx, KeyFor(req), resp.Clone()); err != nil {
		return false, err
	}
	return true, nil
}
