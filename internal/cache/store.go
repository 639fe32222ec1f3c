package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Storage 对应浏览器的 CacheStorage：按名称管理多个缓存仓，仓只能整体删除。
//
// 磁盘布局由具体后端决定（fs / leveldb），但语义保持一致：
//
//	Open   → 不存在则创建
//	Keys   → 按创建顺序返回仓名称
//	Match  → 按创建顺序在所有仓中查找，首个命中即返回
type Storage interface {
	Open(ctx context.Context, name string) (Store, error)
	Has(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Match(ctx context.Context, key Key) (*Entry, error)
	Close() error
}

// Store 是单个命名缓存仓，所有写入都是按 Key 的整条覆盖。
type Store interface {
	Name() string

	// Match 返回 key 对应的缓存条目，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Entry, error)

	// Put 以完整响应覆盖 key 对应的条目。
	Put(ctx context.Context, key Key, resp *Response) error

	// Delete 删除单个条目，条目不存在不视为错误。
	Delete(ctx context.Context, key Key) error

	// Keys 返回仓内全部请求键，顺序不作保证。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 唯一定位一个缓存条目（请求方法 + 绝对 URL）。
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// KeyFor 从请求构造缓存键，方法缺省视为 GET。
func KeyFor(req *http.Request) Key {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: req.URL.String()}
}

// GetKey 为 URL 构造 GET 请求键，兜底查找与预缓存均使用该形式。
func GetKey(rawURL string) Key {
	return Key{Method: http.MethodGet, URL: rawURL}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

// ResponseType 与浏览器 Response.type 对齐，用于区分跨域不透明响应与网络错误。
type ResponseType string

const (
	ResponseBasic  ResponseType = "basic"
	ResponseCORS   ResponseType = "cors"
	ResponseOpaque ResponseType = "opaque"
	ResponseError  ResponseType = "error"
)

// Response 是完整缓冲的响应，可以安全地在缓存与调用方之间复制。
type Response struct {
	URL        string       `json:"url"`
	Status     int          `json:"status"`
	StatusText string       `json:"status_text"`
	Header     http.Header  `json:"header"`
	Body       []byte       `json:"-"`
	Type       ResponseType `json:"type"`
}

// OK 对应 Response.ok：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// IsNetworkError 表示该响应代表一次网络失败（Response.error()）。
func (r *Response) IsNetworkError() bool {
	return r == nil || r.Type == ResponseError
}

// Clone 深拷贝 Header 与 Body，写入缓存前必须使用副本。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	cloned.Body = append([]byte(nil), r.Body...)
	return &cloned
}

// NetworkError 构造一个网络错误响应，对应 Response.error()。
func NetworkError(url string) *Response {
	return &Response{URL: url, Status: 0, Header: http.Header{}, Type: ResponseError}
}

// Entry 表示一次缓存命中结果。
type Entry struct {
	Key      Key       `json:"key"`
	Response *Response `json:"response"`
	StoredAt time.Time `json:"stored_at"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示缓存仓名称不合法（空、含路径分隔符等）。
	ErrInvalidName = errors.New("invalid cache name")
)
