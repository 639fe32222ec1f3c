package routing

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/any-hub/shellcache/internal/cache"
)

// Category 是请求分类结果，决定使用哪种缓存策略。
type Category string

const (
	CategoryShell   Category = "shell"
	CategoryDynamic Category = "dynamic"
	CategoryStatic  Category = "static"
	CategoryDefault Category = "default"
)

// Categories 按判定优先级返回全部分类。
func Categories() []Category {
	return []Category{CategoryShell, CategoryDynamic, CategoryStatic, CategoryDefault}
}

// KnownCategory 判断配置中的分类名称是否合法（大小写不敏感）。
func KnownCategory(name string) bool {
	normalized := Category(strings.ToLower(strings.TrimSpace(name)))
	for _, category := range Categories() {
		if category == normalized {
			return true
		}
	}
	return false
}

// Options 是构造 Rules 所需的全部输入，通常来自 [Routing] 配置与站点 Origin。
type Options struct {
	Origin                  *url.URL
	ShellPaths              []string
	IgnorePatterns          []string
	DynamicMarkers          []string
	CacheableExtensions     []string
	CacheableTypes          []string
	AllowedCrossOriginHosts []string
}

// Rules 封装请求忽略、分类与缓存准入判定，构造后只读，可并发使用。
type Rules struct {
	origin       *url.URL
	shellExact   map[string]struct{}
	shellPrefix  []string
	ignore       []string
	dynamic      []string
	extensions   map[string]struct{}
	types        []string
	allowedHosts map[string]struct{}
}

// NewRules 归一化配置列表；Origin 为空时所有请求都视为跨域。
func NewRules(opts Options) *Rules {
	r := &Rules{
		origin:       opts.Origin,
		shellExact:   make(map[string]struct{}),
		ignore:       compact(opts.IgnorePatterns, false),
		dynamic:      compact(opts.DynamicMarkers, false),
		extensions:   make(map[string]struct{}),
		types:        compact(opts.CacheableTypes, true),
		allowedHosts: make(map[string]struct{}),
	}
	for _, p := range compact(opts.ShellPaths, false) {
		if p != "/" && strings.HasSuffix(p, "/") {
			r.shellPrefix = append(r.shellPrefix, p)
			continue
		}
		r.shellExact[p] = struct{}{}
	}
	for _, ext := range compact(opts.CacheableExtensions, true) {
		r.extensions[strings.TrimPrefix(ext, ".")] = struct{}{}
	}
	for _, host := range compact(opts.AllowedCrossOriginHosts, true) {
		r.allowedHosts[host] = struct{}{}
	}
	return r
}

// Origin 返回站点 Origin。
func (r *Rules) Origin() *url.URL {
	return r.origin
}

// Ignored 判断请求是否应完全绕过调度：非 GET 或命中忽略列表。
func (r *Rules) Ignored(req *http.Request) bool {
	if req.Method != "" && req.Method != http.MethodGet {
		return true
	}
	return r.IgnoredURL(req.URL.String())
}

// IgnoredURL 仅按忽略列表判定 URL。
func (r *Rules) IgnoredURL(rawURL string) bool {
	return containsAny(rawURL, r.ignore)
}

// Classify 依次判定 shell → dynamic → static，均未命中时归为 default。
func (r *Rules) Classify(req *http.Request) Category {
	u := req.URL
	switch {
	case r.isShell(u):
		return CategoryShell
	case r.isDynamic(u):
		return CategoryDynamic
	case r.isStatic(u):
		return CategoryStatic
	default:
		return CategoryDefault
	}
}

func (r *Rules) isShell(u *url.URL) bool {
	if !r.SameOrigin(u) {
		return false
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if _, ok := r.shellExact[p]; ok {
		return true
	}
	for _, prefix := range r.shellPrefix {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (r *Rules) isDynamic(u *url.URL) bool {
	raw := u.String()
	if u.ForceQuery || u.RawQuery != "" {
		return true
	}
	return containsAny(raw, r.dynamic)
}

func (r *Rules) isStatic(u *url.URL) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if ext == "" {
		return false
	}
	_, ok := r.extensions[ext]
	return ok
}

// ShouldCache 是所有策略共享的缓存准入判定：响应成功、来源同域或属于允许的字体域名、
// Content-Type 命中白名单。
func (r *Rules) ShouldCache(req *http.Request, resp *cache.Response) bool {
	if resp == nil || !resp.OK() {
		return false
	}
	if !r.SameOrigin(req.URL) && !r.allowedCrossOrigin(req.URL) {
		return false
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType == "" {
		return false
	}
	return containsAny(contentType, r.types)
}

func (r *Rules) allowedCrossOrigin(u *url.URL) bool {
	_, ok := r.allowedHosts[strings.ToLower(u.Hostname())]
	return ok
}

// SameOrigin 比较 scheme 与 host（含端口），相对 URL 视为同域。
func (r *Rules) SameOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	if !u.IsAbs() && u.Host == "" {
		return r.origin != nil
	}
	if r.origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, r.origin.Scheme) && strings.EqualFold(u.Host, r.origin.Host)
}

// Resolve 将相对引用（如 "./index.html"）解析为基于 Origin 的绝对 URL。
func (r *Rules) Resolve(ref string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if r.origin == nil || parsed.IsAbs() {
		return parsed, nil
	}
	return r.origin.ResolveReference(parsed), nil
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func compact(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if lower {
			item = strings.ToLower(item)
		}
		out = append(out, item)
	}
	return out
}
