package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/shellcache/internal/routing"
	"github.com/any-hub/shellcache/internal/strategy"
)

// SiteRuntime 将站点配置解析为运行期直接可用的形态，避免各层重复解析 URL。
type SiteRuntime struct {
	Origin       *url.URL
	Upstream     *url.URL
	ShellCache   string
	GeneralCache string
	Mapping      strategy.Mapping
	Rules        *routing.Rules
	Fallbacks    strategy.Fallbacks
	// ShellURLs 与 ExternalResources 均已解析为绝对 URL，顺序与配置一致。
	ShellURLs         []string
	ExternalResources []string
}

// BuildSiteRuntime 解析 Origin/Upstream、预缓存列表与兜底资源，并合并分类 → 策略映射（假定 Validate 已通过）。
func BuildSiteRuntime(cfg *Config) (SiteRuntime, error) {
	if cfg == nil {
		return SiteRuntime{}, fmt.Errorf("config is nil")
	}
	origin, err := url.Parse(cfg.Site.Origin)
	if err != nil {
		return SiteRuntime{}, fmt.Errorf("invalid site origin: %w", err)
	}
	// 相对引用（"./"）以 Origin 目录为基准解析。
	if !strings.HasSuffix(origin.Path, "/") {
		origin.Path += "/"
	}
	upstream, err := url.Parse(cfg.Site.UpstreamURL())
	if err != nil {
		return SiteRuntime{}, fmt.Errorf("invalid site upstream: %w", err)
	}

	rules := routing.NewRules(routing.Options{
		Origin:                  origin,
		ShellPaths:              cfg.Routing.ShellPaths,
		IgnorePatterns:          cfg.Routing.IgnorePatterns,
		DynamicMarkers:          cfg.Routing.DynamicMarkers,
		CacheableExtensions:     cfg.Routing.CacheableExtensions,
		CacheableTypes:          cfg.Routing.CacheableTypes,
		AllowedCrossOriginHosts: cfg.Routing.AllowedCrossOriginHosts,
	})

	shellURLs, err := resolveAll(rules, cfg.Precache.ShellURLs)
	if err != nil {
		return SiteRuntime{}, fmt.Errorf("invalid shell url: %w", err)
	}
	external, err := resolveAll(rules, cfg.Precache.ExternalResources)
	if err != nil {
		return SiteRuntime{}, fmt.Errorf("invalid external resource: %w", err)
	}
	var fallbacks strategy.Fallbacks
	if fallbacks.Document, err = resolveOne(rules, cfg.Routing.FallbackDocument); err != nil {
		return SiteRuntime{}, fmt.Errorf("invalid fallback document: %w", err)
	}
	if fallbacks.Image, err = resolveOne(rules, cfg.Routing.FallbackImage); err != nil {
		return SiteRuntime{}, fmt.Errorf("invalid fallback image: %w", err)
	}

	shell, general := cfg.CacheNames()
	return SiteRuntime{
		Origin:            origin,
		Upstream:          upstream,
		ShellCache:        shell,
		GeneralCache:      general,
		Mapping:           strategy.ResolveMapping(cfg.Routing.Strategies),
		Rules:             rules,
		Fallbacks:         fallbacks,
		ShellURLs:         shellURLs,
		ExternalResources: external,
	}, nil
}

// Resolve 将相对于站点的引用解析为绝对 URL 字符串。
func (r SiteRuntime) Resolve(ref string) (string, error) {
	u, err := r.Rules.Resolve(ref)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func resolveAll(rules *routing.Rules, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		u, err := rules.Resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref, err)
		}
		out = append(out, u.String())
	}
	return out, nil
}

func resolveOne(rules *routing.Rules, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", nil
	}
	u, err := rules.Resolve(ref)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
