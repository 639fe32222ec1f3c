package strategy

import (
	"strings"

	"github.com/any-hub/shellcache/internal/routing"
)

// Mapping 记录请求分类到策略键的映射。
type Mapping map[routing.Category]string

// DefaultMapping 返回内置映射：shell → cache-first，dynamic → network-first，
// static → stale-while-revalidate，其余 → cache-first。
func DefaultMapping() Mapping {
	return Mapping{
		routing.CategoryShell:   KeyCacheFirst,
		routing.CategoryDynamic: KeyNetworkFirst,
		routing.CategoryStatic:  KeyStaleWhileRevalidate,
		routing.CategoryDefault: KeyCacheFirst,
	}
}

// ResolveMapping 在默认映射上叠加配置覆盖项，空值被忽略（假定已通过配置校验）。
func ResolveMapping(overrides map[string]string) Mapping {
	mapping := DefaultMapping()
	for category, key := range overrides {
		normalized := routing.Category(strings.ToLower(strings.TrimSpace(category)))
		key = normalizeKey(key)
		if key == "" || !routing.KnownCategory(string(normalized)) {
			continue
		}
		mapping[normalized] = key
	}
	return mapping
}

// For 返回分类对应的策略；分类未映射时退回 default 分类的策略。
func (m Mapping) For(category routing.Category) (Metadata, bool) {
	key, ok := m[category]
	if !ok {
		key = m[routing.CategoryDefault]
	}
	return Resolve(key)
}
