package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/shellcache/internal/routing"
	"github.com/any-hub/shellcache/internal/strategy"
)

var supportedBackends = map[string]struct{}{
	"fs":      {},
	"leveldb": {},
}

const supportedBackendList = "fs|leveldb"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedBackends[g.StorageBackend]; !ok {
		return newFieldError("Global.StorageBackend", "仅支持 "+supportedBackendList)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.SyncInterval.DurationValue() < 0 {
		return newFieldError("Global.SyncInterval", "不能为负数")
	}
	if g.HealthCheckInterval.DurationValue() < 0 {
		return newFieldError("Global.HealthCheckInterval", "不能为负数")
	}
	if g.MaintenanceConcurrency < 1 {
		return newFieldError("Global.MaintenanceConcurrency", "至少为 1")
	}

	if err := validateOrigin(c.Site.Origin); err != nil {
		return fmt.Errorf("%s: %w", siteField("Origin"), err)
	}
	if c.Site.Upstream != "" {
		if err := validateOrigin(c.Site.Upstream); err != nil {
			return fmt.Errorf("%s: %w", siteField("Upstream"), err)
		}
	}
	if err := validateCacheNamePart(c.Site.CachePrefix); err != nil {
		return fmt.Errorf("%s: %w", siteField("CachePrefix"), err)
	}
	if err := validateCacheNamePart(c.Site.CacheVersion); err != nil {
		return fmt.Errorf("%s: %w", siteField("CacheVersion"), err)
	}

	if len(c.Precache.ShellURLs) == 0 {
		return newFieldError("Precache.ShellURLs", "至少需要一个 App Shell 资源")
	}
	for _, raw := range c.Precache.ExternalResources {
		if err := validateAbsoluteURL(raw); err != nil {
			return fmt.Errorf("Precache.ExternalResources: %w", err)
		}
	}

	for category, key := range c.Routing.Strategies {
		if !routing.KnownCategory(category) {
			return newFieldError(routingField("Strategies"), fmt.Sprintf("未知分类: %s", category))
		}
		if _, ok := strategy.Resolve(key); !ok {
			return newFieldError(routingField("Strategies"), fmt.Sprintf("未注册策略: %s", key))
		}
	}
	if len(c.Routing.CacheableTypes) == 0 {
		return newFieldError(routingField("CacheableTypes"), "不能为空")
	}

	return nil
}

func validateOrigin(raw string) error {
	if err := validateAbsoluteURL(raw); err != nil {
		return err
	}
	parsed, _ := url.Parse(raw)
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("不允许包含查询参数或片段: %s", raw)
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}

func validateCacheNamePart(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(value, "/\\\x00") {
		return errors.New("不允许包含路径分隔符")
	}
	return nil
}
