package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-hub/shellcache/internal/routing"
	"github.com/any-hub/shellcache/internal/strategy"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 应解析为 15s，得到 %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.HealthCheckInterval.DurationValue() != 300*time.Second {
		t.Fatalf("纯数字 Duration 应按秒解析，得到 %s", cfg.Global.HealthCheckInterval.DurationValue())
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Site.Origin != "https://aldair.dev" {
		t.Fatalf("Origin 末尾斜杠应被去除，得到 %s", cfg.Site.Origin)
	}
	if cfg.Site.CachePrefix != defaultCachePrefix {
		t.Fatalf("CachePrefix 应使用默认值，得到 %s", cfg.Site.CachePrefix)
	}
	if !cfg.Site.SkipWaitingOnInstall {
		t.Fatalf("SkipWaitingOnInstall 默认应为 true")
	}
	if len(cfg.Routing.ShellPaths) == 0 || len(cfg.Routing.CacheableTypes) == 0 {
		t.Fatalf("路由默认值应被填充")
	}
	if cfg.Routing.Strategies["static"] != strategy.KeyCacheFirst {
		t.Fatalf("策略覆盖应被规范化为小写键，得到 %v", cfg.Routing.Strategies)
	}
}

func TestLoadReadsPrecacheManifest(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	want := []string{"./", "./index.html", "./src/styles/style.css"}
	if len(cfg.Precache.ShellURLs) != len(want) {
		t.Fatalf("清单中的空白项应被去除，得到 %v", cfg.Precache.ShellURLs)
	}
	for i := range want {
		if cfg.Precache.ShellURLs[i] != want[i] {
			t.Fatalf("shell[%d] 期望 %s，得到 %s", i, want[i], cfg.Precache.ShellURLs[i])
		}
	}
	if len(cfg.Precache.ExternalResources) != 1 {
		t.Fatalf("external 应来自清单，得到 %v", cfg.Precache.ExternalResources)
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	_, err := Load(testConfigPath(t, "missing.toml"))
	if err == nil {
		t.Fatalf("缺少 Origin 的配置应返回错误")
	}
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Routing.Strategies = map[string]string{"static": "cache-only"}
	var fieldErr FieldError
	if err := cfg.Validate(); !errors.As(err, &fieldErr) || fieldErr.Field != "Routing.Strategies" {
		t.Fatalf("未注册策略应返回 Routing.Strategies 字段错误，得到 %v", err)
	}

	cfg.Routing.Strategies = map[string]string{"videos": "cache-first"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知分类应返回错误")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":   func(c *Config) { c.Global.StorageBackend = "redis" },
		"port":      func(c *Config) { c.Global.ListenPort = 70000 },
		"retries":   func(c *Config) { c.Global.MaxRetries = -1 },
		"query":     func(c *Config) { c.Site.Origin = "https://aldair.dev/?x=1" },
		"scheme":    func(c *Config) { c.Site.Origin = "ftp://aldair.dev" },
		"version":   func(c *Config) { c.Site.CacheVersion = "v1/2" },
		"external":  func(c *Config) { c.Precache.ExternalResources = []string{"//fonts.gstatic.com/x"} },
		"shell":     func(c *Config) { c.Precache.ShellURLs = nil },
		"intervals": func(c *Config) { c.Global.SyncInterval = Duration(-time.Second) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("%s 应校验失败", name)
			}
		})
	}
}

func TestCacheNames(t *testing.T) {
	cfg := &Config{Site: SiteConfig{CachePrefix: "aldair-portfolio", CacheVersion: "v1.0"}}
	shell, general := cfg.CacheNames()
	if shell != "aldair-portfolio-shell-v1.0" || general != "aldair-portfolio-v1.0" {
		t.Fatalf("缓存名称不符合预期: %s %s", shell, general)
	}
}

func TestBuildSiteRuntimeResolvesRelativeRefs(t *testing.T) {
	cfg := validConfig()
	cfg.Site.Upstream = "http://127.0.0.1:8080/portfolio"
	cfg.Routing.Strategies = map[string]string{"dynamic": "stale-while-revalidate"}

	site, err := BuildSiteRuntime(cfg)
	if err != nil {
		t.Fatalf("BuildSiteRuntime 返回错误: %v", err)
	}
	if site.ShellURLs[0] != "https://aldair.dev/" || site.ShellURLs[1] != "https://aldair.dev/index.html" {
		t.Fatalf("相对 shell 地址应以 Origin 解析，得到 %v", site.ShellURLs)
	}
	if site.Fallbacks.Document != "https://aldair.dev/" || site.Fallbacks.Image != "https://aldair.dev/public/img/logo.ico" {
		t.Fatalf("兜底资源解析错误: %+v", site.Fallbacks)
	}
	if site.Upstream.Host != "127.0.0.1:8080" {
		t.Fatalf("Upstream 解析错误: %s", site.Upstream)
	}
	if site.Mapping[routing.CategoryDynamic] != strategy.KeyStaleWhileRevalidate {
		t.Fatalf("策略覆盖未生效: %v", site.Mapping)
	}
	if site.Mapping[routing.CategoryShell] != strategy.KeyCacheFirst {
		t.Fatalf("未覆盖的分类应保留默认映射: %v", site.Mapping)
	}
}

func validConfig() *Config {
	cfg := &Config{
		Site: SiteConfig{Origin: "https://aldair.dev"},
		Precache: PrecacheConfig{
			ShellURLs:         []string{"./", "./index.html"},
			ExternalResources: []string{"https://fonts.googleapis.com/css2?family=Inter"},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
