package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、缓存存储与后台维护节奏。
type GlobalConfig struct {
	ListenPort             int      `mapstructure:"ListenPort"`
	LogLevel               string   `mapstructure:"LogLevel"`
	LogFilePath            string   `mapstructure:"LogFilePath"`
	LogMaxSize             int      `mapstructure:"LogMaxSize"`
	LogMaxBackups          int      `mapstructure:"LogMaxBackups"`
	LogCompress            bool     `mapstructure:"LogCompress"`
	StoragePath            string   `mapstructure:"StoragePath"`
	StorageBackend         string   `mapstructure:"StorageBackend"`
	UpstreamTimeout        Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries             int      `mapstructure:"MaxRetries"`
	InitialBackoff         Duration `mapstructure:"InitialBackoff"`
	SyncInterval           Duration `mapstructure:"SyncInterval"`
	HealthCheckInterval    Duration `mapstructure:"HealthCheckInterval"`
	MaintenanceConcurrency int      `mapstructure:"MaintenanceConcurrency"`
}

// SiteConfig 描述被加速的站点：对外 Origin、真实回源地址以及缓存版本。
type SiteConfig struct {
	Origin               string `mapstructure:"Origin"`
	Upstream             string `mapstructure:"Upstream"`
	CachePrefix          string `mapstructure:"CachePrefix"`
	CacheVersion         string `mapstructure:"CacheVersion"`
	SkipWaitingOnInstall bool   `mapstructure:"SkipWaitingOnInstall"`
}

// PrecacheConfig 列出安装阶段需要预取的 App Shell 与外部资源。
type PrecacheConfig struct {
	ShellURLs         []string `mapstructure:"ShellURLs"`
	ExternalResources []string `mapstructure:"ExternalResources"`
	ManifestPath      string   `mapstructure:"ManifestPath"`
}

// RoutingConfig 控制请求分类、缓存准入以及离线兜底资源。
type RoutingConfig struct {
	ShellPaths              []string          `mapstructure:"ShellPaths"`
	IgnorePatterns          []string          `mapstructure:"IgnorePatterns"`
	DynamicMarkers          []string          `mapstructure:"DynamicMarkers"`
	CacheableExtensions     []string          `mapstructure:"CacheableExtensions"`
	CacheableTypes          []string          `mapstructure:"CacheableTypes"`
	AllowedCrossOriginHosts []string          `mapstructure:"AllowedCrossOriginHosts"`
	FallbackDocument        string            `mapstructure:"FallbackDocument"`
	FallbackImage           string            `mapstructure:"FallbackImage"`
	Strategies              map[string]string `mapstructure:"Strategies"`
}

// NotificationConfig 为推送通知提供默认标题、正文与图标。
type NotificationConfig struct {
	DefaultTitle string `mapstructure:"DefaultTitle"`
	DefaultBody  string `mapstructure:"DefaultBody"`
	Icon         string `mapstructure:"Icon"`
	Badge        string `mapstructure:"Badge"`
	Vibrate      []int  `mapstructure:"Vibrate"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	Site         SiteConfig         `mapstructure:"Site"`
	Precache     PrecacheConfig     `mapstructure:"Precache"`
	Routing      RoutingConfig      `mapstructure:"Routing"`
	Notification NotificationConfig `mapstructure:"Notification"`
}

// CacheNames 返回当前版本的 shell 与通用缓存名称，激活时只保留这两个。
func (c *Config) CacheNames() (shell, general string) {
	prefix := strings.TrimSpace(c.Site.CachePrefix)
	version := strings.TrimSpace(c.Site.CacheVersion)
	return fmt.Sprintf("%s-shell-%s", prefix, version), fmt.Sprintf("%s-%s", prefix, version)
}

// UpstreamURL 返回实际回源地址，未配置时与 Origin 相同。
func (s SiteConfig) UpstreamURL() string {
	if strings.TrimSpace(s.Upstream) != "" {
		return s.Upstream
	}
	return s.Origin
}
