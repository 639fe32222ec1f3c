package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySiteDefaults(&cfg.Site)
	applyRoutingDefaults(&cfg.Routing)
	applyNotificationDefaults(&cfg.Notification)

	if err := applyPrecacheDefaults(&cfg.Precache, filepath.Dir(path)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageBackend", defaultStorageBackend)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "500ms")
	v.SetDefault("SyncInterval", 0)
	v.SetDefault("HealthCheckInterval", 0)
	v.SetDefault("MaintenanceConcurrency", defaultConcurrency)
	v.SetDefault("Site.CachePrefix", defaultCachePrefix)
	v.SetDefault("Site.CacheVersion", defaultCacheVersion)
	v.SetDefault("Site.SkipWaitingOnInstall", true)
}

// ApplyDefaults 为直接构造的 Config（例如测试或嵌入场景）补齐默认值，不读取文件。
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	applyGlobalDefaults(&cfg.Global)
	applySiteDefaults(&cfg.Site)
	applyRoutingDefaults(&cfg.Routing)
	applyNotificationDefaults(&cfg.Notification)
	if len(cfg.Precache.ShellURLs) == 0 && cfg.Precache.ManifestPath == "" {
		cfg.Precache.ShellURLs = cloneStrings(defaultShellURLs)
	}
	if cfg.Precache.ExternalResources == nil && cfg.Precache.ManifestPath == "" {
		cfg.Precache.ExternalResources = cloneStrings(defaultExternalResources)
	}
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = defaultListenPort
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.StoragePath == "" {
		g.StoragePath = "./storage"
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = defaultStorageBackend
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(defaultUpstreamTimeout)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(defaultInitialBackoff)
	}
	if g.MaintenanceConcurrency == 0 {
		g.MaintenanceConcurrency = defaultConcurrency
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Origin = strings.TrimRight(strings.TrimSpace(s.Origin), "/")
	s.Upstream = strings.TrimRight(strings.TrimSpace(s.Upstream), "/")
	if strings.TrimSpace(s.CachePrefix) == "" {
		s.CachePrefix = defaultCachePrefix
	}
	if strings.TrimSpace(s.CacheVersion) == "" {
		s.CacheVersion = defaultCacheVersion
	}
}

func applyRoutingDefaults(r *RoutingConfig) {
	if len(r.ShellPaths) == 0 {
		r.ShellPaths = cloneStrings(defaultShellPaths)
	}
	if len(r.IgnorePatterns) == 0 {
		r.IgnorePatterns = cloneStrings(defaultIgnorePatterns)
	}
	if len(r.DynamicMarkers) == 0 {
		r.DynamicMarkers = cloneStrings(defaultDynamicMarkers)
	}
	if len(r.CacheableExtensions) == 0 {
		r.CacheableExtensions = cloneStrings(defaultCacheableExtensions)
	}
	for i, ext := range r.CacheableExtensions {
		r.CacheableExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	if len(r.CacheableTypes) == 0 {
		r.CacheableTypes = cloneStrings(defaultCacheableTypes)
	}
	if len(r.AllowedCrossOriginHosts) == 0 {
		r.AllowedCrossOriginHosts = cloneStrings(defaultCrossOriginHosts)
	}
	if r.FallbackDocument == "" {
		r.FallbackDocument = "./"
	}
	if r.FallbackImage == "" {
		r.FallbackImage = "./public/img/logo.ico"
	}
	if len(r.Strategies) > 0 {
		normalized := make(map[string]string, len(r.Strategies))
		for category, key := range r.Strategies {
			normalized[strings.ToLower(strings.TrimSpace(category))] = strings.ToLower(strings.TrimSpace(key))
		}
		r.Strategies = normalized
	}
}

func applyNotificationDefaults(n *NotificationConfig) {
	if n.DefaultTitle == "" {
		n.DefaultTitle = "Aldair Dev"
	}
	if n.DefaultBody == "" {
		n.DefaultBody = "New update available"
	}
	if n.Icon == "" {
		n.Icon = "./public/img/logo.ico"
	}
	if n.Badge == "" {
		n.Badge = "./public/img/logo.png"
	}
	if len(n.Vibrate) == 0 {
		n.Vibrate = append([]int(nil), defaultVibrate...)
	}
}

// applyPrecacheDefaults 优先使用 YAML 清单，其次是 TOML 中的列表，最后回退到内置默认值。
func applyPrecacheDefaults(p *PrecacheConfig, baseDir string) error {
	if manifestPath := strings.TrimSpace(p.ManifestPath); manifestPath != "" {
		if !filepath.IsAbs(manifestPath) {
			manifestPath = filepath.Join(baseDir, manifestPath)
		}
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			return newFieldError("Precache.ManifestPath", err.Error())
		}
		p.ManifestPath = manifestPath
		p.ShellURLs = manifest.Shell
		p.ExternalResources = manifest.External
		return nil
	}
	if len(p.ShellURLs) == 0 {
		p.ShellURLs = cloneStrings(defaultShellURLs)
	}
	if p.ExternalResources == nil {
		p.ExternalResources = cloneStrings(defaultExternalResources)
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
