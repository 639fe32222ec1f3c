package main

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/network"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/worker"
)

// components 是一次命令执行期间共享的组件，由 bootstrap 按
// “配置 → 日志 → 缓存存储 → 回源客户端 → 调度器”的顺序构建。
type components struct {
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
	storage    cache.Storage
	httpClient *http.Client
	worker     *worker.Worker
}

func loadConfig(path string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}

func bootstrap(path string) (*components, error) {
	cfg, logger, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	storage, err := cache.Open(cfg.Global.StorageBackend, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	site, err := config.BuildSiteRuntime(cfg)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("解析站点配置失败: %w", err)
	}

	httpClient := server.NewUpstreamClient(cfg)
	fetcher := network.NewClient(network.Options{
		HTTPClient: httpClient,
		Origin:     site.Origin,
		Upstream:   site.Upstream,
		Retry: network.RetryPolicy{
			MaxRetries:     cfg.Global.MaxRetries,
			InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
		},
		Logger: logger,
	})

	w, err := worker.New(worker.Options{
		Config:  cfg,
		Storage: storage,
		Fetcher: fetcher,
		Logger:  logger,
	})
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("构建调度器失败: %w", err)
	}

	return &components{
		configPath: path,
		cfg:        cfg,
		logger:     logger,
		storage:    storage,
		httpClient: httpClient,
		worker:     w,
	}, nil
}

// Close 等待后台任务结束后关闭存储。
func (r *components) Close() {
	if err := r.worker.Close(); err != nil {
		r.logger.WithError(err).Warn("worker_close_failed")
	}
	if err := r.storage.Close(); err != nil {
		r.logger.WithError(err).Warn("storage_close_failed")
	}
}
