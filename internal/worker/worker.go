// Package worker 实现离线缓存调度器：安装/激活生命周期、按请求分类选择缓存策略、
// 页面控制消息、后台同步与推送通知。
package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/clients"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/network"
	"github.com/any-hub/shellcache/internal/notify"
	"github.com/any-hub/shellcache/internal/strategy"
)

// State 对应 ServiceWorker.state。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Fetcher 是调度器依赖的网络能力，由 network.Client 实现。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	FetchWithRetry(ctx context.Context, req *http.Request, policy network.RetryPolicy) (*cache.Response, error)
}

// Options 汇总调度器的全部依赖。
type Options struct {
	Config        *config.Config
	Storage       cache.Storage
	Fetcher       Fetcher
	Clients       *clients.Registry
	Notifications *notify.Center
	Logger        logrus.FieldLogger
}

// ErrClosed 表示调度器已进入 redundant 状态。
var ErrClosed = errors.New("worker is redundant")

// Worker 是离线缓存调度器，可并发使用。
type Worker struct {
	cfg       *config.Config
	site      config.SiteRuntime
	storage   cache.Storage
	fetcher   Fetcher
	clients   *clients.Registry
	notices   *notify.Center
	logger    logrus.FieldLogger
	retry     network.RetryPolicy
	limit     int
	lifecycle sync.Mutex

	stateMu sync.RWMutex
	state   State

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	closed   bool
}

// New 根据配置构建调度器，初始状态为 parsed。
func New(opts Options) (*Worker, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	site, err := config.BuildSiteRuntime(opts.Config)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	registry := opts.Clients
	if registry == nil {
		registry = clients.NewRegistry(logger, 0)
	}
	center := opts.Notifications
	if center == nil {
		center = notify.NewCenter(NotificationDefaults(opts.Config, site))
	}

	limit := opts.Config.Global.MaintenanceConcurrency
	if limit < 1 {
		limit = 1
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:     opts.Config,
		site:    site,
		storage: opts.Storage,
		fetcher: opts.Fetcher,
		clients: registry,
		notices: center,
		logger:  logger,
		retry: network.RetryPolicy{
			MaxRetries:     opts.Config.Global.MaxRetries,
			InitialBackoff: opts.Config.Global.InitialBackoff.DurationValue(),
		},
		limit:    limit,
		state:    StateParsed,
		bgCtx:    bgCtx,
		bgCancel: cancel,
	}, nil
}

// NotificationDefaults 将 [Notification] 配置中的相对图标解析为绝对 URL，默认打开站点根。
func NotificationDefaults(cfg *config.Config, site config.SiteRuntime) notify.Defaults {
	icon, _ := site.Resolve(cfg.Notification.Icon)
	badge, _ := site.Resolve(cfg.Notification.Badge)
	return notify.Defaults{
		Title:   cfg.Notification.DefaultTitle,
		Body:    cfg.Notification.DefaultBody,
		URL:     site.Origin.String(),
		Icon:    icon,
		Badge:   badge,
		Vibrate: cfg.Notification.Vibrate,
	}
}

// State 返回当前生命周期状态。
func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.stateMu.Lock()
	prev := w.state
	w.state = state
	w.stateMu.Unlock()

	if prev != state {
		w.logger.WithFields(logrus.Fields{
			"action": "lifecycle",
			"from":   prev,
			"to":     state,
		}).Debug("state_changed")
	}
}

// Site 返回解析后的站点运行期配置。
func (w *Worker) Site() config.SiteRuntime {
	return w.site
}

// Clients 返回页面注册表。
func (w *Worker) Clients() *clients.Registry {
	return w.clients
}

// CacheNames 返回当前版本的 shell 与通用缓存名称。
func (w *Worker) CacheNames() (shell, general string) {
	return w.site.ShellCache, w.site.GeneralCache
}

// Storage 实现 strategy.Env。
func (w *Worker) Storage() cache.Storage {
	return w.storage
}

// GeneralStore 实现 strategy.Env，仓不存在时创建。
func (w *Worker) GeneralStore(ctx context.Context) (cache.Store, error) {
	return w.storage.Open(ctx, w.site.GeneralCache)
}

// Fetch 实现 strategy.Env。
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	return w.fetcher.Fetch(ctx, req)
}

// ShouldCache 实现 strategy.Env。
func (w *Worker) ShouldCache(req *http.Request, resp *cache.Response) bool {
	return w.site.Rules.ShouldCache(req, resp)
}

// Fallbacks 实现 strategy.Env。
func (w *Worker) Fallbacks() strategy.Fallbacks {
	return w.site.Fallbacks
}

// Broadcast 实现 strategy.Env：只发送给受控页面。
func (w *Worker) Broadcast(msg clients.Message) {
	w.clients.Broadcast(msg, false)
}

// Logger 实现 strategy.Env。
func (w *Worker) Logger() logrus.FieldLogger {
	return w.logger
}

var _ strategy.Env = (*Worker)(nil)
