package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/shellcache/internal/cache"
)

// ErrNotInstalled 表示尚未完成安装就尝试激活。
var ErrNotInstalled = errors.New("worker is not installed")

// InstallReport 汇总一次安装的预取结果。
type InstallReport struct {
	ShellAttempted    int `json:"shell_attempted"`
	ShellStored       int `json:"shell_stored"`
	ExternalAttempted int `json:"external_attempted"`
	ExternalStored    int `json:"external_stored"`
}

// Install 并发预取 App Shell 与外部资源。每个 URL 都会被尝试，单个失败只记录日志；
// 两组都结束后进入 installed，开启 SkipWaitingOnInstall 时立即激活。
func (w *Worker) Install(ctx context.Context) (InstallReport, error) {
	if w.isClosed() {
		return InstallReport{}, ErrClosed
	}
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.setState(StateInstalling)
	logger := w.logger.WithField("action", "install")

	shellStore, err := w.storage.Open(ctx, w.site.ShellCache)
	if err != nil {
		w.setState(StateParsed)
		return InstallReport{}, fmt.Errorf("open shell cache: %w", err)
	}
	generalStore, err := w.storage.Open(ctx, w.site.GeneralCache)
	if err != nil {
		w.setState(StateParsed)
		return InstallReport{}, fmt.Errorf("open general cache: %w", err)
	}

	var shellStored, externalStored atomic.Int32
	var groups errgroup.Group
	groups.Go(func() error {
		w.precache(ctx, shellStore, w.site.ShellURLs, cache.ResponseBasic, "install_shell_failed", &shellStored)
		return nil
	})
	groups.Go(func() error {
		w.precache(ctx, generalStore, w.site.ExternalResources, cache.ResponseOpaque, "install_external_failed", &externalStored)
		return nil
	})
	_ = groups.Wait()

	report := InstallReport{
		ShellAttempted:    len(w.site.ShellURLs),
		ShellStored:       int(shellStored.Load()),
		ExternalAttempted: len(w.site.ExternalResources),
		ExternalStored:    int(externalStored.Load()),
	}
	if err := ctx.Err(); err != nil {
		w.setState(StateParsed)
		return report, err
	}

	w.setState(StateInstalled)
	logger.WithFields(logrus.Fields{
		"shell_cache":        w.site.ShellCache,
		"shell_stored":       report.ShellStored,
		"shell_attempted":    report.ShellAttempted,
		"external_stored":    report.ExternalStored,
		"external_attempted": report.ExternalAttempted,
	}).Info("install_complete")

	if w.cfg.Site.SkipWaitingOnInstall {
		if _, err := w.activateLocked(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// precache 以受限并发逐个预取，成功（2xx）的响应写入 store。
func (w *Worker) precache(ctx context.Context, store cache.Store, urls []string, respType cache.ResponseType, failure string, stored *atomic.Int32) {
	var group errgroup.Group
	group.SetLimit(w.limit)
	for _, rawURL := range urls {
		group.Go(func() error {
			logger := w.logger.WithFields(logrus.Fields{"action": "install", "url": rawURL, "cache": store.Name()})

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				logger.WithError(err).Warn(failure)
				return nil
			}
			resp, err := w.fetcher.FetchWithRetry(ctx, req, w.retry)
			if err != nil {
				logger.WithError(err).Warn(failure)
				return nil
			}
			if !resp.OK() {
				logger.WithField("status", resp.Status).Warn(failure)
				return nil
			}
			if respType == cache.ResponseOpaque {
				resp.Type = cache.ResponseOpaque
			}
			if err := store.Put(ctx, cache.GetKey(rawURL), resp); err != nil {
				logger.WithError(err).Warn(failure)
				return nil
			}
			stored.Add(1)
			return nil
		})
	}
	_ = group.Wait()
}

// Activate 删除名称不属于当前版本的全部缓存仓，接管所有页面，返回被删除的仓名称。
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	if w.isClosed() {
		return nil, ErrClosed
	}
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	return w.activateLocked(ctx)
}

func (w *Worker) activateLocked(ctx context.Context) ([]string, error) {
	switch w.State() {
	case StateInstalled, StateActivated:
	default:
		return nil, ErrNotInstalled
	}
	w.setState(StateActivating)
	logger := w.logger.WithField("action", "activate")

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return nil, fmt.Errorf("list caches: %w", err)
	}
	var deleted []string
	for _, name := range names {
		if name == w.site.ShellCache || name == w.site.GeneralCache {
			continue
		}
		ok, err := w.storage.Delete(ctx, name)
		if err != nil {
			logger.WithField("cache", name).WithError(err).Warn("cache_delete_failed")
			continue
		}
		if ok {
			deleted = append(deleted, name)
			logger.WithField("cache", name).Info("cache_deleted")
		}
	}

	claimed := w.clients.Claim()
	w.setState(StateActivated)
	logger.WithFields(logrus.Fields{
		"deleted": len(deleted),
		"claimed": claimed,
	}).Info("activate_complete")
	return deleted, nil
}

// SkipWaiting 在已安装且等待激活时立即激活，其他状态下不做任何事。
func (w *Worker) SkipWaiting(ctx context.Context) error {
	if w.isClosed() {
		return ErrClosed
	}
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if w.State() != StateInstalled {
		return nil
	}
	_, err := w.activateLocked(ctx)
	return err
}
