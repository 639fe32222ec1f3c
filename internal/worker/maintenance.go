package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// 后台同步标签。
const (
	TagUpdateCache = "update-cache"
	TagHealthCheck = "health-check"
)

// SweepReport 汇总一次 update-cache 扫描。
type SweepReport struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Sync 对应 sync 事件，只响应 update-cache 标签，返回是否识别该标签。
func (w *Worker) Sync(ctx context.Context, tag string) (SweepReport, bool, error) {
	if tag != TagUpdateCache {
		w.logger.WithFields(logrus.Fields{"action": "sync", "tag": tag}).Debug("sync_ignored")
		return SweepReport{}, false, nil
	}
	report, err := w.UpdateCache(ctx)
	return report, true, err
}

// UpdateCache 重新请求通用缓存仓中的每个键，成功（2xx）时覆盖；单个失败只记录日志，不影响其余键。
func (w *Worker) UpdateCache(ctx context.Context) (SweepReport, error) {
	store, err := w.GeneralStore(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("open general cache: %w", err)
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list general cache: %w", err)
	}

	var updated, failed atomic.Int32
	var group errgroup.Group
	group.SetLimit(w.limit)
	for _, key := range keys {
		group.Go(func() error {
			logger := w.logger.WithFields(logrus.Fields{"action": "sync", "url": key.URL})
			req, err := http.NewRequestWithContext(ctx, key.Method, key.URL, nil)
			if err != nil {
				failed.Add(1)
				logger.WithError(err).Warn("update_failed")
				return nil
			}
			resp, err := w.fetcher.FetchWithRetry(ctx, req, w.retry)
			if err != nil {
				failed.Add(1)
				logger.WithError(err).Warn("update_failed")
				return nil
			}
			if !resp.OK() {
				failed.Add(1)
				logger.WithField("status", resp.Status).Warn("update_failed")
				return nil
			}
			if err := store.Put(ctx, key, resp); err != nil {
				failed.Add(1)
				logger.WithError(err).Warn("update_failed")
				return nil
			}
			updated.Add(1)
			logger.Debug("cache_updated")
			return nil
		})
	}
	_ = group.Wait()

	report := SweepReport{Total: len(keys), Updated: int(updated.Load()), Failed: int(failed.Load())}
	w.logger.WithFields(logrus.Fields{
		"action":  "sync",
		"cache":   store.Name(),
		"total":   report.Total,
		"updated": report.Updated,
		"failed":  report.Failed,
	}).Info("update_cache_complete")
	return report, ctx.Err()
}

// PeriodicSync 对应 periodicsync 事件，只响应 health-check 标签。
func (w *Worker) PeriodicSync(ctx context.Context, tag string) (healthy bool, handled bool) {
	if tag != TagHealthCheck {
		w.logger.WithFields(logrus.Fields{"action": "periodic_sync", "tag": tag}).Debug("sync_ignored")
		return false, false
	}
	return w.HealthCheck(ctx), true
}

// HealthCheck 绕过缓存请求站点根，2xx 视为健康。
func (w *Worker) HealthCheck(ctx context.Context) bool {
	root := w.site.Origin.String()
	logger := w.logger.WithFields(logrus.Fields{"action": "health_check", "url": root})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, root, nil)
	if err != nil {
		logger.WithError(err).Error("health_check_failed")
		return false
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		logger.WithError(err).Error("health_check_failed")
		return false
	}
	if !resp.OK() {
		logger.WithField("status", resp.Status).Warn("health_check_failed")
		return false
	}
	logger.Info("health_check_ok")
	return true
}

// Run 按配置的周期触发 update-cache 与 health-check，直到 ctx 结束。周期为 0 的任务不启动。
func (w *Worker) Run(ctx context.Context) {
	syncTick := newTicker(w.cfg.Global.SyncInterval.DurationValue())
	defer syncTick.stop()
	healthTick := newTicker(w.cfg.Global.HealthCheckInterval.DurationValue())
	defer healthTick.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTick.c:
			w.Background("sync_"+TagUpdateCache, func(bgCtx context.Context) {
				_, _, _ = w.Sync(bgCtx, TagUpdateCache)
			})
		case <-healthTick.c:
			w.Background("periodic_sync_"+TagHealthCheck, func(bgCtx context.Context) {
				w.PeriodicSync(bgCtx, TagHealthCheck)
			})
		}
	}
}

type ticker struct {
	t *time.Ticker
	c <-chan time.Time
}

// newTicker 在 interval <= 0 时返回永不触发的 ticker。
func newTicker(interval time.Duration) ticker {
	if interval <= 0 {
		return ticker{}
	}
	t := time.NewTicker(interval)
	return ticker{t: t, c: t.C}
}

func (t ticker) stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
