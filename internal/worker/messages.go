package worker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/clients"
)

// HandleMessage 处理页面发来的控制消息：SKIP_WAITING 立即激活，CLEAR_CACHE 删除当前两个缓存仓，
// GET_CACHE_INFO 通过 port 回传全部仓名称。其他类型忽略。
func (w *Worker) HandleMessage(ctx context.Context, msg clients.Message, port clients.ReplyPort) error {
	logger := w.logger.WithFields(logrus.Fields{"action": "message", "type": msg.Type})
	logger.Debug("message_received")

	switch msg.Type {
	case clients.TypeSkipWaiting:
		return w.SkipWaiting(ctx)
	case clients.TypeClearCache:
		_, err := w.ClearCaches(ctx)
		return err
	case clients.TypeGetCacheInfo:
		names, err := w.storage.Keys(ctx)
		if err != nil {
			return fmt.Errorf("list caches: %w", err)
		}
		if port == nil {
			logger.Warn("reply_port_missing")
			return nil
		}
		port.PostMessage(clients.Message{Type: clients.TypeCacheInfo, Caches: nonNil(names)})
		return nil
	default:
		logger.Debug("message_ignored")
		return nil
	}
}

// ClearCaches 删除当前版本的两个缓存仓，返回实际删除的名称。
func (w *Worker) ClearCaches(ctx context.Context) ([]string, error) {
	var deleted []string
	for _, name := range []string{w.site.GeneralCache, w.site.ShellCache} {
		ok, err := w.storage.Delete(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("delete cache %s: %w", name, err)
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	w.logger.WithFields(logrus.Fields{
		"action":  "message",
		"deleted": deleted,
	}).Info("cache_cleared")
	return deleted, nil
}

// CacheInfo 返回全部缓存仓名称（按创建顺序）。
func (w *Worker) CacheInfo(ctx context.Context) ([]string, error) {
	names, err := w.storage.Keys(ctx)
	return nonNil(names), err
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

// Status 是诊断端使用的调度器快照。
type Status struct {
	State        State    `json:"state"`
	ShellCache   string   `json:"shell_cache"`
	GeneralCache string   `json:"general_cache"`
	Caches       []string `json:"caches"`
	Clients      int      `json:"clients"`
	Controlled   int      `json:"controlled"`
}

// Status 返回当前状态与全部缓存仓名称。
func (w *Worker) Status(ctx context.Context) (Status, error) {
	names, err := w.CacheInfo(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:        w.State(),
		ShellCache:   w.site.ShellCache,
		GeneralCache: w.site.GeneralCache,
		Caches:       names,
		Clients:      len(w.clients.MatchAll(true)),
		Controlled:   len(w.clients.MatchAll(false)),
	}, nil
}
