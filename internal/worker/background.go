package worker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/clients"
)

// Background 对应 event.waitUntil：fn 在调度器生命周期内运行，panic 被恢复并记录。
// Close 之后提交的任务直接丢弃。
func (w *Worker) Background(name string, fn func(ctx context.Context)) {
	w.stateMu.Lock()
	if w.closed {
		w.stateMu.Unlock()
		w.logger.WithFields(logrus.Fields{
			"action": "background",
			"task":   name,
		}).Warn("background_rejected")
		return
	}
	w.bgWG.Add(1)
	w.stateMu.Unlock()

	go func() {
		defer w.bgWG.Done()
		defer w.recoverTask(name)
		fn(w.bgCtx)
	}()
}

func (w *Worker) recoverTask(name string) {
	if r := recover(); r != nil {
		w.logger.WithFields(logrus.Fields{
			"action": "background",
			"task":   name,
			"error":  fmt.Sprintf("%v", r),
		}).Error("unhandled_rejection")
	}
}

// Wait 阻塞直到当前所有后台任务结束。
func (w *Worker) Wait() {
	w.bgWG.Wait()
}

// Close 先取消后台任务的 ctx 再等待其退出，随后释放页面控制权，并将调度器置为 redundant。
func (w *Worker) Close() error {
	w.stateMu.Lock()
	if w.closed {
		w.stateMu.Unlock()
		return nil
	}
	w.closed = true
	w.stateMu.Unlock()

	w.bgCancel()
	w.bgWG.Wait()
	w.clients.Release()
	w.setState(StateRedundant)
	return nil
}

func (w *Worker) isClosed() bool {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.closed
}

// broadcastAll 发送给全部页面，包括尚未受控的页面。
func (w *Worker) broadcastAll(msg clients.Message) int {
	return w.clients.Broadcast(msg, true)
}
