package worker

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/clients"
	"github.com/any-hub/shellcache/internal/notify"
)

// Push 对应 push 事件：负载为空或不合法时忽略；否则展示通知并广播给所有页面。
func (w *Worker) Push(_ context.Context, data []byte) (notify.Notification, bool) {
	n, ok := w.notices.FromPush(data)
	if !ok {
		w.logger.WithFields(logrus.Fields{"action": "push", "bytes": len(data)}).Info("push_ignored")
		return notify.Notification{}, false
	}
	w.notices.Show(n)
	delivered := w.broadcastAll(clients.Message{Type: clients.TypeNotification, Notification: n})
	w.logger.WithFields(logrus.Fields{
		"action":          "push",
		"notification_id": n.ID,
		"delivered":       delivered,
	}).Info("notification_shown")
	return n, true
}

// NotificationClick 对应 notificationclick 事件：关闭通知，open 动作返回需要打开的 URL。
func (w *Worker) NotificationClick(id, action string) (notify.Click, error) {
	click, err := w.notices.Activate(id, action)
	logger := w.logger.WithFields(logrus.Fields{
		"action":          "notification_click",
		"notification_id": id,
		"click_action":    action,
	})
	if err != nil {
		logger.WithError(err).Info("notification_click_ignored")
		return notify.Click{}, err
	}
	logger.Info("notification_clicked")
	return click, nil
}

// Notifications 返回尚未关闭的通知。
func (w *Worker) Notifications() []notify.Notification {
	return w.notices.Active()
}
