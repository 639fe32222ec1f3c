package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/clients"
	"github.com/any-hub/shellcache/internal/notify"
	"github.com/any-hub/shellcache/internal/worker"
)

// RegisterControlRoutes 暴露页面与运维使用的控制接口：消息、缓存信息、同步、推送与通知点击。
func RegisterControlRoutes(app *fiber.App, w *worker.Worker, logger *logrus.Logger) {
	if app == nil || w == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Post("/-/messages", func(c fiber.Ctx) error {
		return handleMessage(c, w)
	})

	app.Get("/-/caches", func(c fiber.Ctx) error {
		names, err := w.CacheInfo(requestContext(c))
		if err != nil {
			logger.WithFields(logrus.Fields{"action": "control"}).WithError(err).Error("cache_info_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_info_failed"})
		}
		return c.JSON(cacheInfoPayload(names))
	})

	app.Post("/-/sync/:tag", func(c fiber.Ctx) error {
		tag := strings.TrimSpace(c.Params("tag"))
		handled := tag == worker.TagUpdateCache
		if handled {
			w.Background("sync:"+tag, func(ctx context.Context) {
				_, _, _ = w.Sync(ctx, tag)
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"tag": tag, "handled": handled})
	})

	app.Post("/-/periodic-sync/:tag", func(c fiber.Ctx) error {
		tag := strings.TrimSpace(c.Params("tag"))
		healthy, handled := w.PeriodicSync(requestContext(c), tag)
		payload := fiber.Map{"tag": tag, "handled": handled}
		if handled {
			payload["healthy"] = healthy
		}
		return c.Status(fiber.StatusAccepted).JSON(payload)
	})

	app.Post("/-/push", func(c fiber.Ctx) error {
		data := append([]byte(nil), c.Body()...)
		n, ok := w.Push(requestContext(c), data)
		if !ok {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ignored": true})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"notification": n})
	})

	app.Get("/-/notifications", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"notifications": w.Notifications()})
	})

	app.Get("/-/notifications/:id/:action", func(c fiber.Ctx) error {
		click, err := w.NotificationClick(c.Params("id"), c.Params("action"))
		if errors.Is(err, notify.ErrUnknownNotification) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification_not_found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "notification_click_failed"})
		}
		if click.OpenURL != "" {
			return c.Redirect().Status(fiber.StatusFound).To(click.OpenURL)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		status, err := w.Status(requestContext(c))
		if err != nil {
			logger.WithFields(logrus.Fields{"action": "control"}).WithError(err).Error("status_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status_failed"})
		}
		return c.JSON(status)
	})
}

// handleMessage 对应 postMessage：GET_CACHE_INFO 同步回传 CACHE_INFO，其余消息返回 202。
func handleMessage(c fiber.Ctx, w *worker.Worker) error {
	var msg clients.Message
	if err := c.Bind().JSON(&msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
	}

	var reply *clients.Message
	port := clients.ReplyFunc(func(m clients.Message) {
		reply = &m
	})
	if err := w.HandleMessage(requestContext(c), msg, port); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "message_failed"})
	}
	if reply != nil && reply.Type == clients.TypeCacheInfo {
		return c.JSON(cacheInfoPayload(reply.Caches))
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": msg.Type})
}

// cacheInfoPayload 显式输出 caches，空列表也保留字段。
func cacheInfoPayload(names []string) fiber.Map {
	if names == nil {
		names = []string{}
	}
	return fiber.Map{"type": clients.TypeCacheInfo, "caches": names}
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
