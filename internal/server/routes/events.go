package routes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/shellcache/internal/clients"
)

const keepAliveInterval = 15 * time.Second

// RegisterEventRoutes 暴露 /-/clients/events：每个 SSE 连接对应一个页面，
// 调度器发给该页面的消息以 data 行推送。
func RegisterEventRoutes(app *fiber.App, registry *clients.Registry, logger *logrus.Logger) {
	if app == nil || registry == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/clients/events", func(c fiber.Ctx) error {
		client := registry.Connect(c.Query("url"))
		fields := logrus.Fields{"action": "client_events", "client_id": client.ID, "url": client.URL}
		logger.WithFields(fields).Info("client_connected")

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")

		c.RequestCtx().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer func() {
				registry.Disconnect(client.ID)
				logger.WithFields(fields).Info("client_disconnected")
			}()
			if err := writeEvent(w, "connected", fiber.Map{"id": client.ID}); err != nil {
				return
			}
			ticker := time.NewTicker(keepAliveInterval)
			defer ticker.Stop()
			if err := streamEvents(w, client.Messages(), ticker.C); err != nil {
				logger.WithFields(fields).WithError(err).Debug("client_stream_closed")
			}
		}))
		return nil
	})
}

// streamEvents 持续写出消息直到通道关闭或写入失败，tick 触发时写入注释行保活。
func streamEvents(w *bufio.Writer, messages <-chan clients.Message, tick <-chan time.Time) error {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := writeEvent(w, "message", msg); err != nil {
				return err
			}
		case <-tick:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w *bufio.Writer, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw); err != nil {
		return err
	}
	return w.Flush()
}
