package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/worker"
)

// Register 挂载全部 /-/ 控制接口。
func Register(app *fiber.App, w *worker.Worker, logger *logrus.Logger) {
	RegisterControlRoutes(app, w, logger)
	RegisterEventRoutes(app, w.Clients(), logger)
	RegisterStrategyRoutes(app, w.Mapping())
}
