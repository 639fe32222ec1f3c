package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/proxy"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/server/routes"
	"github.com/any-hub/shellcache/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Install the App Shell and serve the site through the cache",
		Long: `
The "serve" command precaches the App Shell, activates the current cache
version and starts the HTTP server. SIGINT or SIGTERM stop the server,
wait for background refreshes and close the cache storage.
`,
		DisableAutoGenTag: true,
		Args:              cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.configPath())
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	fields := logging.BaseFields("startup", configPath)
	fields["listen_port"] = rt.cfg.Global.ListenPort
	fields["origin"] = rt.cfg.Site.Origin
	fields["storage_backend"] = rt.cfg.Global.StorageBackend
	fields["version"] = version.Full()
	rt.logger.WithFields(fields).Info("配置加载完成")

	if _, err := rt.worker.Install(ctx); err != nil {
		return fmt.Errorf("安装 App Shell 失败: %w", err)
	}
	if _, err := rt.worker.Activate(ctx); err != nil {
		return fmt.Errorf("激活缓存失败: %w", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     rt.logger,
		Proxy:      proxy.NewForwarder(proxy.NewHandler(rt.worker, rt.logger), rt.logger),
		ListenPort: rt.cfg.Global.ListenPort,
	})
	if err != nil {
		return err
	}
	routes.Register(app, rt.worker, rt.logger)

	go rt.worker.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		rt.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   rt.cfg.Global.ListenPort,
		}).Info("Fiber 服务启动")
		errCh <- app.Listen(fmt.Sprintf(":%d", rt.cfg.Global.ListenPort), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP 服务启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号，开始关闭")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		rt.logger.WithError(err).Warn("shutdown_failed")
	}
	return nil
}
