package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/shellcache/internal/config"
)

// InitLogger 按 [Global] 段构建 JSON 日志；日志文件不可写时降级到 stdout，不阻止启动。
// 同时同步 logrus 包级 logger，供未持有实例的调用方使用。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	return initLogger(cfg, os.Stderr)
}

func initLogger(cfg config.GlobalConfig, notice io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	var output io.Writer = os.Stdout
	var rotateErr error
	if cfg.LogFilePath != "" {
		output, rotateErr = openRotator(cfg)
		if rotateErr != nil {
			output = os.Stdout
			// logger 尚未就绪，先在 stderr 留一行便于排查。
			fmt.Fprintf(notice, "shellcache: 日志文件 %s 不可用，改写 stdout: %v\n", cfg.LogFilePath, rotateErr)
		}
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if rotateErr != nil {
		logger.WithFields(logrus.Fields{
			"action":   "log_output_fallback",
			"log_file": cfg.LogFilePath,
			"output":   "stdout",
		}).WithError(rotateErr).Warn("log_output_fallback")
	}
	return logger, nil
}

// openRotator 创建日志目录并返回按大小滚动的 lumberjack 写入器。
func openRotator(cfg config.GlobalConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
