package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"order-exec/internal/app"
	"order-exec/internal/config"
	"order-exec/internal/log"
	"order-exec/internal/store"
)

const exitInterrupted = 130

func main() {
	var (
		configPath string
		dryRun     bool
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.BoolVar(&dryRun, "dry-run", false, "使用本地桩网关, 不向交易所发送真实请求")
	flag.BoolVar(&verbose, "verbose", false, "输出 debug 级日志")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	botApp, err := app.New(cfg, logger, sqliteStore, dryRun)
	if err != nil {
		logger.Error("初始化失败", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := botApp.Run(ctx, flag.Args()); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Warn("命令被中断")
			_ = logger.Sync()
			sqliteStore.Close()
			os.Exit(exitInterrupted)
		}
		logger.Error("命令执行失败", zap.Error(err))
		_ = logger.Sync()
		sqliteStore.Close()
		os.Exit(1)
	}

	logger.Info("命令执行完成")
}
