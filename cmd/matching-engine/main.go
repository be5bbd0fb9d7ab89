package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"matchcore.com/internal/app"
	"matchcore.com/pkg/config"
	"matchcore.com/pkg/logger"
)

const serviceName = "matching-engine"

var configDir = flag.String("config", "", "extra directory to search for matching-engine.yaml")

func main() {
	flag.Parse()

	// SIGINT / SIGTERM 时取消，触发优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	cfg := &app.Cfg{}
	if _, err := config.Load(serviceName, cfg, paths...); err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Name == "" {
		cfg.Name = serviceName
	}
	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)

	a, err := app.New(*cfg)
	if err != nil {
		logger.Fatal(ctx, "init app", zap.Error(err))
	}
	defer a.Close()

	// 热更新只处理新增交易对，其余配置重启生效
	reload := &app.Cfg{}
	if _, err := config.LoadAndWatch(serviceName, reload, func() {
		if err := a.AddMarkets(reload.Markets); err != nil {
			logger.Error(ctx, "add markets from config", zap.Error(err))
		}
	}, paths...); err != nil {
		logger.Warn(ctx, "config watch disabled", zap.Error(err))
	}

	logger.Info(ctx, "matching engine started",
		zap.String("http", cfg.HTTP.Addr), zap.Strings("markets", cfg.Markets))
	if err := a.Run(ctx); err != nil {
		logger.Error(ctx, "matching engine exited", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
	logger.Info(context.Background(), "matching engine stopped")
}
