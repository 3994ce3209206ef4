package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/system-design/textboard/internal"
	"github.com/koopa0/system-design/textboard/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", os.Getenv(internal.EnvConfigPath), "YAML 配置檔路徑")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)，覆蓋配置檔")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)，覆蓋配置檔")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		// logger 還沒建立
		bootstrap, _ := logger.New(logger.Options{})
		bootstrap.Error("載入配置失敗", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	log, level := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.Level == "debug", // debug 模式顯示源碼位置
	})

	// 組裝元件
	metrics := internal.NewMetrics()
	manager := internal.NewManager(log)
	conns := internal.NewConnections(log, metrics)
	dispatcher := internal.NewDispatcher(manager, conns, log, metrics)
	hub := internal.NewHub(dispatcher, cfg.WebSocket, log, internal.WithRateLimit(cfg.RateLimit))
	handler := internal.NewHandler(hub, cfg.Server.StaticDir, log)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 配置熱更新：只套用日誌級別與速率限制，監聽位址等需要重啟
	if *configPath != "" {
		go func() {
			err := internal.WatchConfig(ctx, *configPath, log, func(next internal.Config) {
				level.Set(logger.ParseLevel(next.Log.Level))
				hub.SetRateLimit(next.RateLimit)
				log.Info("已套用新配置",
					"log_level", next.Log.Level,
					"rate_per_second", next.RateLimit.PerSecond,
					"rate_burst", next.RateLimit.Burst)
			})
			if err != nil {
				log.Error("配置監看啟動失敗", "path", *configPath, "error", err)
			}
		}()
	}

	// 啟動服務器
	go func() {
		log.Info("文字看板服務器啟動",
			"addr", server.Addr,
			"static_dir", cfg.Server.StaticDir,
			"log_level", cfg.Log.Level,
			"log_format", cfg.Log.Format)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	<-ctx.Done()
	log.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接（已升級的 WebSocket 不受 Shutdown 管理）
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有 WebSocket 連接
	hub.Stop()

	log.Info("服務器已關閉")
}
