package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"forwardproxy/internal/config"
	"forwardproxy/internal/interface/connection"
	"forwardproxy/internal/interface/handler"
	"forwardproxy/internal/interface/repository/audit"
	"forwardproxy/internal/interface/repository/filter"
	"forwardproxy/internal/interface/repository/logger"
	"forwardproxy/internal/interface/repository/metrics"
	"forwardproxy/internal/interface/repository/rescache"
	"forwardproxy/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "optional runtime configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("warning: failed to load config %s: %v\n", *configPath, err)
	}

	appLogger, err := logger.New(cfg.AppLogPath)
	if err != nil {
		fmt.Printf("failed to open application log: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Close()

	auditLogger, err := audit.New(cfg.AuditLogPath)
	if err != nil {
		appLogger.Error("failed to open audit log", err, nil)
		os.Exit(1)
	}
	defer auditLogger.Close()

	filterEngine := filter.New()
	if err := filterEngine.Load(cfg.BlacklistPath); err != nil {
		appLogger.Error("failed to load blacklist, starting with an empty ruleset", err,
			map[string]interface{}{"path": cfg.BlacklistPath})
	}

	metricsRepo := metrics.New(cfg.WindowSeconds)
	metricsRepo.Start()
	defer metricsRepo.Stop()

	resolutionCache := rescache.New()

	var bandwidthCap atomic.Uint64

	proxyUseCase := usecase.NewProxyUseCase(
		filterEngine,
		metricsRepo,
		auditLogger,
		appLogger,
		resolutionCache,
		&bandwidthCap,
		time.Duration(cfg.ReadTimeoutSeconds)*time.Second,
		cfg.ResolutionCacheTTL,
	)

	pool := connection.New(cfg.WorkerCount, proxyUseCase.HandleConnection)
	pool.Start()
	defer pool.Stop()

	proxyListener := connection.NewListener(cfg.ProxyListen, pool)
	adminHandler := handler.NewAdminHandler(metricsRepo, &bandwidthCap, cfg.TopK)

	fmt.Println("CUSTOM NETWORK PROXY SERVER")
	fmt.Println("[INFO] System Ready.")
	fmt.Printf("[INFO] Listening on %s...\n", cfg.ProxyListen)
	fmt.Println("[HINT] Press Ctrl+C to shut down the server.")

	go func() {
		if err := adminHandler.Serve(cfg.AdminListen); err != nil {
			appLogger.Error("admin listener stopped", err, nil)
		}
	}()

	go func() {
		appLogger.Info("starting proxy listener", map[string]interface{}{"addr": cfg.ProxyListen})
		if err := proxyListener.Serve(); err != nil {
			appLogger.Error("proxy listener stopped", err, nil)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan

	appLogger.Info("shutdown signal received", nil)
	proxyListener.Close()
}
