package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/service"
	"github.com/kirogate/kirogate/internal/infrastructure/auth"
	"github.com/kirogate/kirogate/internal/infrastructure/config"
	"github.com/kirogate/kirogate/internal/infrastructure/logger"
	"github.com/kirogate/kirogate/internal/infrastructure/monitoring"
	httpiface "github.com/kirogate/kirogate/internal/interfaces/http"
	"github.com/kirogate/kirogate/internal/interfaces/http/handlers"
	"github.com/kirogate/kirogate/pkg/safego"
)

const (
	appName    = "kirogate"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.LogLevel,
		Format:     "json",
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("Starting gateway",
		zap.String("app", appName),
		zap.String("version", appVersion),
		zap.Int("port", cfg.Port),
		zap.String("region", cfg.Region),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	managerTmpl := auth.ManagerConfig{
		Region:     cfg.Region,
		Threshold:  cfg.TokenRefreshThreshold,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseRetryDelay,
	}

	// The global manager is optional: in multi-tenant deployments every
	// request carries its own refresh token instead.
	var global *auth.Manager
	if cfg.RefreshToken != "" || cfg.CredsFile != "" {
		globalCfg := managerTmpl
		globalCfg.RefreshToken = cfg.RefreshToken
		globalCfg.ProfileArn = cfg.ProfileArn
		globalCfg.CredsSource = cfg.CredsFile
		global, err = auth.NewManager(globalCfg, log)
		if err != nil {
			log.Fatal("Failed to initialize upstream credentials", zap.Error(err))
		}
		safego.Go(log, "credentials-watcher", func() {
			if err := global.WatchCredentialsFile(ctx); err != nil {
				log.Warn("Credentials watcher stopped", zap.Error(err))
			}
		})
	} else {
		log.Warn("No global refresh token configured; only key:token requests will work")
	}

	cache, err := auth.NewCache(auth.DefaultCacheCapacity, managerTmpl, log)
	if err != nil {
		log.Fatal("Failed to initialize credential cache", zap.Error(err))
	}

	monitor := monitoring.NewMonitor(log)

	pipeline := service.NewPipeline(service.PipelineConfig{
		FirstTokenTimeout:    cfg.FirstTokenTimeout,
		StreamReadTimeout:    cfg.StreamReadTimeout,
		FirstTokenMaxRetries: cfg.FirstTokenMaxRetries,
		RetrySpacing:         time.Second,
		SlowMultiplier:       cfg.SlowModelMultiplier,
	}, log)

	deps := &handlers.Deps{
		Cfg:      cfg,
		Global:   global,
		Cache:    cache,
		Pipeline: pipeline,
		Monitor:  monitor,
		Logger:   log,
	}

	server := httpiface.NewServer(httpiface.Config{
		Port:               cfg.Port,
		Mode:               ginMode(cfg.LogLevel),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, deps, log)

	if err := server.Start(ctx); err != nil {
		log.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutting down", zap.String("signal", sig.String()))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	log.Info("Goodbye")
}

func ginMode(logLevel string) string {
	if logLevel == "debug" {
		return "debug"
	}
	return "release"
}

func printUsage() {
	fmt.Printf(`%s v%s - protocol-translating gateway

Usage:
  %s            start the gateway (configured via environment variables)
  %s version    print the version
  %s help       show this help

Key environment variables:
  PROXY_API_KEY     client-facing API key (required)
  PORT              listen port (default 8080)
  REFRESH_TOKEN     upstream refresh token for single-tenant mode
  KIRO_CREDS_FILE   credentials file path or URL (hot-reloaded)
  KIRO_REGION       upstream region (default us-east-1)
  LOG_LEVEL         debug, info, warn, error (default info)
`, appName, appVersion, appName, appName, appName)
}
