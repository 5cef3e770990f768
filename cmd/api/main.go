package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bhabi-server/internal/config"
	"bhabi-server/internal/server"
)

func gracefulShutdown(customServer *server.Server, httpServer *http.Server, log *zap.Logger, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Info("shutdown signal received, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := customServer.Shutdown(ctx); err != nil {
		log.Error("error during custom shutdown", zap.Error(err))
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("http server forced to shutdown", zap.Error(err))
	}

	done <- true
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	customServer, httpServer, err := server.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("failed to initialize server", zap.Error(err))
	}

	done := make(chan bool, 1)
	go gracefulShutdown(customServer, httpServer, log, done)

	log.Info("starting server",
		zap.Int("port", cfg.Server.Port),
		zap.Duration("settle_delay", cfg.Game.SettleDelay),
	)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("http server error", zap.Error(err))
	}

	<-done
	log.Info("graceful shutdown complete")
}

func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
