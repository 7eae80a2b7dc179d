package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/memhub/internal/app"
	"github.com/nidhogg/memhub/internal/config"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("MEMHUB_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/memhub.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("Config loaded", zap.String("path", cfgPath))

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to start memhub", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.Handler().Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("memhub listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down memhub...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	a.Close()
}
