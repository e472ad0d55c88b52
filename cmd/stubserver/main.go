package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/config"
	"github.com/spec-kit/ticket-console/internal/domain"
	"github.com/spec-kit/ticket-console/internal/observability"
	"github.com/spec-kit/ticket-console/internal/stub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	server := stub.NewServer(cfg.Stub, logger)

	if username := os.Getenv("STUB_ADMIN_USERNAME"); username != "" {
		_, err := server.Seed(domain.Registration{
			Username: username,
			Password: os.Getenv("STUB_ADMIN_PASSWORD"),
			Email:    username + "@example.com",
		}, true)
		if err != nil {
			logger.Fatal("seed admin user", zap.Error(err))
		}
		logger.Info("seeded staff account", zap.String("username", username))
	}

	go func() {
		if err := server.Listen(cfg.Stub.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()
	logger.Info("stub backend listening", zap.String("addr", cfg.Stub.Addr()))

	waitForShutdown(logger)

	_ = server.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
