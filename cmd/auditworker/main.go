// Command auditworker drains the accepted-bid queue into an append-only log
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"table-bidding/internal/audit"
	"table-bidding/internal/config"
	"table-bidding/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.Log.Level)
	if cfg.RabbitMQ.URL == "" {
		utils.Fatal("rabbitmq.url is required (BIDDING_RABBITMQ_URL)", nil)
	}

	log, closer, err := audit.NewFileLog(cfg.RabbitMQ.LogFile)
	if err != nil {
		utils.Fatal("failed to open audit log", map[string]any{"path": cfg.RabbitMQ.LogFile, "error": err.Error()})
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	utils.Info("audit worker started", map[string]any{"queue": cfg.RabbitMQ.Queue, "log_file": cfg.RabbitMQ.LogFile})
	err = audit.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		utils.Error("audit worker stopped with error", map[string]any{"error": err.Error()})
		return
	}
	utils.Info("audit worker stopped", nil)
}
