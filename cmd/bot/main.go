package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"markup-arb-bot/internal/app"
	"markup-arb-bot/internal/config"
	"markup-arb-bot/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	mode := flag.String("mode", "run", "run | balance | orders | close-all | liquidate")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath), zap.String("mode", *mode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *mode != "run" {
		if err := runCommand(ctx, cfg, log, *mode); err != nil {
			log.Error("command failed", zap.String("mode", *mode), zap.Error(err))
			os.Exit(1)
		}
		return
	}

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("app initialized")

	if err := application.Run(ctx); err != nil && err != context.Canceled {
		log.Error("app terminated", zap.Error(err))
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, cfg *config.Config, log *zap.Logger, mode string) error {
	commands, err := app.NewCommands(cfg, log)
	if err != nil {
		return err
	}
	switch mode {
	case "balance":
		return commands.Balance(ctx)
	case "orders":
		return commands.Orders(ctx)
	case "close-all":
		return commands.CloseAll(ctx)
	case "liquidate":
		return commands.Liquidate(ctx)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}
