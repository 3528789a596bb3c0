package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/radieske/odds-feed-service/internal/shared/config"
	"github.com/radieske/odds-feed-service/internal/shared/logger"
	"github.com/radieske/odds-feed-service/internal/version"
)

func main() {
	configPath := flag.String("config", "", "arquivo YAML de configuração (padrão: $CONFIG_FILE)")
	showVersion := flag.Bool("version", false, "imprime a versão e sai")
	flag.Parse()

	if *showVersion {
		fmt.Println("odds-feed", version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("odds feed starting",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("provider", cfg.ProviderEndpoint),
		zap.String("sink", cfg.SinkKind),
		zap.String("dead_letter", cfg.DeadLetterKind),
	)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("odds feed stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("odds feed stopped")
}
