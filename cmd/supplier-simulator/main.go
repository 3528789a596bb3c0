package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/odds-feed-service/internal/shared/config"
	"github.com/radieske/odds-feed-service/internal/shared/logger"
	opsserver "github.com/radieske/odds-feed-service/internal/shared/metrics"
	"github.com/radieske/odds-feed-service/internal/supplier-simulator/feed"
)

func main() {
	cfg, err := config.LoadSimulator()
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	gen := feed.NewGenerator(feed.Catalog, feed.Options{
		DuplicatePct: cfg.DuplicatePct,
		GapPct:       cfg.GapPct,
		Retention:    cfg.Retention,
		Rand:         rand.New(rand.NewPCG(seed, seed>>1)),
	})
	srv := feed.NewServer(gen, log, feed.ServerOptions{
		PageSize: cfg.PageSize,
		ErrorPct: cfg.ErrorPct,
		Metrics:  feed.NewMetrics(nil),
	})

	public := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ops := opsserver.NewServer(cfg.MetricsPort, opsserver.Options{})

	log.Info("supplier simulator running",
		zap.String("addr", public.Addr),
		zap.String("paths", "/v1/odds,/ws"),
		zap.Duration("tick", cfg.TickInterval),
		zap.Uint64("seed", seed),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Run(gctx, cfg.TickInterval)
		return nil
	})
	g.Go(func() error { return opsserver.Serve(gctx, public, log) })
	g.Go(func() error { return opsserver.Serve(gctx, ops, log) })

	if err := g.Wait(); err != nil {
		log.Error("supplier simulator stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("supplier simulator stopped")
}
