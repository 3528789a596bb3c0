package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/odds-feed-service/internal/odds-feed/alert"
	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/deadletter"
	"github.com/radieske/odds-feed-service/internal/odds-feed/feed"
	"github.com/radieske/odds-feed-service/internal/odds-feed/metrics"
	"github.com/radieske/odds-feed-service/internal/odds-feed/normalizer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/resilience"
	"github.com/radieske/odds-feed-service/internal/odds-feed/sequence"
	"github.com/radieske/odds-feed-service/internal/odds-feed/sink"
	"github.com/radieske/odds-feed-service/internal/odds-feed/source"
	"github.com/radieske/odds-feed-service/internal/shared/cache"
	"github.com/radieske/odds-feed-service/internal/shared/config"
	"github.com/radieske/odds-feed-service/internal/shared/db"
	skafka "github.com/radieske/odds-feed-service/internal/shared/kafka"
	opsserver "github.com/radieske/odds-feed-service/internal/shared/metrics"
	"github.com/radieske/odds-feed-service/internal/version"
)

// run monta o pipeline e bloqueia até o supervisor parar. O servidor
// operacional continua respondendo durante o dreno do encerramento.
func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	clk := clock.New()
	reg := prometheus.DefaultRegisterer
	m := metrics.New(reg)

	mode, err := buffer.ParseMode(cfg.BackpressureMode)
	if err != nil {
		return err
	}
	buf := buffer.New(cfg.BufferCapacity, mode, clk, m.OnBufferDrop)
	metrics.RegisterBuffer(reg, buf)

	guard, err := sequence.NewGuard(cfg.MarketStateCapacity, func(marketID string) {
		log.Debug("market state evicted", zap.String("market_id", marketID))
	})
	if err != nil {
		return err
	}

	src, err := source.New(cfg.ProviderEndpoint,
		source.WithLogger(log),
		source.WithClock(clk),
	)
	if err != nil {
		return fmt.Errorf("odds source: %w", err)
	}

	if cfg.Local() && (cfg.SinkKind == config.SinkKafka || cfg.DeadLetterKind == config.DeadLetterKafka) {
		ensureTopics(ctx, cfg, log)
	}

	evSink, err := newEventSink(ctx, cfg, log)
	if err != nil {
		_ = src.Close()
		return err
	}

	dl, err := newDeadLetterSink(ctx, cfg, log)
	if err != nil {
		_ = src.Close()
		_ = evSink.Close()
		return err
	}
	defer dl.Close()

	notifier, closeNotifier := newNotifier(ctx, cfg, log)
	defer closeNotifier()

	sup, err := feed.New(feed.Config{
		ServiceName:        cfg.ServiceName,
		PollInterval:       cfg.PollInterval,
		PollJitterPct:      cfg.PollJitterPct,
		MaxPublishAttempts: cfg.MaxPublishAttempts,
		CircuitThreshold:   cfg.CircuitFailureThreshold,
		CircuitCooldown:    cfg.CircuitCooldown,
		Backoff: resilience.BackoffConfig{
			Base:      cfg.BackoffBase,
			Factor:    cfg.BackoffFactor,
			Max:       cfg.BackoffMax,
			JitterPct: cfg.BackoffJitterPct,
		},
		FetchTimeout:   cfg.FetchTimeout,
		PublishTimeout: cfg.PublishTimeout,
		ShutdownGrace:  cfg.ShutdownGrace,
	}, feed.Deps{
		Source:     src,
		Normalizer: normalizer.New(cfg.ProviderName, cfg.KnownMarkets, clk.Now),
		Guard:      guard,
		Buffer:     buf,
		Sink:       evSink,
		DeadLetter: dl,
		Notifier:   notifier,
		Log:        log,
		Clock:      clk,
		Hooks:      m.Hooks(),
	})
	if err != nil {
		_ = src.Close()
		_ = evSink.Close()
		return err
	}

	srv := opsserver.NewServer(cfg.MetricsPort, opsserver.Options{
		Ready: sup.Ready,
		Status: func() any {
			return statusResponse{Status: sup.Status(), Version: version.Version, Service: cfg.ServiceName}
		},
	})

	// o servidor operacional para só depois do supervisor
	opsCtx, stopOps := context.WithCancel(context.WithoutCancel(ctx))
	defer stopOps()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopOps()
		return sup.Run(gctx)
	})
	g.Go(func() error {
		return opsserver.Serve(opsCtx, srv, log)
	})
	return g.Wait()
}

type statusResponse struct {
	feed.Status
	Service string `json:"service"`
	Version string `json:"version"`
}

func newEventSink(ctx context.Context, cfg config.Config, log *zap.Logger) (sink.EventSink, error) {
	switch cfg.SinkKind {
	case config.SinkKafka:
		w := skafka.NewWriter(skafka.SplitBrokers(cfg.KafkaBrokers), cfg.TopicOdds, cfg.PublishTimeout)
		return sink.NewKafkaSink(w, cfg.TopicOdds, log), nil
	case config.SinkRedisStream:
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("redis stream sink: %w", err)
		}
		return sink.NewRedisStreamSink(rdb, cfg.RedisStream, cfg.RedisStreamMaxLen, log), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.SinkKind)
	}
}

func newDeadLetterSink(ctx context.Context, cfg config.Config, log *zap.Logger) (deadletter.Sink, error) {
	switch cfg.DeadLetterKind {
	case config.DeadLetterKafka:
		w := skafka.NewWriter(skafka.SplitBrokers(cfg.KafkaBrokers), cfg.TopicOddsDLQ, cfg.PublishTimeout)
		return deadletter.NewKafkaSink(w), nil
	case config.DeadLetterPostgres:
		conn, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres dead letter: %w", err)
		}
		pg := deadletter.NewPostgresSink(conn)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("postgres dead letter schema: %w", err)
		}
		return pg, nil
	case config.DeadLetterLog:
		return deadletter.NewLogSink(log), nil
	default:
		return nil, fmt.Errorf("unknown dead letter kind %q", cfg.DeadLetterKind)
	}
}

// newNotifier usa Redis Pub/Sub quando há canal configurado. Redis fora do ar
// não impede a subida: os alertas ficam só no log.
func newNotifier(ctx context.Context, cfg config.Config, log *zap.Logger) (alert.Notifier, func()) {
	if cfg.RedisAlertChannel == "" {
		return alert.LogNotifier{Log: log}, func() {}
	}
	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Warn("redis unavailable, operator alerts go to log only", zap.Error(err))
		return alert.LogNotifier{Log: log}, func() {}
	}
	return alert.NewRedisNotifier(rdb, cfg.RedisAlertChannel, log), func() { _ = rdb.Close() }
}

// ensureTopics cria os tópicos em local/dev. Falha aqui não é fatal: o broker
// pode ter auto-create ligado ou ainda estar subindo.
func ensureTopics(ctx context.Context, cfg config.Config, log *zap.Logger) {
	brokers := skafka.SplitBrokers(cfg.KafkaBrokers)
	tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if cfg.SinkKind == config.SinkKafka {
		errs = append(errs, skafka.EnsureTopic(tctx, brokers, cfg.TopicOdds, cfg.TopicPartitions, log))
	}
	if cfg.DeadLetterKind == config.DeadLetterKafka {
		errs = append(errs, skafka.EnsureTopic(tctx, brokers, cfg.TopicOddsDLQ, 1, log))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn("could not ensure kafka topics", zap.Error(err))
	}
}
