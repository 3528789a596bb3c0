package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/odds-feed-service/internal/odds-feed/alert"
	"github.com/radieske/odds-feed-service/internal/odds-feed/deadletter"
	"github.com/radieske/odds-feed-service/internal/odds-feed/sink"
	"github.com/radieske/odds-feed-service/internal/shared/config"
)

func TestNewEventSink(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	cfg := config.Default()
	s, err := newEventSink(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &sink.KafkaSink{}, s)
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	cfg.SinkKind = config.SinkRedisStream
	cfg.RedisAddr = mr.Addr()
	s, err = newEventSink(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &sink.RedisStreamSink{}, s)
	require.NoError(t, s.Close())

	cfg.SinkKind = "nats"
	_, err = newEventSink(ctx, cfg, log)
	require.Error(t, err)
}

func TestNewDeadLetterSink(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	cfg := config.Default()
	cfg.DeadLetterKind = config.DeadLetterLog
	dl, err := newDeadLetterSink(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &deadletter.LogSink{}, dl)

	cfg.DeadLetterKind = config.DeadLetterKafka
	dl, err = newDeadLetterSink(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &deadletter.KafkaSink{}, dl)
	require.NoError(t, dl.Close())
}

func TestNewNotifier(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	cfg := config.Default()

	n, closeFn := newNotifier(ctx, cfg, log)
	assert.IsType(t, alert.LogNotifier{}, n)
	closeFn()

	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	cfg.RedisAlertChannel = "odds_feed_alerts"
	n, closeFn = newNotifier(ctx, cfg, log)
	assert.IsType(t, &alert.RedisNotifier{}, n)
	closeFn()

	// redis fora do ar: cai para o log
	mr.Close()
	n, closeFn = newNotifier(ctx, cfg, log)
	assert.IsType(t, alert.LogNotifier{}, n)
	closeFn()
}
