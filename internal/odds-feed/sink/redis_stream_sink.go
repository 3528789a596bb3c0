package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// RedisStreamSink publica cada atualização com XADD num Redis Stream limitado.
type RedisStreamSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	log    *zap.Logger
}

// NewRedisStreamSink cria o sink. maxLen <= 0 desliga o corte do stream.
func NewRedisStreamSink(rdb *redis.Client, stream string, maxLen int64, log *zap.Logger) *RedisStreamSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStreamSink{
		rdb:    rdb,
		stream: stream,
		maxLen: maxLen,
		log:    log.With(zap.String("component", "redis_stream_sink"), zap.String("stream", stream)),
	}
}

func (s *RedisStreamSink) Publish(ctx context.Context, u events.OddsUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return feederr.NewFatal("publish", fmt.Errorf("marshal odds update: %w", err))
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"market_id":    u.MarketID,
			"message_id":   MessageID(u),
			"sequence":     strconv.FormatInt(u.SequenceNumber, 10),
			"gap_detected": strconv.FormatBool(u.GapDetected),
			"payload":      string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return classifyRedisError(err)
	}

	s.log.Debug("published odds update",
		zap.String("market_id", u.MarketID),
		zap.Int64("sequence", u.SequenceNumber),
		zap.String("entry_id", id),
	)
	return nil
}

func (s *RedisStreamSink) Close() error {
	return s.rdb.Close()
}

func classifyRedisError(err error) error {
	for _, prefix := range []string{"NOAUTH", "WRONGPASS", "NOPERM", "WRONGTYPE"} {
		if redis.HasErrorPrefix(err, prefix) {
			return feederr.NewFatal("publish", err)
		}
	}
	return feederr.NewTransient("publish", err)
}
