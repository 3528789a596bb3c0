package deadletter

import (
	"context"

	"go.uber.org/zap"

	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// LogSink só registra o dead-letter no log. Útil em ambiente local.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.With(zap.String("component", "dead_letter"))}
}

func (s *LogSink) Write(_ context.Context, dl events.DeadLetter) error {
	s.log.Error("odds update dead-lettered",
		zap.String("dead_letter_id", dl.ID),
		zap.String("market_id", dl.Update.MarketID),
		zap.Int64("sequence", dl.Update.SequenceNumber),
		zap.Int("attempts", dl.Attempts),
		zap.String("reason", dl.Reason),
		zap.Any("update", dl.Update),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
