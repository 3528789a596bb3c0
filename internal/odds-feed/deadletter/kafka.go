package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	skafka "github.com/radieske/odds-feed-service/internal/shared/kafka"
	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// KafkaSink envia o envelope para o tópico DLQ, chaveado por market_id.
type KafkaSink struct {
	writer skafka.MessageWriter
}

func NewKafkaSink(w skafka.MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Write(ctx context.Context, dl events.DeadLetter) error {
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := skafka.WriteJSON(ctx, s.writer, dl.Update.MarketID, payload, dl.FailedAt,
		skafka.Header("dead_letter_id", dl.ID),
		skafka.Header("reason", dl.Reason),
	); err != nil {
		return fmt.Errorf("write dead letter %s: %w", dl.ID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
