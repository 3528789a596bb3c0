package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
	skafka "github.com/radieske/odds-feed-service/internal/shared/kafka"
	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// KafkaSink publica uma mensagem por atualização, chaveada por market_id.
type KafkaSink struct {
	writer skafka.MessageWriter
	topic  string
	log    *zap.Logger
}

// NewKafkaSink cria o sink sobre um writer síncrono (RequireAll, balancer por hash).
func NewKafkaSink(writer skafka.MessageWriter, topic string, log *zap.Logger) *KafkaSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaSink{
		writer: writer,
		topic:  topic,
		log:    log.With(zap.String("component", "kafka_sink"), zap.String("topic", topic)),
	}
}

// Publish serializa a atualização e espera o ack do broker.
func (s *KafkaSink) Publish(ctx context.Context, u events.OddsUpdate) error {
	value, err := json.Marshal(u)
	if err != nil {
		return feederr.NewFatal("publish", fmt.Errorf("marshal odds update: %w", err))
	}

	err = skafka.WriteJSON(ctx, s.writer, u.MarketID, value, u.IngestedAt,
		skafka.Header("message_id", MessageID(u)),
		skafka.Header("sequence", strconv.FormatInt(u.SequenceNumber, 10)),
		skafka.Header("gap_detected", strconv.FormatBool(u.GapDetected)),
		skafka.Header("content-type", "application/json"),
	)
	if err != nil {
		return classifyKafkaError(err)
	}

	s.log.Debug("published odds update",
		zap.String("market_id", u.MarketID),
		zap.Int64("sequence", u.SequenceNumber),
	)
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// fatalKafkaErrors não se resolvem com retry: credencial ou tópico inválidos.
var fatalKafkaErrors = []kafka.Error{
	kafka.TopicAuthorizationFailed,
	kafka.GroupAuthorizationFailed,
	kafka.ClusterAuthorizationFailed,
	kafka.SASLAuthenticationFailed,
	kafka.UnsupportedSASLMechanism,
	kafka.InvalidTopic,
	kafka.TopicDeletionDisabled,
}

func classifyKafkaError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return feederr.NewTransient("publish", err)
	}

	// o writer agrupa erros por mensagem em WriteErrors
	var we kafka.WriteErrors
	if errors.As(err, &we) {
		for _, e := range we {
			if e != nil && isFatalKafka(e) {
				return feederr.NewFatal("publish", err)
			}
		}
		return feederr.NewTransient("publish", err)
	}

	if isFatalKafka(err) {
		return feederr.NewFatal("publish", err)
	}
	return feederr.NewTransient("publish", err)
}

func isFatalKafka(err error) bool {
	var kerr kafka.Error
	if !errors.As(err, &kerr) {
		return false
	}
	for _, f := range fatalKafkaErrors {
		if kerr == f {
			return true
		}
	}
	return false
}
