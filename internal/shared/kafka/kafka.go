package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter é o subconjunto de *kafka.Writer usado pelos produtores;
// permite trocar o writer por um mock nos testes.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SplitBrokers transforma "a:9092,b:9092" em lista, ignorando vazios.
func SplitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewWriter cria um writer síncrono com ack de todas as réplicas. O balancer
// por hash mantém cada chave sempre na mesma partição.
func NewWriter(brokers []string, topic string, writeTimeout time.Duration) *kafka.Writer {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            writeTimeout,
		WriteTimeout:           writeTimeout,
		MaxAttempts:            1, // retry fica com o supervisor
	}
}

// WriteJSON envia uma mensagem já serializada com chave e headers opcionais.
// at vira o timestamp da mensagem no broker.
func WriteJSON(ctx context.Context, w MessageWriter, key string, payload []byte, at time.Time, headers ...kafka.Header) error {
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
		Time:    at,
	}
	return w.WriteMessages(ctx, msg)
}

// Header monta um header string.
func Header(key, value string) kafka.Header {
	return kafka.Header{Key: key, Value: []byte(value)}
}

// EnsureTopic cria o tópico via controller do cluster quando ainda não existe.
// Usado apenas em ambientes local/dev; em produção os tópicos são provisionados fora.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int, log *zap.Logger) error {
	if len(brokers) == 0 {
		return errors.New("kafka brokers not provided")
	}
	if partitions < 1 {
		partitions = 1
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get kafka controller: %w", err)
	}

	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	cconn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer cconn.Close()

	err = cconn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	switch {
	case err == nil:
		log.Info("kafka topic created", zap.String("topic", topic))
	case errors.Is(err, kafka.TopicAlreadyExists):
	default:
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}
