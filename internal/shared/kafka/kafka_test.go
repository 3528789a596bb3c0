package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092,"))
	assert.Nil(t, SplitBrokers(""))
}

func TestWriteJSON(t *testing.T) {
	w := &captureWriter{}
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	err := WriteJSON(context.Background(), w, "M1", []byte(`{"x":1}`), at, Header("sequence", "7"))
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "M1", string(msg.Key))
	assert.True(t, at.Equal(msg.Time))
	assert.JSONEq(t, `{"x":1}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "sequence", msg.Headers[0].Key)
	assert.Equal(t, "7", string(msg.Headers[0].Value))
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"a:9092"}, "odds_updates", 0)
	defer w.Close()

	assert.Equal(t, "odds_updates", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.Equal(t, 1, w.MaxAttempts)
	assert.Equal(t, 10*time.Second, w.WriteTimeout)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestEnsureTopic_NoBrokers(t *testing.T) {
	err := EnsureTopic(context.Background(), nil, "odds_updates", 1, nil)
	require.Error(t, err)
}
