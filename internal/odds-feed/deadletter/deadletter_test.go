package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

type mockWriter struct {
	messages []kafka.Message
	err      error
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error { return nil }

func sampleDeadLetter() events.DeadLetter {
	enq := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return FromTask(buffer.Task{
		Update: events.OddsUpdate{
			MarketID:       "M1",
			SelectionID:    "away",
			Price:          decimal.RequireFromString("3.10"),
			SequenceNumber: 12,
		},
		Attempts:        5,
		FirstEnqueuedAt: enq,
	}, "max attempts exceeded", enq.Add(time.Minute))
}

func TestFromTask(t *testing.T) {
	dl := sampleDeadLetter()

	assert.NotEmpty(t, dl.ID)
	assert.Equal(t, 5, dl.Attempts)
	assert.Equal(t, int64(12), dl.Update.SequenceNumber)
	assert.Equal(t, time.Minute, dl.FailedAt.Sub(dl.FirstEnqueuedAt))
	assert.NotEqual(t, dl.ID, sampleDeadLetter().ID)
}

func TestKafkaSink_Write(t *testing.T) {
	w := &mockWriter{}
	s := NewKafkaSink(w)
	dl := sampleDeadLetter()

	require.NoError(t, s.Write(context.Background(), dl))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "M1", string(w.messages[0].Key))
	assert.True(t, dl.FailedAt.Equal(w.messages[0].Time))

	var got events.DeadLetter
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &got))
	assert.Equal(t, dl.ID, got.ID)
	assert.Equal(t, "max attempts exceeded", got.Reason)
}

func TestKafkaSink_WriteError(t *testing.T) {
	s := NewKafkaSink(&mockWriter{err: errors.New("broker down")})
	err := s.Write(context.Background(), sampleDeadLetter())
	assert.ErrorContains(t, err, "broker down")
}

func TestPostgresSink_Write(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dl := sampleDeadLetter()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO odds_dead_letters")).
		WithArgs(dl.ID, "M1", "away", int64(12), 5, "max attempts exceeded", sqlmock.AnyArg(), dl.FirstEnqueuedAt, dl.FailedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresSink(db)
	require.NoError(t, s.Write(context.Background(), dl))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_WriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO odds_dead_letters").WillReturnError(errors.New("connection refused"))

	err = NewPostgresSink(db).Write(context.Background(), sampleDeadLetter())
	assert.ErrorContains(t, err, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS odds_dead_letters").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewPostgresSink(db).EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogSink_Write(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := NewLogSink(zap.New(core))

	require.NoError(t, s.Write(context.Background(), sampleDeadLetter()))

	entries := logs.FilterMessage("odds update dead-lettered").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "M1", entries[0].ContextMap()["market_id"])
	assert.Equal(t, "dead_letter", entries[0].ContextMap()["component"])
}
