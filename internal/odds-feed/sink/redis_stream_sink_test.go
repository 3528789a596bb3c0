package sink

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStreamSink_Publish(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	s := NewRedisStreamSink(rdb, "odds:updates", 1000, nil)
	ctx := context.Background()

	u := sampleUpdate()
	require.NoError(t, s.Publish(ctx, u))

	entries, err := rdb.XRange(ctx, "odds:updates", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	v := entries[0].Values
	assert.Equal(t, "M1", v["market_id"])
	assert.Equal(t, MessageID(u), v["message_id"])
	assert.Equal(t, "4", v["sequence"])
	assert.Equal(t, "true", v["gap_detected"])

	var got events.OddsUpdate
	require.NoError(t, json.Unmarshal([]byte(v["payload"].(string)), &got))
	assert.Equal(t, int64(4), got.SequenceNumber)
}

func TestRedisStreamSink_WrongTypeIsFatal(t *testing.T) {
	mr, rdb := newMiniredisClient(t)
	require.NoError(t, mr.Set("odds:updates", "not a stream"))

	s := NewRedisStreamSink(rdb, "odds:updates", 0, nil)
	err := s.Publish(context.Background(), sampleUpdate())
	require.Error(t, err)
	assert.True(t, feederr.IsFatal(err))
}

func TestRedisStreamSink_AuthIsFatal(t *testing.T) {
	mr, rdb := newMiniredisClient(t)
	mr.RequireAuth("secret")

	s := NewRedisStreamSink(rdb, "odds:updates", 0, nil)
	err := s.Publish(context.Background(), sampleUpdate())
	require.Error(t, err)
	assert.True(t, feederr.IsFatal(err), "got %v", err)
}

func TestRedisStreamSink_ServerDownIsTransient(t *testing.T) {
	mr, rdb := newMiniredisClient(t)
	mr.Close()

	s := NewRedisStreamSink(rdb, "odds:updates", 0, nil)
	err := s.Publish(context.Background(), sampleUpdate())
	require.Error(t, err)
	assert.Equal(t, feederr.Transient, feederr.ClassOf(err))
}
