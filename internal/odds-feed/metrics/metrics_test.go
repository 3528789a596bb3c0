package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/feed"
	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
	"github.com/radieske/odds-feed-service/internal/odds-feed/resilience"
	"github.com/radieske/odds-feed-service/internal/odds-feed/sequence"
	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

func TestHooks_UpdateCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	h := m.Hooks()

	h.OnFetch(4, 120*time.Millisecond)
	h.OnFetch(0, 10*time.Millisecond)
	h.OnFetchError(feederr.Transient)
	h.OnFetchError(feederr.RateLimited)
	h.OnFetchError(feederr.Transient)
	h.OnNormalizeError("bad_price")
	h.OnAdmitted(false)
	h.OnAdmitted(true)
	h.OnRejected(sequence.Duplicate)
	h.OnRejected(sequence.Stale)
	h.OnRejected(sequence.Duplicate)
	h.OnPublished(30 * time.Millisecond)
	h.OnPublishError(feederr.Fatal)
	h.OnDeadLetter("max_attempts")
	h.OnCircuitChange(feed.DependencySink, resilience.Open)
	h.OnStateChange(feed.Starting, feed.Polling)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FetchRecords))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchErrors.WithLabelValues("transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrors.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NormalizeErrors.WithLabelValues("bad_price")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Admitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GapsDetected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rejected.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Published))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors.WithLabelValues("fatal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLettered.WithLabelValues("max_attempts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("sink")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("source")))
	assert.Equal(t, float64(feed.Polling), testutil.ToFloat64(m.SupervisorState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("starting", "polling")))
}

func TestBufferDropsAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	b := buffer.New(2, buffer.DropOldest, clock.NewMock(), m.OnBufferDrop)
	RegisterBuffer(reg, b)

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, b.Enqueue(ctx, buffer.Task{Update: events.OddsUpdate{MarketID: "M1", SequenceNumber: i}}))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.BufferDropped))

	families, err := reg.Gather()
	require.NoError(t, err)
	gauges := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() == "odds_feed_buffer_length" || mf.GetName() == "odds_feed_buffer_capacity" {
			gauges[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, gauges["odds_feed_buffer_length"])
	assert.Equal(t, 2.0, gauges["odds_feed_buffer_capacity"])
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
