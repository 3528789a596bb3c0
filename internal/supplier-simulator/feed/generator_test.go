package feed

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

func newTestGenerator(o Options) *Generator {
	o.Rand = rand.New(rand.NewPCG(1, 2))
	o.Now = fixedNow
	return NewGenerator(Catalog[:2], o)
}

func TestTick_OneRecordPerMarketWithIncreasingSeq(t *testing.T) {
	g := newTestGenerator(Options{})

	first := g.Tick()
	second := g.Tick()
	require.Len(t, first, 2)
	require.Len(t, second, 2)

	assert.Equal(t, "MATCH_001:1x2", first[0].MarketID)
	assert.Equal(t, "MATCH_002:1x2", first[1].MarketID)
	for i := range first {
		assert.Equal(t, int64(1), first[i].Seq)
		assert.Equal(t, int64(2), second[i].Seq)
		assert.Equal(t, fixedNow(), first[i].TS)

		p, err := decimal.NewFromString(first[i].Price)
		require.NoError(t, err)
		assert.True(t, p.GreaterThanOrEqual(decimal.NewFromFloat(1.40)), first[i].Price)
		assert.True(t, p.LessThanOrEqual(decimal.NewFromInt(5)), first[i].Price)
	}
}

func TestTick_DuplicatesAndGaps(t *testing.T) {
	g := newTestGenerator(Options{DuplicatePct: 100})
	recs := g.Tick()
	require.Len(t, recs, 4)
	assert.Equal(t, recs[0], recs[1])
	assert.Equal(t, recs[2], recs[3])

	g = newTestGenerator(Options{GapPct: 100})
	g.Tick()
	recs = g.Tick()
	// cada tick pula um número: 2, depois 4
	assert.Equal(t, int64(4), recs[0].Seq)
}

func TestSince_CursorPagingAndRetention(t *testing.T) {
	g := newTestGenerator(Options{Retention: 5})
	for i := 0; i < 3; i++ {
		g.Tick() // 6 registros, 1 já fora da retenção
	}

	recs, next := g.Since(0, 2)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(3), next, "cursor before retained log restarts at offset 1")

	recs, next = g.Since(next, 0)
	assert.Len(t, recs, 3)
	assert.Equal(t, int64(6), next)

	recs, next = g.Since(next, 10)
	assert.Empty(t, recs)
	assert.Equal(t, int64(6), next)

	_, next = g.Since(99, 10)
	assert.Equal(t, int64(6), next)
}

func TestCursorRoundTrip(t *testing.T) {
	pos, err := ParseCursor(FormatCursor(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), pos)

	pos, err = ParseCursor("")
	require.NoError(t, err)
	assert.Zero(t, pos)

	_, err = ParseCursor("abc")
	assert.Error(t, err)
}
