package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/odds-feed-service/internal/odds-feed/alert"
	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/normalizer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/resilience"
	"github.com/radieske/odds-feed-service/internal/odds-feed/sequence"
	"github.com/radieske/odds-feed-service/internal/odds-feed/source"
	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// stubSource conta as chamadas e delega cada uma a fn.
type stubSource struct {
	mu     sync.Mutex
	calls  int
	closed bool
	fn     func(call int) (source.Batch, error)
}

func (s *stubSource) Fetch(ctx context.Context, _ source.Cursor) (source.Batch, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return source.Batch{}, err
	}
	return s.fn(call)
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func emptyBatches(int) (source.Batch, error) { return source.Batch{}, nil }

// recordingSink guarda o que foi publicado; fn (opcional) decide o resultado.
type recordingSink struct {
	mu        sync.Mutex
	published []events.OddsUpdate
	attempts  int
	closed    bool
	fn        func(ctx context.Context, u events.OddsUpdate) error
}

func (s *recordingSink) Publish(ctx context.Context, u events.OddsUpdate) error {
	s.mu.Lock()
	s.attempts++
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, u); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.published = append(s.published, u)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Published() []events.OddsUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.OddsUpdate(nil), s.published...)
}

type recordingDeadLetter struct {
	mu      sync.Mutex
	letters []events.DeadLetter
}

func (d *recordingDeadLetter) Write(_ context.Context, dl events.DeadLetter) error {
	d.mu.Lock()
	d.letters = append(d.letters, dl)
	d.mu.Unlock()
	return nil
}

func (d *recordingDeadLetter) Close() error { return nil }

func (d *recordingDeadLetter) Letters() []events.DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]events.DeadLetter(nil), d.letters...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, a)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, a := range n.alerts {
		out = append(out, a.Kind+":"+a.Dependency)
	}
	return out
}

func record(market string, seq int64, price string) source.RawRecord {
	return source.RawRecord{Data: []byte(fmt.Sprintf(
		`{"market_id":%q,"selection_id":"home","price":%q,"seq":%d}`, market, price, seq))}
}

func testConfig() Config {
	return Config{
		ServiceName:        "odds-feed-test",
		PollInterval:       10 * time.Millisecond,
		PollJitterPct:      0,
		MaxPublishAttempts: 3,
		CircuitThreshold:   5,
		CircuitCooldown:    30 * time.Second,
		Backoff: resilience.BackoffConfig{
			Base:      time.Millisecond,
			Factor:    2,
			Max:       20 * time.Millisecond,
			JitterPct: 0,
		},
		FetchTimeout:   time.Second,
		PublishTimeout: time.Second,
		ShutdownGrace:  2 * time.Second,
	}
}

type fixture struct {
	sup      *Supervisor
	source   *stubSource
	sink     *recordingSink
	dead     *recordingDeadLetter
	notifier *recordingNotifier
	buffer   *buffer.PublishBuffer
}

func newFixture(t *testing.T, cfg Config, clk clock.Clock, src *stubSource, snk *recordingSink) *fixture {
	t.Helper()
	if clk == nil {
		clk = clock.New()
	}
	guard, err := sequence.NewGuard(1000, nil)
	require.NoError(t, err)

	f := &fixture{
		source:   src,
		sink:     snk,
		dead:     &recordingDeadLetter{},
		notifier: &recordingNotifier{},
		buffer:   buffer.New(100, buffer.Block, clk, nil),
	}
	f.sup, err = New(cfg, Deps{
		Source:     src,
		Normalizer: normalizer.New("test", nil, clk.Now),
		Guard:      guard,
		Buffer:     f.buffer,
		Sink:       snk,
		DeadLetter: f.dead,
		Notifier:   f.notifier,
		Log:        zaptest.NewLogger(t),
		Clock:      clk,
		Rand:       func() float64 { return 0.5 },
	})
	require.NoError(t, err)
	return f
}

// runAsync roda o supervisor numa goroutine e devolve o canal com o resultado.
func runAsync(ctx context.Context, s *Supervisor) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func seqsOf(us []events.OddsUpdate) []int64 {
	out := make([]int64, 0, len(us))
	for _, u := range us {
		out = append(out, u.SequenceNumber)
	}
	return out
}
