// Package feed coordena o ciclo de ingestão e publicação de odds.
//
// Duas goroutines trabalham em paralelo: a de ingestão (fetch → normalize →
// guard → enqueue) e o worker de publicação (dequeue → sink). O PublishBuffer é
// a única estrutura compartilhada entre elas. Cada dependência externa tem seu
// próprio circuit breaker.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/odds-feed-service/internal/odds-feed/alert"
	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/deadletter"
	"github.com/radieske/odds-feed-service/internal/odds-feed/normalizer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/resilience"
	"github.com/radieske/odds-feed-service/internal/odds-feed/sequence"
	"github.com/radieske/odds-feed-service/internal/odds-feed/sink"
	"github.com/radieske/odds-feed-service/internal/odds-feed/source"
)

// Nomes das dependências, usados nos breakers, métricas e alertas.
const (
	DependencySource = "source"
	DependencySink   = "sink"
)

// Config são os parâmetros do ciclo.
type Config struct {
	ServiceName        string
	PollInterval       time.Duration
	PollJitterPct      int
	MaxPublishAttempts int
	CircuitThreshold   int
	CircuitCooldown    time.Duration
	Backoff            resilience.BackoffConfig
	FetchTimeout       time.Duration
	PublishTimeout     time.Duration
	ShutdownGrace      time.Duration
}

// Deps são os colaboradores do supervisor. Source, Normalizer, Guard, Buffer e
// Sink são obrigatórios.
type Deps struct {
	Source     source.OddsSource
	Normalizer *normalizer.Normalizer
	Guard      *sequence.Guard
	Buffer     *buffer.PublishBuffer
	Sink       sink.EventSink
	DeadLetter deadletter.Sink
	Notifier   alert.Notifier
	Log        *zap.Logger
	Clock      clock.Clock
	Rand       func() float64 // jitter; nil usa math/rand
	Hooks      Hooks
}

// Supervisor é a máquina de estados do feed.
type Supervisor struct {
	cfg        Config
	source     source.OddsSource
	normalizer *normalizer.Normalizer
	guard      *sequence.Guard
	buffer     *buffer.PublishBuffer
	sink       sink.EventSink
	deadLetter deadletter.Sink
	notifier   alert.Notifier
	log        *zap.Logger
	clock      clock.Clock
	rand       func() float64
	hooks      Hooks

	sourceBreaker *resilience.Breaker
	sinkBreaker   *resilience.Breaker
	backoff       *resilience.Backoff

	// estado da ingestão, tocado só pela goroutine de ingestão
	cursor         source.Cursor
	sourceFailures int

	mu           sync.Mutex
	state        State
	lastFetchAt  time.Time
	lastErr      string
	published    int64
	deadLettered int64
}

// New valida a configuração e monta o supervisor.
func New(cfg Config, d Deps) (*Supervisor, error) {
	if d.Source == nil || d.Normalizer == nil || d.Guard == nil || d.Buffer == nil || d.Sink == nil {
		return nil, errors.New("feed: source, normalizer, guard, buffer and sink are required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("feed: poll interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.MaxPublishAttempts < 1 {
		cfg.MaxPublishAttempts = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}

	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Notifier == nil {
		d.Notifier = alert.LogNotifier{Log: d.Log}
	}
	if d.DeadLetter == nil {
		d.DeadLetter = deadletter.NewLogSink(d.Log)
	}

	s := &Supervisor{
		cfg:           cfg,
		source:        d.Source,
		normalizer:    d.Normalizer,
		guard:         d.Guard,
		buffer:        d.Buffer,
		sink:          d.Sink,
		deadLetter:    d.DeadLetter,
		notifier:      d.Notifier,
		log:           d.Log.With(zap.String("component", "feed_supervisor")),
		clock:         d.Clock,
		rand:          d.Rand,
		hooks:         d.Hooks,
		sourceBreaker: resilience.NewBreaker(DependencySource, cfg.CircuitThreshold, cfg.CircuitCooldown, d.Clock),
		sinkBreaker:   resilience.NewBreaker(DependencySink, cfg.CircuitThreshold, cfg.CircuitCooldown, d.Clock),
		backoff:       resilience.NewBackoff(cfg.Backoff, d.Rand),
		state:         Starting,
	}
	if s.rand == nil {
		s.rand = rand.Float64
	}
	s.sourceBreaker.OnStateChange(s.onCircuitChange)
	s.sinkBreaker.OnStateChange(s.onCircuitChange)
	return s, nil
}

// Run executa ingestão e publicação até ctx ser cancelado ou ocorrer um erro
// Fatal. No encerramento a ingestão para, a fila é fechada e o worker drena o
// que restou até ShutdownGrace; depois disso a publicação em voo é abortada.
// Retorna nil em encerramento limpo e o erro Fatal caso contrário.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info("feed supervisor starting",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("buffer_capacity", s.buffer.Cap()),
		zap.String("backpressure_mode", s.buffer.Mode().String()),
	)

	// o worker só é cancelado depois do prazo de graça, não junto com ctx
	pubCtx, cancelPub := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPub()

	var (
		graceMu    sync.Mutex
		graceTimer *clock.Timer
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.runIngest(gctx)
		s.setState(Stopping)
		s.log.Info("ingestion stopped, draining publish buffer",
			zap.Int("pending", s.buffer.Len()),
			zap.Duration("grace", s.cfg.ShutdownGrace),
		)
		graceMu.Lock()
		graceTimer = s.clock.AfterFunc(s.cfg.ShutdownGrace, cancelPub)
		graceMu.Unlock()
		return err
	})
	g.Go(func() error {
		return s.runPublisher(pubCtx)
	})

	err := g.Wait()

	graceMu.Lock()
	if graceTimer != nil {
		graceTimer.Stop()
	}
	graceMu.Unlock()
	cancelPub()

	s.abandonLeftovers()
	s.release()
	s.setState(Stopped)

	if err != nil {
		s.log.Error("feed supervisor stopped with error", zap.Error(err))
		return err
	}
	s.log.Info("feed supervisor stopped")
	return nil
}

// abandonLeftovers manda para dead-letter o que ficou na fila após o prazo.
func (s *Supervisor) abandonLeftovers() {
	left := s.buffer.Drain()
	if len(left) == 0 {
		return
	}
	s.log.Warn("shutdown grace expired with pending updates", zap.Int("pending", len(left)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, t := range left {
		s.sendDeadLetter(ctx, t, causeShutdown, "shutdown grace expired")
	}
}

func (s *Supervisor) release() {
	if err := s.source.Close(); err != nil {
		s.log.Warn("close odds source", zap.Error(err))
	}
	if err := s.sink.Close(); err != nil {
		s.log.Warn("close event sink", zap.Error(err))
	}
}

// State retorna o estado atual.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	// Stopping/Stopped são finais para a ingestão
	if from == to || (from >= Stopping && to < Stopping) {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	s.log.Debug("state change", zap.Stringer("from", from), zap.Stringer("to", to))
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(from, to)
	}
}

// Status monta o retrato para o endpoint de status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		State:        s.state.String(),
		Published:    s.published,
		DeadLettered: s.deadLettered,
		LastError:    s.lastErr,
	}
	if !s.lastFetchAt.IsZero() {
		at := s.lastFetchAt
		st.LastFetchAt = &at
	}
	s.mu.Unlock()

	st.SourceCircuit = s.sourceBreaker.State().String()
	st.SinkCircuit = s.sinkBreaker.State().String()
	st.SourceFailures = s.sourceBreaker.Failures()
	st.SinkFailures = s.sinkBreaker.Failures()
	st.Buffer = s.buffer.Stats()
	st.Markets = s.guard.Len()
	return st
}

// Ready indica se o feed está recebendo dados: rodando e com os dois circuitos fechados.
func (s *Supervisor) Ready(context.Context) error {
	switch st := s.State(); st {
	case Polling, Backoff:
	default:
		return fmt.Errorf("feed is %s", st)
	}
	if s.sourceBreaker.State() != resilience.Closed {
		return errors.New("source circuit not closed")
	}
	if s.sinkBreaker.State() != resilience.Closed {
		return errors.New("sink circuit not closed")
	}
	return nil
}

func (s *Supervisor) onCircuitChange(name string, from, to resilience.State) {
	s.log.Warn("circuit state change",
		zap.String("dependency", name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if s.hooks.OnCircuitChange != nil {
		s.hooks.OnCircuitChange(name, to)
	}

	var kind string
	switch {
	case to == resilience.Open && from == resilience.Closed:
		kind = alert.KindCircuitOpen
	case to == resilience.Closed:
		kind = alert.KindCircuitClosed
	default:
		return // HalfOpen e reaberturas após teste não geram alerta
	}
	s.notify(kind, name, fmt.Sprintf("%s circuit %s -> %s", name, from, to))
}

func (s *Supervisor) notify(kind, dependency, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.notifier.Notify(ctx, alert.Alert{
		Kind:       kind,
		Dependency: dependency,
		Message:    msg,
		Service:    s.cfg.ServiceName,
		At:         s.clock.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("operator notification failed", zap.Error(err))
	}
}

func (s *Supervisor) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// sleep espera d no relógio do supervisor. Retorna false se ctx terminar antes.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := s.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
