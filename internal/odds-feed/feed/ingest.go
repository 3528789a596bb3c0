package feed

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/odds-feed-service/internal/odds-feed/alert"
	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
	"github.com/radieske/odds-feed-service/internal/odds-feed/normalizer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/resilience"
	"github.com/radieske/odds-feed-service/internal/odds-feed/source"
)

// runIngest repete pollOnce até ctx terminar ou um erro Fatal. Fecha a fila ao
// sair para que o worker drene e termine.
func (s *Supervisor) runIngest(ctx context.Context) error {
	defer s.buffer.Close()

	for {
		wait, err := s.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !s.sleep(ctx, wait) {
			return nil
		}
	}
}

// pollOnce é um passo supervisionado: consulta o breaker, faz um Fetch e
// processa o lote. Devolve quanto esperar até o próximo passo. Só retorna erro
// em falha Fatal ou cancelamento.
func (s *Supervisor) pollOnce(ctx context.Context) (time.Duration, error) {
	if ok, wait := s.sourceBreaker.Allow(); !ok {
		s.setState(CircuitOpen)
		return wait, nil
	}

	started := s.clock.Now()
	fctx, cancel := s.clock.WithTimeout(ctx, s.cfg.FetchTimeout)
	batch, err := s.source.Fetch(fctx, s.cursor)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return s.onFetchError(err)
	}

	s.sourceFailures = 0
	s.sourceBreaker.Success()
	if batch.Next != "" {
		s.cursor = batch.Next
	}
	s.mu.Lock()
	s.lastFetchAt = s.clock.Now().UTC()
	s.mu.Unlock()
	s.setState(Polling)

	if s.hooks.OnFetch != nil {
		s.hooks.OnFetch(len(batch.Records), s.clock.Since(started))
	}

	if err := s.ingest(ctx, batch.Records); err != nil {
		return 0, err
	}
	return resilience.Jitter(s.cfg.PollInterval, s.cfg.PollJitterPct, s.rand()), nil
}

func (s *Supervisor) onFetchError(err error) (time.Duration, error) {
	class := feederr.ClassOf(err)
	s.recordError(err)
	if s.hooks.OnFetchError != nil {
		s.hooks.OnFetchError(class)
	}

	if class == feederr.Fatal {
		s.log.Error("fatal odds source error", zap.Error(err))
		s.notify(alert.KindFatal, DependencySource, err.Error())
		return 0, err
	}

	s.sourceFailures++
	s.sourceBreaker.Failure()

	if s.sourceBreaker.State() == resilience.Open {
		s.setState(CircuitOpen)
		s.log.Warn("odds source circuit open",
			zap.Int("failures", s.sourceFailures),
			zap.Duration("cooldown", s.cfg.CircuitCooldown),
			zap.Error(err),
		)
		return s.cfg.CircuitCooldown, nil
	}

	wait := s.backoff.Delay(s.sourceFailures)
	if ra := feederr.RetryAfter(err); ra > wait {
		wait = ra
	}
	s.setState(Backoff)
	s.log.Warn("odds source fetch failed, backing off",
		zap.Stringer("class", class),
		zap.Int("failures", s.sourceFailures),
		zap.Duration("wait", wait),
		zap.Error(err),
	)
	return wait, nil
}

// ingest normaliza, deduplica e enfileira o lote. Falhas por registro não
// interrompem o lote.
func (s *Supervisor) ingest(ctx context.Context, records []source.RawRecord) error {
	for _, rec := range records {
		u, err := s.normalizer.Normalize(rec)
		if err != nil {
			reason := normalizer.ReasonMalformed
			var ne *normalizer.NormalizeError
			if errors.As(err, &ne) {
				reason = ne.Reason
			}
			if s.hooks.OnNormalizeError != nil {
				s.hooks.OnNormalizeError(reason)
			}
			s.log.Warn("dropping provider record", zap.String("reason", reason), zap.Error(err))
			continue
		}

		u, decision := s.guard.Check(u)
		if !decision.Admit() {
			if s.hooks.OnRejected != nil {
				s.hooks.OnRejected(decision)
			}
			s.log.Debug("odds update rejected",
				zap.String("market_id", u.MarketID),
				zap.Int64("sequence", u.SequenceNumber),
				zap.Stringer("decision", decision),
			)
			continue
		}

		if s.hooks.OnAdmitted != nil {
			s.hooks.OnAdmitted(u.GapDetected)
		}
		if u.GapDetected {
			s.log.Info("sequence gap detected",
				zap.String("market_id", u.MarketID),
				zap.Int64("sequence", u.SequenceNumber),
			)
		}

		if err := s.buffer.Enqueue(ctx, buffer.Task{Update: u}); err != nil {
			return err
		}
	}
	return nil
}
