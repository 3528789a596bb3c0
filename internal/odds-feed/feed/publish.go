package feed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/odds-feed-service/internal/odds-feed/alert"
	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/deadletter"
	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
	"github.com/radieske/odds-feed-service/internal/odds-feed/resilience"
)

// runPublisher drena a fila para o sink até ela fechar e esvaziar, até ctx
// ser cancelado (fim do prazo de graça) ou até um erro Fatal do sink.
func (s *Supervisor) runPublisher(ctx context.Context) error {
	failures := 0

	for {
		if ok, wait := s.sinkBreaker.Allow(); !ok {
			if !s.sleep(ctx, wait) {
				return nil
			}
			continue
		}

		task, ok := s.buffer.Dequeue(ctx)
		if !ok {
			return nil
		}

		pctx, cancel := s.clock.WithTimeout(ctx, s.cfg.PublishTimeout)
		err := s.sink.Publish(pctx, task.Update)
		cancel()

		if err == nil {
			failures = 0
			s.sinkBreaker.Success()
			s.mu.Lock()
			s.published++
			s.mu.Unlock()
			if s.hooks.OnPublished != nil {
				s.hooks.OnPublished(s.clock.Since(task.FirstEnqueuedAt))
			}
			continue
		}

		task.Attempts++
		if ctx.Err() != nil {
			// prazo de graça esgotado no meio da publicação
			s.buffer.Requeue(task)
			return nil
		}

		class := feederr.ClassOf(err)
		s.recordError(err)
		if s.hooks.OnPublishError != nil {
			s.hooks.OnPublishError(class)
		}

		if class == feederr.Fatal {
			s.log.Error("fatal event sink error", zap.Error(err))
			s.sendDeadLetter(ctx, task, causeFatal, err.Error())
			s.notify(alert.KindFatal, DependencySink, err.Error())
			return err
		}

		failures++
		s.sinkBreaker.Failure()

		if task.Attempts >= s.cfg.MaxPublishAttempts {
			s.sendDeadLetter(ctx, task, causeMaxAttempts, fmt.Sprintf("max publish attempts (%d) exceeded: %v", s.cfg.MaxPublishAttempts, err))
		} else {
			s.buffer.Requeue(task)
		}

		if s.sinkBreaker.State() == resilience.Open {
			continue // Allow segura o worker durante o cooldown
		}

		wait := s.backoff.Delay(failures)
		s.log.Warn("publish failed, backing off",
			zap.String("market_id", task.Update.MarketID),
			zap.Int64("sequence", task.Update.SequenceNumber),
			zap.Int("attempts", task.Attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if !s.sleep(ctx, wait) {
			return nil
		}
	}
}

// Causas de dead-letter, usadas como label de métrica.
const (
	causeMaxAttempts = "max_attempts"
	causeFatal       = "fatal"
	causeShutdown    = "shutdown"
)

func (s *Supervisor) sendDeadLetter(ctx context.Context, t buffer.Task, cause, reason string) {
	dl := deadletter.FromTask(t, reason, s.clock.Now())

	s.mu.Lock()
	s.deadLettered++
	s.mu.Unlock()
	if s.hooks.OnDeadLetter != nil {
		s.hooks.OnDeadLetter(cause)
	}

	// o dead-letter não usa o ctx do worker, que pode estar no fim do prazo
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()
	if err := s.deadLetter.Write(dctx, dl); err != nil {
		s.log.Error("dead letter write failed",
			zap.String("market_id", t.Update.MarketID),
			zap.Int64("sequence", t.Update.SequenceNumber),
			zap.Error(err),
		)
	}
}
