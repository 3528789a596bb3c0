// Package deadletter guarda atualizações que esgotaram as tentativas de
// publicação, para inspeção posterior em vez de perda silenciosa.
package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// Sink é o destino de dead-letter.
type Sink interface {
	Write(ctx context.Context, dl events.DeadLetter) error
	Close() error
}

// FromTask monta o envelope de dead-letter para uma tarefa.
func FromTask(t buffer.Task, reason string, failedAt time.Time) events.DeadLetter {
	return events.DeadLetter{
		ID:              uuid.NewString(),
		Update:          t.Update,
		Attempts:        t.Attempts,
		FirstEnqueuedAt: t.FirstEnqueuedAt,
		FailedAt:        failedAt.UTC(),
		Reason:          reason,
	}
}
