package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

const schema = `
	CREATE TABLE IF NOT EXISTS odds_dead_letters (
	  id                uuid PRIMARY KEY,
	  market_id         text        NOT NULL,
	  selection_id      text        NOT NULL,
	  sequence_number   bigint      NOT NULL,
	  attempts          integer     NOT NULL,
	  reason            text        NOT NULL,
	  payload           jsonb       NOT NULL,
	  first_enqueued_at timestamptz NOT NULL,
	  failed_at         timestamptz NOT NULL
	)`

// PostgresSink grava dead-letters na tabela odds_dead_letters.
type PostgresSink struct {
	DB *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{DB: db}
}

// EnsureSchema cria a tabela se ainda não existir.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create odds_dead_letters: %w", err)
	}
	return nil
}

// Write insere o envelope; reenvio do mesmo ID é ignorado.
func (s *PostgresSink) Write(ctx context.Context, dl events.DeadLetter) error {
	const q = `
		INSERT INTO odds_dead_letters
		  (id, market_id, selection_id, sequence_number, attempts, reason, payload, first_enqueued_at, failed_at)
		VALUES
		  ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`
	payload, err := json.Marshal(dl.Update)
	if err != nil {
		return fmt.Errorf("marshal dead letter payload: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, q,
		dl.ID, dl.Update.MarketID, dl.Update.SelectionID, dl.Update.SequenceNumber,
		dl.Attempts, dl.Reason, payload, dl.FirstEnqueuedAt, dl.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter %s: %w", dl.ID, err)
	}
	return nil
}

func (s *PostgresSink) Close() error { return s.DB.Close() }
