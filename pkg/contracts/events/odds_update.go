package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// OddsUpdate é o registro canônico publicado no tópico "odds_updates".
// Uma mensagem por atualização, chaveada por MarketID.
type OddsUpdate struct {
	MarketID    string          `json:"market_id"`
	SelectionID string          `json:"selection_id"`
	EventID     string          `json:"event_id,omitempty"`
	Price       decimal.Decimal `json:"price"` // odd decimal, nunca float

	// SequenceNumber é monotônico por MarketID (fornecedor ou sintetizado localmente)
	SequenceNumber      int64 `json:"sequence_number"`
	SequenceSynthesized bool  `json:"sequence_synthesized,omitempty"`
	GapDetected         bool  `json:"gap_detected"`

	ObservedAt time.Time `json:"observed_at"` // timestamp do fornecedor
	IngestedAt time.Time `json:"ingested_at"` // timestamp local
	Source     string    `json:"source,omitempty"`
}

// DeadLetter é o envelope gravado no caminho de dead-letter quando uma
// atualização esgota as tentativas de publicação.
type DeadLetter struct {
	ID              string     `json:"id"`
	Update          OddsUpdate `json:"update"`
	Attempts        int        `json:"attempts"`
	FirstEnqueuedAt time.Time  `json:"first_enqueued_at"`
	FailedAt        time.Time  `json:"failed_at"`
	Reason          string     `json:"reason"`
}
