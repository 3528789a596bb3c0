// Package normalizer converte registros do fornecedor no OddsUpdate canônico.
// Não guarda estado: falhas descartam apenas o registro ofensor.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/odds-feed-service/internal/odds-feed/source"
	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// Motivos de NormalizeError, usados também como label de métrica.
const (
	ReasonMalformed     = "malformed"
	ReasonMissingField  = "missing_field"
	ReasonUnknownMarket = "unknown_market"
	ReasonBadPrice      = "bad_price"
	ReasonOutOfRange    = "price_out_of_range"
)

// Limites de odd aceitos pela plataforma de apostas.
var (
	MinPrice = decimal.RequireFromString("1.01")
	MaxPrice = decimal.NewFromInt(1000)
)

// NormalizeError descreve por que um registro foi descartado.
type NormalizeError struct {
	Reason   string
	MarketID string
	Err      error
}

func (e *NormalizeError) Error() string {
	if e.MarketID != "" {
		return fmt.Sprintf("normalize %s (market %s): %v", e.Reason, e.MarketID, e.Err)
	}
	return fmt.Sprintf("normalize %s: %v", e.Reason, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// wireRecord é o formato JSON do fornecedor.
type wireRecord struct {
	MarketID    string          `json:"market_id"`
	SelectionID string          `json:"selection_id"`
	EventID     string          `json:"event_id"`
	Price       json.RawMessage `json:"price"`
	PriceFormat string          `json:"price_format"` // decimal | fractional | american
	Seq         *int64          `json:"seq"`
	Ts          string          `json:"ts"`
}

// Normalizer é configurado uma vez e chamado pelo caminho de ingestão.
type Normalizer struct {
	source  string
	markets map[string]struct{} // vazio = aceita qualquer mercado
	now     func() time.Time
}

// New cria um Normalizer. knownMarkets vazio desliga a checagem de mercado.
func New(sourceName string, knownMarkets []string, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	markets := make(map[string]struct{}, len(knownMarkets))
	for _, m := range knownMarkets {
		if m = strings.TrimSpace(m); m != "" {
			markets[m] = struct{}{}
		}
	}
	return &Normalizer{source: sourceName, markets: markets, now: now}
}

// Normalize converte um registro bruto. Quando o fornecedor não envia "seq",
// SequenceNumber fica zero e o SequenceGuard sintetiza o valor.
func (n *Normalizer) Normalize(rec source.RawRecord) (events.OddsUpdate, error) {
	var w wireRecord
	dec := json.NewDecoder(bytes.NewReader(rec.Data))
	if err := dec.Decode(&w); err != nil {
		return events.OddsUpdate{}, &NormalizeError{Reason: ReasonMalformed, Err: err}
	}

	w.MarketID = strings.TrimSpace(w.MarketID)
	w.SelectionID = strings.TrimSpace(w.SelectionID)
	if w.MarketID == "" {
		return events.OddsUpdate{}, &NormalizeError{Reason: ReasonMissingField, Err: fmt.Errorf("market_id is required")}
	}
	if w.SelectionID == "" {
		return events.OddsUpdate{}, &NormalizeError{Reason: ReasonMissingField, MarketID: w.MarketID, Err: fmt.Errorf("selection_id is required")}
	}
	if len(n.markets) > 0 {
		if _, ok := n.markets[w.MarketID]; !ok {
			return events.OddsUpdate{}, &NormalizeError{Reason: ReasonUnknownMarket, MarketID: w.MarketID, Err: fmt.Errorf("market not in allowlist")}
		}
	}

	price, err := parsePrice(w.Price, w.PriceFormat)
	if err != nil {
		return events.OddsUpdate{}, &NormalizeError{Reason: ReasonBadPrice, MarketID: w.MarketID, Err: err}
	}
	if price.LessThan(MinPrice) || price.GreaterThan(MaxPrice) {
		return events.OddsUpdate{}, &NormalizeError{
			Reason:   ReasonOutOfRange,
			MarketID: w.MarketID,
			Err:      fmt.Errorf("price %s outside [%s, %s]", price, MinPrice, MaxPrice),
		}
	}

	var seq int64
	if w.Seq != nil {
		if *w.Seq < 1 {
			return events.OddsUpdate{}, &NormalizeError{Reason: ReasonMalformed, MarketID: w.MarketID, Err: fmt.Errorf("seq must be positive, got %d", *w.Seq)}
		}
		seq = *w.Seq
	}

	ingested := n.now().UTC()
	observed := ingested
	if w.Ts != "" {
		ts, err := time.Parse(time.RFC3339Nano, w.Ts)
		if err != nil {
			return events.OddsUpdate{}, &NormalizeError{Reason: ReasonMalformed, MarketID: w.MarketID, Err: fmt.Errorf("ts: %w", err)}
		}
		observed = ts.UTC()
	}

	return events.OddsUpdate{
		MarketID:       w.MarketID,
		SelectionID:    w.SelectionID,
		EventID:        w.EventID,
		Price:          price,
		SequenceNumber: seq,
		ObservedAt:     observed,
		IngestedAt:     ingested,
		Source:         n.source,
	}, nil
}
