// Package sequence garante ordem monotônica e deduplicação por mercado.
//
// O Guard é usado apenas pelo caminho de ingestão. O estado por mercado fica num
// LRU limitado; um mercado despejado volta a ser tratado como novo.
package sequence

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/radieske/odds-feed-service/pkg/contracts/events"
)

// Decision é o resultado de Check para uma atualização.
type Decision int

const (
	Admitted Decision = iota
	AdmittedWithGap
	Duplicate  // mesma sequência já admitida
	Stale      // sequência anterior à última admitida
	Redelivery // registro sem sequência repetindo o último preço do mercado
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case AdmittedWithGap:
		return "admitted_gap"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	case Redelivery:
		return "redelivery"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Admit indica se a atualização segue para publicação.
func (d Decision) Admit() bool { return d == Admitted || d == AdmittedWithGap }

// MarketState é o que o Guard lembra de cada mercado.
type MarketState struct {
	LastSequence  int64
	LastPriceHash uint64
}

// Guard aplica as regras de sequência por market_id.
type Guard struct {
	markets *lru.Cache[string, MarketState]
	evicted func(marketID string)
}

// NewGuard cria um Guard que lembra no máximo capacity mercados.
// onEvict (opcional) é chamado quando um mercado sai do LRU.
func NewGuard(capacity int, onEvict func(marketID string)) (*Guard, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("market state capacity must be positive, got %d", capacity)
	}
	g := &Guard{evicted: onEvict}
	cache, err := lru.NewWithEvict[string, MarketState](capacity, func(key string, _ MarketState) {
		if g.evicted != nil {
			g.evicted(key)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create market state cache: %w", err)
	}
	g.markets = cache
	return g, nil
}

// Check decide sobre u e, quando admitida, devolve a atualização com
// gap_detected e a sequência sintetizada preenchidos. Rejeições não alteram estado.
//
// SequenceNumber zero significa que o fornecedor não enviou sequência: o Guard
// atribui last+1 e rejeita a repetição exata do último preço do mercado.
func (g *Guard) Check(u events.OddsUpdate) (events.OddsUpdate, Decision) {
	hash := priceHash(u)
	state, known := g.markets.Peek(u.MarketID)

	if u.SequenceNumber == 0 {
		if known && state.LastPriceHash == hash {
			return u, Redelivery
		}
		u.SequenceNumber = state.LastSequence + 1
		u.SequenceSynthesized = true
	}

	decision := Admitted
	if known {
		switch {
		case u.SequenceNumber == state.LastSequence:
			return u, Duplicate
		case u.SequenceNumber < state.LastSequence:
			return u, Stale
		case u.SequenceNumber > state.LastSequence+1:
			decision = AdmittedWithGap
		}
	}

	u.GapDetected = decision == AdmittedWithGap
	g.markets.Add(u.MarketID, MarketState{LastSequence: u.SequenceNumber, LastPriceHash: hash})
	return u, decision
}

// State devolve o estado conhecido de um mercado sem alterar a ordem do LRU.
func (g *Guard) State(marketID string) (MarketState, bool) {
	return g.markets.Peek(marketID)
}

// Len é o número de mercados em memória.
func (g *Guard) Len() int { return g.markets.Len() }

func priceHash(u events.OddsUpdate) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(u.SelectionID)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(u.Price.String())
	return d.Sum64()
}
