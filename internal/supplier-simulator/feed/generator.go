// Package feed simula um fornecedor de odds: gera registros numerados por
// mercado, com duplicatas e lacunas ocasionais, e os expõe por polling HTTP
// com cursor e por push WebSocket.
package feed

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Record é o formato de um registro no fio, o mesmo que o normalizer do feed lê.
type Record struct {
	MarketID    string    `json:"market_id"`
	SelectionID string    `json:"selection_id"`
	EventID     string    `json:"event_id"`
	Price       string    `json:"price"`
	PriceFormat string    `json:"price_format,omitempty"`
	Seq         int64     `json:"seq"`
	TS          time.Time `json:"ts"`
}

// Match é uma partida do catálogo.
type Match struct {
	EventID  string
	HomeTeam string
	AwayTeam string
}

// Catalog é o catálogo fixo de partidas simuladas.
var Catalog = []Match{
	{EventID: "MATCH_001", HomeTeam: "Flamengo", AwayTeam: "Palmeiras"},
	{EventID: "MATCH_002", HomeTeam: "Grêmio", AwayTeam: "Internacional"},
	{EventID: "MATCH_003", HomeTeam: "Corinthians", AwayTeam: "Santos"},
	{EventID: "MATCH_004", HomeTeam: "São Paulo", AwayTeam: "Vasco"},
}

// faixa de preço por seleção do mercado 1x2
var selections = []struct {
	id       string
	min, max float64
}{
	{"home", 1.40, 3.50},
	{"draw", 2.50, 4.50},
	{"away", 2.00, 5.00},
}

// MarketID monta o id do mercado 1x2 de uma partida.
func MarketID(eventID string) string { return eventID + ":1x2" }

// Options controla o gerador.
type Options struct {
	DuplicatePct int // chance de reenviar o registro recém-gerado
	GapPct       int // chance de pular um número de sequência
	Retention    int // registros mantidos para polling
	Rand         *rand.Rand
	Now          func() time.Time
}

type market struct {
	eventID string
	id      string
	seq     int64
}

// Generator produz os registros e guarda um log com offset absoluto, usado
// como cursor do endpoint de polling.
type Generator struct {
	mu      sync.Mutex
	markets []*market
	log     []Record
	offset  int64 // posição absoluta de log[0]
	opts    Options
}

// NewGenerator cria o gerador para as partidas informadas.
func NewGenerator(matches []Match, o Options) *Generator {
	if o.Retention < 1 {
		o.Retention = 10000
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	g := &Generator{opts: o}
	for _, m := range matches {
		g.markets = append(g.markets, &market{eventID: m.EventID, id: MarketID(m.EventID)})
	}
	return g
}

// Tick gera um registro por mercado e devolve o que foi emitido, já com as
// duplicatas.
func (g *Generator) Tick() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.opts.Now().UTC()
	var out []Record
	for _, m := range g.markets {
		m.seq++
		if g.rollLocked(g.opts.GapPct) {
			m.seq++
		}
		sel := selections[g.opts.Rand.IntN(len(selections))]
		price := sel.min + g.opts.Rand.Float64()*(sel.max-sel.min)

		rec := Record{
			MarketID:    m.id,
			SelectionID: sel.id,
			EventID:     m.eventID,
			Price:       decimal.NewFromFloat(price).StringFixed(2),
			PriceFormat: "decimal",
			Seq:         m.seq,
			TS:          now,
		}
		out = append(out, rec)
		if g.rollLocked(g.opts.DuplicatePct) {
			out = append(out, rec)
		}
	}

	g.log = append(g.log, out...)
	if over := len(g.log) - g.opts.Retention; over > 0 {
		g.log = append([]Record(nil), g.log[over:]...)
		g.offset += int64(over)
	}
	return out
}

// Since devolve até limit registros a partir do cursor (posição absoluta) e o
// próximo cursor. Cursor anterior ao log retido recomeça do mais antigo.
func (g *Generator) Since(cursor int64, limit int) ([]Record, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	end := g.offset + int64(len(g.log))
	if cursor < g.offset {
		cursor = g.offset
	}
	if cursor > end {
		cursor = end
	}
	to := end
	if limit > 0 && cursor+int64(limit) < end {
		to = cursor + int64(limit)
	}
	out := append([]Record(nil), g.log[cursor-g.offset:to-g.offset]...)
	return out, to
}

// Roll sorteia um evento com pct% de chance.
func (g *Generator) Roll(pct int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rollLocked(pct)
}

func (g *Generator) rollLocked(pct int) bool {
	return pct > 0 && g.opts.Rand.IntN(100) < pct
}

// FormatCursor e ParseCursor convertem a posição absoluta de/para o cursor opaco.
func FormatCursor(pos int64) string { return strconv.FormatInt(pos, 10) }

func ParseCursor(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
