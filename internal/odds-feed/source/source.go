// Package source abstrai o fornecedor de odds: cada chamada a Fetch devolve os
// registros brutos novos e um cursor opaco para a próxima chamada.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Cursor é opaco para o núcleo; vazio significa "sem cursor".
type Cursor string

// RawRecord é um registro do fornecedor ainda não interpretado.
type RawRecord struct {
	Data       []byte    // bytes do registro como recebidos
	ReceivedAt time.Time // timestamp local de recebimento
}

// Batch é o resultado de um Fetch bem-sucedido.
type Batch struct {
	Records []RawRecord
	Next    Cursor
}

// OddsSource pode ser chamado repetidamente. Erros são classificados via feederr.
type OddsSource interface {
	Fetch(ctx context.Context, cursor Cursor) (Batch, error)
	Close() error
}

type options struct {
	httpClient *http.Client
	log        *zap.Logger
	clock      clock.Clock
	maxBacklog int
}

// Option configura os adapters.
type Option func(*options)

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithMaxBacklog limita quantos registros o adapter WS acumula entre dois Fetch.
func WithMaxBacklog(n int) Option { return func(o *options) { o.maxBacklog = n } }

func buildOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        zap.NewNop(),
		clock:      clock.New(),
		maxBacklog: 10000,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// New escolhe o adapter pelo esquema do endpoint: http(s) para polling, ws(s) para push.
func New(endpoint string, opts ...Option) (OddsSource, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse provider endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPSource(endpoint, opts...)
	case "ws", "wss":
		return NewWSSource(endpoint, opts...)
	default:
		return nil, fmt.Errorf("unsupported provider endpoint scheme %q", u.Scheme)
	}
}
