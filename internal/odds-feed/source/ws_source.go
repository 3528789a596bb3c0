package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
)

// ErrClosed é devolvido por Fetch depois de Close.
var ErrClosed = errors.New("source closed")

// WSSource representa um fornecedor que empurra odds via WebSocket.
// Uma goroutine de leitura acumula os registros recebidos e cada Fetch
// devolve o que chegou desde a chamada anterior.
type WSSource struct {
	url        string
	dialer     *websocket.Dialer
	log        *zap.Logger
	clock      clock.Clock
	maxBacklog int

	mu       sync.Mutex
	conn     *websocket.Conn
	backlog  []RawRecord
	readErr  error
	received int64
	dropped  int64
	closed   bool

	wg sync.WaitGroup
}

// NewWSSource cria o adapter; a conexão é aberta no primeiro Fetch.
func NewWSSource(endpoint string, opts ...Option) (*WSSource, error) {
	o := buildOptions(opts)
	if o.maxBacklog < 1 {
		o.maxBacklog = 1
	}
	return &WSSource{
		url: endpoint,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log:        o.log.With(zap.String("component", "ws_source")),
		clock:      o.clock,
		maxBacklog: o.maxBacklog,
	}, nil
}

// Fetch devolve os registros acumulados. Uma conexão caída vira erro Transient
// assim que o backlog esvazia, e a mesma chamada já reconecta.
func (s *WSSource) Fetch(ctx context.Context, _ Cursor) (Batch, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Batch{}, feederr.NewFatal("fetch", ErrClosed)
	}
	var dropErr error
	if len(s.backlog) == 0 && s.readErr != nil {
		dropErr = s.readErr
		s.readErr = nil
	}
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		if err := s.connect(ctx); err != nil {
			return Batch{}, err
		}
	}
	if dropErr != nil {
		return Batch{}, feederr.NewTransient("read", dropErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.backlog
	s.backlog = nil
	return Batch{Records: records, Next: Cursor(strconv.FormatInt(s.received, 10))}, nil
}

// connect estabelece a conexão e inicia a goroutine de leitura.
func (s *WSSource) connect(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return feederr.NewFatal("dial", fmt.Errorf("provider ws handshake %s", resp.Status))
		}
		return feederr.NewTransient("dial", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return feederr.NewFatal("dial", ErrClosed)
	}
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("connected to provider ws", zap.String("url", s.url))

	s.wg.Add(1)
	go s.readLoop(conn)
	return nil
}

// readLoop lê mensagens até a conexão cair ou ser fechada.
func (s *WSSource) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			// Close já zerou s.conn; só quedas vindas do fornecedor viram erro
			if s.conn == conn {
				s.conn = nil
				s.readErr = err
			}
			s.mu.Unlock()
			s.log.Warn("provider ws connection closed", zap.Error(err))
			return
		}

		rec := RawRecord{Data: message, ReceivedAt: s.clock.Now()}

		s.mu.Lock()
		if len(s.backlog) >= s.maxBacklog {
			// backlog cheio: descarta o mais antigo, odds velhas não valem nada
			s.backlog = s.backlog[1:]
			s.dropped++
		}
		s.backlog = append(s.backlog, rec)
		s.received++
		s.mu.Unlock()
	}
}

// Dropped retorna quantos registros foram descartados por backlog cheio.
func (s *WSSource) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close encerra a conexão e aguarda a goroutine de leitura.
func (s *WSSource) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	s.wg.Wait()
	return nil
}
