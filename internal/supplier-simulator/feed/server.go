package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Metrics do simulador.
type Metrics struct {
	WSConnections    prometheus.Gauge
	WSMessagesSent   prometheus.Counter
	RecordsGenerated prometheus.Counter
	PollRequests     *prometheus.CounterVec // code
}

// NewMetrics registra as métricas em reg (nil usa o registry padrão).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "supplier_ws_connections",
			Help: "Clientes WebSocket conectados",
		}),
		WSMessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "supplier_ws_messages_sent_total",
			Help: "Total de mensagens WS enviadas",
		}),
		RecordsGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "supplier_records_generated_total",
			Help: "Registros de odds gerados, com duplicatas",
		}),
		PollRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "supplier_poll_requests_total",
			Help: "Requisições de polling por status HTTP",
		}, []string{"code"}),
	}
}

// fetchResponse é o envelope do endpoint de polling.
type fetchResponse struct {
	Records []Record `json:"records"`
	Cursor  string   `json:"cursor"`
}

// Server expõe o gerador por HTTP e WebSocket.
type Server struct {
	gen      *Generator
	hub      *hub
	log      *zap.Logger
	metrics  *Metrics
	pageSize int
	errorPct int
	upgrader websocket.Upgrader

	readers sync.WaitGroup
}

// ServerOptions configura o Server.
type ServerOptions struct {
	PageSize int // máximo de registros por resposta de polling
	ErrorPct int // chance de responder 503 no polling
	Metrics  *Metrics
}

// NewServer cria o servidor do simulador.
func NewServer(gen *Generator, log *zap.Logger, o ServerOptions) *Server {
	if o.PageSize < 1 {
		o.PageSize = 500
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	log = log.With(zap.String("component", "supplier_simulator"))
	return &Server{
		gen:      gen,
		hub:      newHub(log, o.Metrics),
		log:      log,
		metrics:  o.Metrics,
		pageSize: o.PageSize,
		errorPct: o.ErrorPct,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router retorna as rotas públicas: GET /v1/odds?cursor=N e GET /ws.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/odds", s.pollHandler)
	r.Get("/ws", s.wsHandler)
	return r
}

// Run gera um lote a cada interval e o empurra para os clientes WS.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			s.Emit()
		}
	}
}

// Emit gera um lote e o envia para os clientes conectados.
func (s *Server) Emit() []Record {
	recs := s.gen.Tick()
	s.metrics.RecordsGenerated.Add(float64(len(recs)))
	for _, rec := range recs {
		s.hub.broadcast(rec)
	}
	return recs
}

func (s *Server) pollHandler(w http.ResponseWriter, r *http.Request) {
	cursor, err := ParseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		s.reply(w, http.StatusBadRequest, map[string]string{"error": "invalid cursor"})
		return
	}
	if s.gen.Roll(s.errorPct) {
		s.reply(w, http.StatusServiceUnavailable, map[string]string{"error": "supplier_unavailable_mock"})
		return
	}

	limit := s.pageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < limit {
			limit = n
		}
	}

	recs, next := s.gen.Since(cursor, limit)
	if recs == nil {
		recs = []Record{}
	}
	s.reply(w, http.StatusOK, fetchResponse{Records: recs, Cursor: FormatCursor(next)})
}

func (s *Server) reply(w http.ResponseWriter, status int, v any) {
	s.metrics.PollRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &clientConn{id: uuid.NewString(), conn: conn}
	s.hub.add(c)

	// Goroutine para manter a conexão viva e remover cliente ao desconectar
	s.readers.Add(1)
	go func() {
		defer s.readers.Done()
		defer func() {
			s.hub.remove(c.id)
			_ = conn.Close()
		}()
		for {
			// Lê e descarta mensagens do cliente para manter o socket limpo
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Close derruba os clientes WS e aguarda suas goroutines de leitura.
func (s *Server) Close() {
	s.hub.closeAll()
	s.readers.Wait()
}

// Clients devolve quantos clientes WS estão conectados.
func (s *Server) Clients() int {
	return s.hub.len()
}

type clientConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // gorilla aceita um único escritor por conexão
}

// hub gerencia os clientes conectados e faz broadcast para todos eles.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*clientConn
	log     *zap.Logger
	metrics *Metrics
}

func newHub(log *zap.Logger, m *Metrics) *hub {
	return &hub{clients: make(map[string]*clientConn), log: log, metrics: m}
}

func (h *hub) add(c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.metrics.WSConnections.Inc()
	h.log.Info("ws client connected", zap.String("client_id", c.id))
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		h.metrics.WSConnections.Dec()
		h.log.Info("ws client disconnected", zap.String("client_id", id))
	}
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast envia um registro por mensagem para todos os clientes.
func (h *hub) broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal ws message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			h.log.Warn("ws write failed", zap.String("client_id", id), zap.Error(err))
			_ = c.conn.Close()
			continue
		}
		h.metrics.WSMessagesSent.Inc()
	}
}

func (h *hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.conn.Close()
	}
}
