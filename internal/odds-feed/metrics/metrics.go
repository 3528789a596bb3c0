// Package metrics registra as métricas Prometheus do feed de odds e as liga
// aos hooks do supervisor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/radieske/odds-feed-service/internal/odds-feed/buffer"
	"github.com/radieske/odds-feed-service/internal/odds-feed/feed"
	"github.com/radieske/odds-feed-service/internal/odds-feed/feederr"
	"github.com/radieske/odds-feed-service/internal/odds-feed/resilience"
	"github.com/radieske/odds-feed-service/internal/odds-feed/sequence"
)

const namespace = "odds_feed"

// Metrics agrupa os coletores do serviço.
type Metrics struct {
	FetchTotal       prometheus.Counter
	FetchRecords     prometheus.Counter
	FetchDuration    prometheus.Histogram
	FetchErrors      *prometheus.CounterVec // class
	NormalizeErrors  *prometheus.CounterVec // reason
	Admitted         prometheus.Counter
	GapsDetected     prometheus.Counter
	Rejected         *prometheus.CounterVec // decision
	Published        prometheus.Counter
	PublishLatency   prometheus.Histogram
	PublishErrors    *prometheus.CounterVec // class
	DeadLettered     *prometheus.CounterVec // cause
	BufferDropped    prometheus.Counter
	CircuitState     *prometheus.GaugeVec // dependency
	SupervisorState  prometheus.Gauge
	StateTransitions *prometheus.CounterVec // from, to
}

// New cria e registra as métricas em reg. Com reg nil usa o registry padrão.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		FetchTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Fetches bem-sucedidos no fornecedor",
		}),
		FetchRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_records_total",
			Help:      "Registros brutos recebidos do fornecedor",
		}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duração de cada fetch bem-sucedido",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Falhas de fetch por classe",
		}, []string{"class"}),
		NormalizeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalize_errors_total",
			Help:      "Registros descartados na normalização por motivo",
		}, []string{"reason"}),
		Admitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admitted_total",
			Help:      "Atualizações aceitas pelo controle de sequência",
		}),
		GapsDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_gaps_total",
			Help:      "Atualizações aceitas com lacuna de sequência",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Atualizações descartadas como duplicadas, antigas ou reentregas",
		}, []string{"decision"}),
		Published: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Atualizações confirmadas pelo broker",
		}),
		PublishLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Tempo entre o enfileiramento e a confirmação do broker",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Falhas de publicação por classe",
		}, []string{"class"}),
		DeadLettered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Atualizações enviadas ao dead-letter por causa",
		}, []string{"cause"}),
		BufferDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_dropped_total",
			Help:      "Atualizações descartadas pela fila em drop-oldest",
		}),
		CircuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Estado do circuit breaker (0=closed, 1=open, 2=half_open)",
		}, []string{"dependency"}),
		SupervisorState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "supervisor_state",
			Help:      "Estado do supervisor (0=starting 1=polling 2=backoff 3=circuit_open 4=stopping 5=stopped)",
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Transições de estado do supervisor",
		}, []string{"from", "to"}),
	}
}

// RegisterBuffer expõe tamanho e capacidade da fila como GaugeFunc.
func RegisterBuffer(reg prometheus.Registerer, b *buffer.PublishBuffer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_length",
		Help:      "Tarefas aguardando publicação",
	}, func() float64 { return float64(b.Len()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_capacity",
		Help:      "Capacidade da fila de publicação",
	}, func() float64 { return float64(b.Cap()) })
}

// OnBufferDrop é o callback para buffer.New.
func (m *Metrics) OnBufferDrop(buffer.Task) {
	m.BufferDropped.Inc()
}

// Hooks liga os coletores aos eventos do supervisor.
func (m *Metrics) Hooks() feed.Hooks {
	// os dois circuitos começam fechados
	m.CircuitState.WithLabelValues(feed.DependencySource).Set(float64(resilience.Closed))
	m.CircuitState.WithLabelValues(feed.DependencySink).Set(float64(resilience.Closed))

	return feed.Hooks{
		OnStateChange: func(from, to feed.State) {
			m.SupervisorState.Set(float64(to))
			m.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
		},
		OnFetch: func(records int, took time.Duration) {
			m.FetchTotal.Inc()
			m.FetchRecords.Add(float64(records))
			m.FetchDuration.Observe(took.Seconds())
		},
		OnFetchError: func(class feederr.Class) {
			m.FetchErrors.WithLabelValues(class.String()).Inc()
		},
		OnNormalizeError: func(reason string) {
			m.NormalizeErrors.WithLabelValues(reason).Inc()
		},
		OnAdmitted: func(gap bool) {
			m.Admitted.Inc()
			if gap {
				m.GapsDetected.Inc()
			}
		},
		OnRejected: func(d sequence.Decision) {
			m.Rejected.WithLabelValues(d.String()).Inc()
		},
		OnPublished: func(sinceEnqueue time.Duration) {
			m.Published.Inc()
			m.PublishLatency.Observe(sinceEnqueue.Seconds())
		},
		OnPublishError: func(class feederr.Class) {
			m.PublishErrors.WithLabelValues(class.String()).Inc()
		},
		OnDeadLetter: func(cause string) {
			m.DeadLettered.WithLabelValues(cause).Inc()
		},
		OnCircuitChange: func(dependency string, to resilience.State) {
			m.CircuitState.WithLabelValues(dependency).Set(float64(to))
		},
	}
}
