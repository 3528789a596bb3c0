package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig define o backoff exponencial com teto e jitter.
type BackoffConfig struct {
	Base      time.Duration // Default: 500ms
	Factor    float64       // Default: 2
	Max       time.Duration // Default: 30s
	JitterPct int           // Default: 20 (±20%)
}

// DefaultBackoffConfig retorna os valores padrão.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:      500 * time.Millisecond,
		Factor:    2,
		Max:       30 * time.Second,
		JitterPct: 20,
	}
}

// Backoff calcula o atraso para a n-ésima falha consecutiva.
type Backoff struct {
	cfg  BackoffConfig
	rand func() float64
}

// NewBackoff cria um Backoff. rnd deve devolver valores em [0,1); nil usa math/rand.
func NewBackoff(cfg BackoffConfig, rnd func() float64) *Backoff {
	if rnd == nil {
		rnd = rand.Float64
	}
	if cfg.Factor < 1 {
		cfg.Factor = 1
	}
	return &Backoff{cfg: cfg, rand: rnd}
}

// Delay retorna base*factor^(failures-1) com jitter, nunca acima de Max.
func (b *Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := float64(b.cfg.Base) * math.Pow(b.cfg.Factor, float64(failures-1))
	if b.cfg.Max > 0 && d > float64(b.cfg.Max) {
		d = float64(b.cfg.Max)
	}
	d = jitter(d, b.cfg.JitterPct, b.rand())
	if b.cfg.Max > 0 && d > float64(b.cfg.Max) {
		d = float64(b.cfg.Max)
	}
	return time.Duration(d)
}

// Jitter espalha d em ±pct% (r em [0,1)).
func Jitter(d time.Duration, pct int, r float64) time.Duration {
	return time.Duration(jitter(float64(d), pct, r))
}

func jitter(d float64, pct int, r float64) float64 {
	if pct <= 0 {
		return d
	}
	spread := float64(pct) / 100
	return d * (1 + spread*(2*r-1))
}
