package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Simulator são os parâmetros do fornecedor simulado. Só lê o ambiente.
type Simulator struct {
	Env         string `env:"ENV"`
	ServiceName string `env:"SERVICE_NAME"`
	LogLevel    string `env:"LOG_LEVEL"`

	HTTPPort    string `env:"HTTP_PORT_SUPPLIER"`    // /v1/odds e /ws
	MetricsPort string `env:"METRICS_PORT_SUPPLIER"` // /metrics e /healthz

	TickInterval time.Duration `env:"SIM_TICK_INTERVAL"`
	Retention    int           `env:"SIM_RETENTION"` // registros mantidos para polling
	PageSize     int           `env:"SIM_PAGE_SIZE"`
	DuplicatePct int           `env:"SIM_DUPLICATE_PCT"`
	GapPct       int           `env:"SIM_GAP_PCT"`
	ErrorPct     int           `env:"SIM_ERROR_PCT"` // respostas 503 no polling
	Seed         uint64        `env:"SIM_SEED"`      // 0 = semente aleatória
}

// DefaultSimulator devolve a configuração padrão do simulador.
func DefaultSimulator() Simulator {
	return Simulator{
		Env:          "local",
		ServiceName:  "supplier-simulator",
		LogLevel:     "info",
		HTTPPort:     "8081",
		MetricsPort:  "9094",
		TickInterval: 3 * time.Second,
		Retention:    10000,
		PageSize:     500,
		DuplicatePct: 5,
		GapPct:       2,
	}
}

// LoadSimulator aplica o ambiente sobre os defaults e valida.
func LoadSimulator() (Simulator, error) {
	return loadSimulator(env.ToMap(os.Environ()))
}

func loadSimulator(environ map[string]string) (Simulator, error) {
	cfg := DefaultSimulator()
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Simulator{}, fmt.Errorf("parse env: %w", err)
	}

	var errs []error
	if cfg.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("SIM_TICK_INTERVAL must be positive, got %s", cfg.TickInterval))
	}
	if cfg.Retention < 1 || cfg.PageSize < 1 {
		errs = append(errs, errors.New("SIM_RETENTION and SIM_PAGE_SIZE must be positive"))
	}
	for name, pct := range map[string]int{"SIM_DUPLICATE_PCT": cfg.DuplicatePct, "SIM_GAP_PCT": cfg.GapPct, "SIM_ERROR_PCT": cfg.ErrorPct} {
		if pct < 0 || pct > 100 {
			errs = append(errs, fmt.Errorf("%s must be within [0,100], got %d", name, pct))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Simulator{}, fmt.Errorf("invalid simulator config: %w", err)
	}
	return cfg, nil
}
