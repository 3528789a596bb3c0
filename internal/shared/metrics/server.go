package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthFunc responde nil quando a verificação passa.
type HealthFunc func(ctx context.Context) error

// Options configura o servidor operacional. Campos nil desligam a rota
// correspondente (/healthz sempre responde).
type Options struct {
	Gatherer prometheus.Gatherer // nil usa o registry padrão
	Health   HealthFunc          // /healthz: processo vivo
	Ready    HealthFunc          // /readyz: recebendo e publicando
	Status   func() any          // /v1/status: retrato em JSON
}

// Router monta as rotas /metrics, /healthz, /readyz e /v1/status.
func Router(opts Options) http.Handler {
	g := opts.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/healthz", checkHandler(opts.Health, "unhealthy"))
	if opts.Ready != nil {
		r.Get("/readyz", checkHandler(opts.Ready, "not ready"))
	}
	if opts.Status != nil {
		r.Get("/v1/status", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(opts.Status())
		})
	}
	return r
}

func checkHandler(fn HealthFunc, failPrefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if fn != nil {
			if err := fn(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = fmt.Fprintf(w, "%s: %v", failPrefix, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// NewServer cria o servidor HTTP operacional na porta indicada.
func NewServer(port string, opts Options) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           Router(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve atende srv até ctx terminar e então faz shutdown gracioso.
func Serve(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
