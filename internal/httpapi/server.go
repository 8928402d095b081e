// Package httpapi serves the optional debug listener: health, a JSON
// snapshot of the stdio session, and Prometheus metrics. It never touches
// the protocol channels and is off unless an address is configured.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"llmstdio/pkg/types"
)

// Service defines what the HTTP layer needs from the stdio core.
type Service interface {
	Snapshot() types.StatusReport
}

// NewRouter builds the debug router.
func NewRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// Serve runs the debug listener until ctx is canceled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, svc Service, log zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: NewRouter(svc)}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("debug listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("debug listener shutdown")
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
