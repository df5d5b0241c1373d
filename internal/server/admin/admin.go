// Package admin serves the operational HTTP surface: liveness, readiness and metrics.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Router builds the admin handler. metrics may be nil to leave /metrics unmounted.
// Every pinger must succeed for /readyz to report ready.
func Router(log *zap.Logger, metrics http.Handler, checks map[string]Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		out := make(map[string]string, len(checks))
		code := http.StatusOK
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				log.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
				out[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			out[name] = "ok"
		}
		writeJSON(w, code, out)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
