package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/orchestra/pkg/log"
	"github.com/cuemby/orchestra/pkg/metrics"
)

// requestLogger logs each request's method, path, status, and
// duration, generalized from the teacher's gRPC ReadOnlyInterceptor
// chaining position — here the concern is observability, not
// authorization, since spec.md's Non-goals exclude an auth layer.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		log.WithComponent("api").Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
		metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// recoverer converts a panicking handler into a 500 instead of
// crashing the listener goroutine, matching the panic-isolation
// pkg/daemon.Daemon and pkg/worker.Pool already apply around
// user-supplied callables.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithComponent("api").Error().Interface("panic", rec).Msg("handler panicked")
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// cors sets permissive CORS headers when enabled is true
// (the ALLOW_CORS variable, spec.md §6.5), answering
// preflight OPTIONS requests directly except on /db, whose own OPTIONS
// verb is the KV-Store middleware's key-listing operation (spec.md
// §6.3) and must reach the router.
func cors(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions && r.URL.Path != "/db" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
