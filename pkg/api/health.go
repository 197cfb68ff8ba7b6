package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/orchestra/pkg/orcherr"
)

// healthResponse is the liveness check body, adapted from the
// teacher's HealthResponse (spec.md carries no explicit liveness
// route, but every other ambient endpoint in this package follows the
// teacher's health.go shape).
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// readyResponse mirrors the teacher's ReadyResponse, generalized from
// raft/storage checks to orchestra's own backends.
type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a pure liveness check: 200 if the process can
// answer HTTP at all.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler checks that the Controller backend answers a cheap
// call, the teacher's "attempt a simple read operation to verify
// storage" pattern (health.go's readyHandler) generalized from
// ListServices to the Controller's own Get-on-a-sentinel-token
// contract.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	if s.controlPlane != nil {
		if _, err := s.controlPlane.Get(r.Context(), "__orchestra_ready_probe__"); err != nil {
			if kind, ok := orcherr.As(err); ok && kind == orcherr.UnknownToken {
				checks["controller"] = "ok"
			} else {
				checks["controller"] = "error: " + err.Error()
				ready = false
				message = "controller backend unreachable"
			}
		} else {
			checks["controller"] = "ok"
		}
	} else {
		checks["controller"] = "not configured"
		ready = false
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readyResponse{Status: status, Timestamp: time.Now(), Checks: checks, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
