package server

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type healthBody struct {
	Status     string            `json:"status"`
	Subsystems map[string]string `json:"subsystems,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

func (s *Server) checkStore(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		return "down: " + err.Error(), false
	}
	return "ok", true
}

func (s *Server) checkPool() (string, bool) {
	stats := s.pool.Stats()
	if !stats.Initialized || stats.Total == 0 {
		return "down: no browser workers", false
	}
	return fmt.Sprintf("ok: %d/%d available", stats.Available, stats.Total), true
}

func (s *Server) checkLLM() (string, bool) {
	if s.cfg.OpenAI.APIKey == "" {
		return "down: api key not configured", false
	}
	return "ok", true
}

// handleHealth reports every subsystem. Any failing subsystem degrades the
// whole response to 503 so load balancers stop routing here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subsystems := make(map[string]string, 3)
	healthy := true

	msg, ok := s.checkStore(r.Context())
	subsystems["store"] = msg
	healthy = healthy && ok

	msg, ok = s.checkPool()
	subsystems["browser_pool"] = msg
	healthy = healthy && ok

	msg, ok = s.checkLLM()
	subsystems["llm"] = msg
	healthy = healthy && ok

	body := healthBody{Status: "ok", Subsystems: subsystems, Timestamp: time.Now().UTC()}
	status := http.StatusOK
	if !healthy {
		body.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// handleReady gates traffic on the two subsystems a request cannot do
// without: the store and the browser pool.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.checkStore(r.Context()); !ok {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{Status: "not ready", Timestamp: time.Now().UTC()})
		return
	}
	if _, ok := s.checkPool(); !ok {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{Status: "not ready", Timestamp: time.Now().UTC()})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ready", Timestamp: time.Now().UTC()})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{Status: "alive", Timestamp: time.Now().UTC()})
}
