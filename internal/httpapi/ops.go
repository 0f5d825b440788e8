package httpapi

import (
	"fmt"
	"net/http"
	"time"
)

const timeLayout = time.RFC3339

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}
	return time.Parse(timeLayout, s)
}

// handleHealth is the liveness probe: it answers 200 as long as the
// process is serving requests, independent of collaborator health.
// GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady is the readiness probe: it answers 503 while startedAt
// reports the server has not finished warming up (e.g. store backends not
// yet reachable), so a load balancer holds traffic until then.
// GET /ready
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.startedAt() {
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ready"})
}

// handleMetrics reports a minimal operational snapshot: the compensation
// outbox's pending depth, the signal an operator watches to tell whether
// background draining is keeping up with completion failures.
// GET /metrics
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	pending := 0
	if h.outbox != nil {
		pending = len(h.outbox.Pending())
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"outbox_pending": pending,
	})
}
