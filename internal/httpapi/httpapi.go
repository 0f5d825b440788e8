// Package httpapi registers the checkout server's HTTP surface (§6.1) and
// translates between wire DTOs and the orchestrator's operations. It keeps
// the proxy's writeJSON/writeError/decodeJSON shape but renders the §6.2
// error envelope directly instead of wrapping every error in a checkout
// object, since this surface's error responses are not required to look
// like a session.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/agentic-commerce/checkout-server/internal/middleware"
	"github.com/agentic-commerce/checkout-server/internal/model"
	"github.com/agentic-commerce/checkout-server/internal/orchestrator"
	"github.com/agentic-commerce/checkout-server/internal/outbox"
	"github.com/agentic-commerce/checkout-server/internal/vault"
)

// MaxRequestBodySize limits JSON request bodies to 1MB, mirroring the
// proxy's own DoS guard on decodeJSON.
const MaxRequestBodySize = 1 << 20

// Handler holds the dependencies HTTP handlers need: the orchestrator plus
// whatever read-only state the health/readiness probes report on.
type Handler struct {
	orch      *orchestrator.Orchestrator
	outbox    *outbox.Queue
	validate  *validator.Validate
	logger    *slog.Logger
	startedAt func() bool
}

// New builds a Handler. ready reports whether the server should answer
// GET /ready with 200; it is nil-safe and defaults to always-ready.
func New(orch *orchestrator.Orchestrator, ob *outbox.Queue, logger *slog.Logger, ready func() bool) *Handler {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Handler{
		orch:      orch,
		outbox:    ob,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		startedAt: ready,
	}
}

// RegisterRoutes wires every route in §6.1 onto mux, using Go 1.22+
// method-pattern routing the way the proxy's handler package does.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /checkout_sessions", h.handleCreate)
	mux.HandleFunc("GET /checkout_sessions/{id}", h.handleGet)
	mux.HandleFunc("POST /checkout_sessions/{id}", h.handleUpdate)
	mux.HandleFunc("POST /checkout_sessions/{id}/complete", h.handleComplete)
	mux.HandleFunc("POST /checkout_sessions/{id}/cancel", h.handleCancel)
	mux.HandleFunc("POST /agentic_commerce/delegate_payment", h.handleDelegatePayment)

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)
	mux.HandleFunc("GET /metrics", h.handleMetrics)

	mux.Handle("/mcp", h.MCPHandler())
}

// IdempotencyScope returns the middleware.IdempotencyScope for this
// surface: method plus the route template with any session id replaced by
// a wildcard, so "POST /checkout_sessions/cs_1" and
// "POST /checkout_sessions/cs_2" resolve to the same Idempotency-Key scope
// as required by §4.F.5 ("scope" identifying the logical operation, not
// the concrete resource).
func IdempotencyScope(r *http.Request) string {
	id := r.PathValue("id")
	path := r.URL.Path
	if id != "" {
		if suffix, ok := strings.CutPrefix(path, "/checkout_sessions/"+id); ok {
			path = "/checkout_sessions/{id}" + suffix
		}
	}
	return r.Method + " " + path
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		h.logger.Error("unexpected error reaching httpapi boundary", slog.String("error", err.Error()))
		apiErr = model.NewInternalError(err)
	}
	middleware.WriteAPIError(w, apiErr)
}

func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewInvalidRequestError("request body is not valid JSON", "$")
	}
	return nil
}

func (h *Handler) validateStruct(v any) *model.APIError {
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return model.NewInvalidRequestError(
				first.Field()+" failed "+first.Tag()+" validation",
				"$."+first.Namespace(),
			)
		}
		return model.NewInvalidRequestError("request failed validation", "$")
	}
	return nil
}
