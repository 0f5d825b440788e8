// Package middleware implements the request pipeline (§4.F): request id
// assignment, logging, panic recovery, rate limiting, bearer auth, request
// signature verification, API-Version negotiation, and idempotency
// interception. Logging/Recovery/responseWriter/Chain keep the shape the
// proxy's own middleware package uses; the rest is new, wired to the
// checkout core's stores instead of passed straight through.
package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
	"golang.org/x/time/rate"

	"github.com/agentic-commerce/checkout-server/internal/apiversion"
	"github.com/agentic-commerce/checkout-server/internal/config"
	"github.com/agentic-commerce/checkout-server/internal/idempotency"
	"github.com/agentic-commerce/checkout-server/internal/idgen"
	"github.com/agentic-commerce/checkout-server/internal/model"
)

// Logging returns middleware that logs request details.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
				slog.String("request_id", RequestIDFromContext(r.Context())),
			)
		})
	}
}

// Recovery returns middleware that recovers from panics, logging the stack
// and returning a 500 processing_error envelope.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())),
					)
					WriteAPIError(w, model.NewInternalError(fmt.Errorf("%v", err)))
				}
			}()
			next.ServeHTTP(wrapResponseWriter(w), r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// body so the idempotency stage can persist a byte-exact replay and the
// logging stage can report the outcome.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *responseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

// Chain combines multiple middleware into one, applied in order: the first
// middleware wraps the last.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// WriteAPIError renders an *model.APIError into the §6.2 error envelope.
// Shared with the httpapi package so every stage of the pipeline produces
// byte-identical error bodies.
func WriteAPIError(w http.ResponseWriter, err *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	if err.StatusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	w.WriteHeader(err.StatusCode)
	_, _ = w.Write([]byte(fmt.Sprintf(
		`{"type":%q,"code":%q,"message":%q,"param":%q}`,
		err.Type, err.Code, err.Message, err.Param,
	)))
}

type contextKey string

const requestIDContextKey contextKey = "request_id"

// RequestID assigns an id to every inbound request, reusing an inbound
// Request-Id if present so a caller's own tracing id survives the hop.
func RequestID(gen *idgen.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("Request-Id")
			if id == "" {
				id = gen.NewRequestID()
			}
			w.Header().Set("Request-Id", id)
			ctx := context.WithValue(r.Context(), requestIDContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext returns the request id assigned by RequestID, or
// the empty string if none was assigned.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDContextKey).(string)
	return v
}

// RateLimit enforces a token-bucket limit per API key (falling back to
// remote address for unauthenticated requests), per §4.F.2.
func RateLimit(rpm, burst int) func(http.Handler) http.Handler {
	limiters := newLimiterSet(rate.Limit(float64(rpm)/60.0), burst)
	limit := strconv.Itoa(rpm)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearerToken(r)
			if key == "" {
				key = r.RemoteAddr
			}
			w.Header().Set("RateLimit-Limit", limit)
			if !limiters.allow(key) {
				w.Header().Set("RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "60")
				WriteAPIError(w, model.NewRateLimitError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Auth enforces bearer-token authentication against the configured API
// keys (§4.F.3), attaching the resolved merchant id to the request context.
func Auth(apiKeys []config.APIKey) func(http.Handler) http.Handler {
	byKey := make(map[string]config.APIKey, len(apiKeys))
	for _, k := range apiKeys {
		byKey[k.Key] = k
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				WriteAPIError(w, model.NewUnauthorizedError("missing bearer token"))
				return
			}
			matched, ok := lookupConstantTime(byKey, token)
			if !ok {
				WriteAPIError(w, model.NewUnauthorizedError("invalid bearer token"))
				return
			}
			ctx := context.WithValue(r.Context(), merchantIDContextKey, matched.MerchantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type merchantIDKeyType struct{}

var merchantIDContextKey = merchantIDKeyType{}

// MerchantIDFromContext returns the merchant id resolved by Auth.
func MerchantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(merchantIDContextKey).(string)
	return v
}

func lookupConstantTime(keys map[string]config.APIKey, token string) (config.APIKey, bool) {
	for k, v := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(token)) == 1 {
			return v, true
		}
	}
	return config.APIKey{}, false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// Signature verifies an HMAC-SHA256 request signature carried as an RFC
// 8941 Structured Field Dictionary: `t=<unix timestamp>, v1=<hex-hmac>`.
// Mirrors the proxy's httpsfv-based header parsing (ParseUCPAgentHeader)
// but for a signature envelope instead of an agent profile reference.
func Signature(secret string, vendor string, tolerance time.Duration) func(http.Handler) http.Handler {
	headerName := fmt.Sprintf("X-%s-Signature", vendor)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get(headerName)
			if header == "" {
				WriteAPIError(w, model.NewUnauthorizedError("missing signature header"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				WriteAPIError(w, model.NewInvalidRequestError("could not read request body", ""))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ts, sig, err := parseSignatureHeader(header)
			if err != nil {
				WriteAPIError(w, model.NewUnauthorizedError("malformed signature header"))
				return
			}
			if tolerance > 0 {
				skew := time.Since(time.Unix(ts, 0))
				if skew < 0 {
					skew = -skew
				}
				if skew > tolerance {
					WriteAPIError(w, model.NewUnauthorizedError("signature timestamp outside tolerance"))
					return
				}
			}
			if !verifySignature(secret, ts, body, sig) {
				WriteAPIError(w, model.NewUnauthorizedError("signature verification failed"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseSignatureHeader(header string) (timestamp int64, signature []byte, err error) {
	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return 0, nil, fmt.Errorf("invalid signature header: %w", err)
	}
	tMember, ok := dict.Get("t")
	if !ok {
		return 0, nil, fmt.Errorf("missing t member")
	}
	tItem, ok := tMember.(httpsfv.Item)
	if !ok {
		return 0, nil, fmt.Errorf("t must be an item")
	}
	tInt, ok := tItem.Value.(int64)
	if !ok {
		return 0, nil, fmt.Errorf("t must be an integer")
	}
	timestamp = tInt

	v1Member, ok := dict.Get("v1")
	if !ok {
		return 0, nil, fmt.Errorf("missing v1 member")
	}
	v1Item, ok := v1Member.(httpsfv.Item)
	if !ok {
		return 0, nil, fmt.Errorf("v1 must be an item")
	}
	v1Str, ok := v1Item.Value.(string)
	if !ok {
		return 0, nil, fmt.Errorf("v1 must be a string")
	}
	decoded, err := hex.DecodeString(v1Str)
	if err != nil {
		return 0, nil, fmt.Errorf("v1 must be hex-encoded: %w", err)
	}
	return timestamp, decoded, nil
}

func verifySignature(secret string, timestamp int64, body []byte, signature []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(expected, signature)
}

// APIVersionCheck enforces the server's configured API-Version compatibility
// policy against the client's API-Version header (§4.F.6).
func APIVersionCheck(configured string, strictness apiversion.Strictness) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested := r.Header.Get("API-Version")
			outcome := apiversion.Check(configured, requested, strictness)
			if !outcome.Compatible {
				WriteAPIError(w, model.NewInvalidRequestError(
					fmt.Sprintf("unsupported API-Version %q, server offers %q", requested, configured), "$.api_version"))
				return
			}
			if outcome.Mismatch {
				w.Header().Set("API-Version-Warning", fmt.Sprintf("requested %q, server is %q", requested, configured))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyScope derives the idempotency scope for a request, typically
// "<method> <route template>" so retries of the same logical operation
// collide while different operations never do.
type IdempotencyScope func(*http.Request) string

// Idempotency intercepts requests carrying an Idempotency-Key header,
// replaying a stored response on a fingerprint-matching retry, rejecting a
// fingerprint mismatch, and waiting on an in-flight duplicate (§4.B, §4.F.5).
// On a fresh request it lets the handler run, then persists whatever the
// handler wrote via Complete so the next retry replays it byte-for-byte.
func Idempotency(store *idempotency.Store, scopeOf IdempotencyScope, awaitTimeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				WriteAPIError(w, model.NewInvalidRequestError("could not read request body", ""))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scope := scopeOf(r)
			fingerprint, err := idempotency.Fingerprint(r.Method, r.URL.Path, body, nil)
			if err != nil {
				WriteAPIError(w, model.NewInternalError(err))
				return
			}

			result := store.Begin(scope, key, fingerprint)
			if result.Outcome == model.BeginInFlight {
				result = store.AwaitCompletion(r.Context(), scope, key, fingerprint, awaitTimeout)
			}

			switch result.Outcome {
			case model.BeginFingerprintConflict:
				WriteAPIError(w, model.NewIdempotencyConflictError())
				return
			case model.BeginInFlight:
				WriteAPIError(w, model.NewRequestInFlightError())
				return
			case model.BeginReplay:
				replayStoredResponse(w, result.Response)
				return
			}

			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			if wrapped.status >= 500 {
				store.Abort(scope, key)
				return
			}
			headers := make(map[string]string)
			for k := range wrapped.Header() {
				headers[k] = wrapped.Header().Get(k)
			}
			store.Complete(scope, key, model.StoredResponse{
				StatusCode:  wrapped.status,
				ContentType: wrapped.Header().Get("Content-Type"),
				Body:        wrapped.body.Bytes(),
				Headers:     headers,
			})
		})
	}
}

func replayStoredResponse(w http.ResponseWriter, resp *model.StoredResponse) {
	if resp == nil {
		WriteAPIError(w, model.NewInternalError(fmt.Errorf("replay requested with no stored response")))
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Idempotency-Replayed", "true")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
