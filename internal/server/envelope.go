package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/mensetsu/internal/ctxutil"
	"github.com/ashita-ai/mensetsu/internal/interview"
)

// Error codes returned in the error envelope.
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeOrderingViolation   = "ORDERING_VIOLATION"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeNoActiveSession     = "NO_ACTIVE_SESSION"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeIdempotencyBusy     = "IDEMPOTENCY_IN_PROGRESS"
	ErrCodeIdempotencyMismatch = "IDEMPOTENCY_PAYLOAD_MISMATCH"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// ResponseMeta accompanies every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// APIResponse is the success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// APIError is the error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

func meta(r *http.Request) ResponseMeta {
	return ResponseMeta{RequestID: ctxutil.RequestID(r.Context()), Timestamp: time.Now().UTC()}
}

// writeJSON writes a JSON response with the standard envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Data: data, Meta: meta(r)})
}

// writeError writes a JSON error response with the standard envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{
		Error: ErrorDetail{Code: code, Message: message, Retryable: retryable},
		Meta:  meta(r),
	})
}

var kindStatus = map[interview.Kind]struct {
	status int
	code   string
}{
	interview.KindUnauthorized:        {http.StatusUnauthorized, ErrCodeUnauthorized},
	interview.KindOrderingViolation:   {http.StatusForbidden, ErrCodeOrderingViolation},
	interview.KindInvalidInput:        {http.StatusBadRequest, ErrCodeInvalidInput},
	interview.KindNotFound:            {http.StatusNotFound, ErrCodeNotFound},
	interview.KindNoActiveSession:     {http.StatusConflict, ErrCodeNoActiveSession},
	interview.KindConflict:            {http.StatusConflict, ErrCodeConflict},
	interview.KindUpstreamUnavailable: {http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable},
}

// writeServiceError maps a classified interview error onto the envelope.
// Unclassified errors are logged and reported without internal detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var e *interview.Error
	if errors.As(err, &e) {
		if m, ok := kindStatus[e.Kind]; ok {
			if e.Kind == interview.KindUpstreamUnavailable {
				logger.Warn("upstream unavailable", "error", err, "request_id", ctxutil.RequestID(r.Context()))
			}
			writeError(w, r, m.status, m.code, e.Message, e.Retryable())
			return
		}
	}
	logger.Error("request failed", "error", err, "request_id", ctxutil.RequestID(r.Context()))
	writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "internal error", false)
}
