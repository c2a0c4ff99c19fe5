package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/mensetsu/internal/ctxutil"
	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/service/rounds"
)

// Rounds is the interview service the handlers delegate to.
type Rounds interface {
	Start(ctx context.Context, candidateID string, round interview.Round) (rounds.StartResult, error)
	Answer(ctx context.Context, candidateID string, round interview.Round, answer string) (rounds.AnswerResult, error)
	RetryAnalysis(ctx context.Context, candidateID string, round interview.Round) (rounds.AnswerResult, error)
	FlowStatus(ctx context.Context, candidateID string) (interview.FlowState, error)
	ResetFlow(ctx context.Context, candidateID string) (interview.FlowState, error)
}

// HealthChecker reports on the durable state tier.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	rounds              Rounds
	idempotency         IdempotencyStore
	health              HealthChecker
	backend             string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Idempotency, Health.
type HandlersDeps struct {
	Rounds              Rounds
	Idempotency         IdempotencyStore
	Health              HealthChecker
	Backend             string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.MaxRequestBodyBytes <= 0 {
		d.MaxRequestBodyBytes = 256 * 1024
	}
	return &Handlers{
		rounds:              d.Rounds,
		idempotency:         d.Idempotency,
		health:              d.Health,
		backend:             d.Backend,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// AnswerRequest is the body of POST /v1/rounds/{round}/answer.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// FlowResponse is the body of the flow endpoints.
type FlowResponse struct {
	Rounds []RoundStatus `json:"rounds"`
}

// RoundStatus is one entry of FlowResponse, in interview order.
type RoundStatus struct {
	Round  interview.Round  `json:"round"`
	Status interview.Status `json:"status"`
}

func flowResponse(f interview.FlowState) FlowResponse {
	out := FlowResponse{Rounds: make([]RoundStatus, 0, len(interview.Order))}
	for _, r := range interview.Order {
		out.Rounds = append(out.Rounds, RoundStatus{Round: r, Status: f.Status(r)})
	}
	return out
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
	Durable string `json:"durable"`
	Uptime  int64  `json:"uptime_seconds"`
}

func pathRound(w http.ResponseWriter, r *http.Request) (interview.Round, bool) {
	round, err := interview.ParseRound(r.PathValue("round"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error(), false)
		return "", false
	}
	return round, true
}

// HandleStartRound handles POST /v1/rounds/{round}/start.
func (h *Handlers) HandleStartRound(w http.ResponseWriter, r *http.Request) {
	round, ok := pathRound(w, r)
	if !ok {
		return
	}
	candidateID := ctxutil.CandidateID(r.Context())

	idem, proceed := h.beginIdempotentWrite(w, r, candidateID, startEndpoint(round), map[string]string{"round": string(round)})
	if !proceed {
		return
	}
	res, err := h.rounds.Start(r.Context(), candidateID, round)
	if err != nil {
		h.clearIdempotentWrite(r, candidateID, idem)
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.completeIdempotentWriteBestEffort(r, candidateID, idem, http.StatusOK, res)
	writeJSON(w, r, http.StatusOK, res)
}

// HandleSubmitAnswer handles POST /v1/rounds/{round}/answer.
func (h *Handlers) HandleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	round, ok := pathRound(w, r)
	if !ok {
		return
	}
	var req AnswerRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), false)
		return
	}
	candidateID := ctxutil.CandidateID(r.Context())

	idem, proceed := h.beginIdempotentWrite(w, r, candidateID, answerEndpoint(round), req)
	if !proceed {
		return
	}
	res, err := h.rounds.Answer(r.Context(), candidateID, round, req.Answer)
	if err != nil {
		h.clearIdempotentWrite(r, candidateID, idem)
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.completeIdempotentWriteBestEffort(r, candidateID, idem, http.StatusOK, res)
	writeJSON(w, r, http.StatusOK, res)
}

// HandleRetryAnalysis handles POST /v1/rounds/{round}/analysis.
func (h *Handlers) HandleRetryAnalysis(w http.ResponseWriter, r *http.Request) {
	round, ok := pathRound(w, r)
	if !ok {
		return
	}
	res, err := h.rounds.RetryAnalysis(r.Context(), ctxutil.CandidateID(r.Context()), round)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleFlowStatus handles GET /v1/flow.
func (h *Handlers) HandleFlowStatus(w http.ResponseWriter, r *http.Request) {
	f, err := h.rounds.FlowStatus(r.Context(), ctxutil.CandidateID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, flowResponse(f))
}

// HandleResetFlow handles POST /v1/flow/reset.
func (h *Handlers) HandleResetFlow(w http.ResponseWriter, r *http.Request) {
	f, err := h.rounds.ResetFlow(r.Context(), ctxutil.CandidateID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, flowResponse(f))
}

// HandleHealth handles GET /health. A durable tier outage degrades the
// service but does not take it down: the fallback tier keeps serving.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Backend: h.backend,
		Durable: "none",
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.Warn("health: durable tier unreachable", "error", err)
			resp.Durable = "disconnected"
			resp.Status = "degraded"
		} else {
			resp.Durable = "connected"
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}
