package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/mensetsu/internal/ctxutil"
	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/storage"
)

// IdempotencyStore persists Idempotency-Key reservations and responses.
// *storage.DB implements it.
type IdempotencyStore interface {
	BeginIdempotency(ctx context.Context, candidateID, endpoint, key, requestHash string) (storage.IdempotencyLookup, error)
	CompleteIdempotency(ctx context.Context, candidateID, endpoint, key string, statusCode int, responseData any) error
	ClearInProgressIdempotency(ctx context.Context, candidateID, endpoint, key string) error
}

const maxIdempotencyKeyLen = 255

type idempotencyHandle struct {
	key      string
	endpoint string
}

func startEndpoint(round interview.Round) string {
	return fmt.Sprintf("POST:/v1/rounds/%s/start", round)
}

func answerEndpoint(round interview.Round) string {
	return fmt.Sprintf("POST:/v1/rounds/%s/answer", round)
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func requestHash(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// beginIdempotentWrite checks/reuses/reserves an idempotency key.
// Returns (nil, true) when no key is present or no store is configured and
// the caller should proceed normally.
func (h *Handlers) beginIdempotentWrite(w http.ResponseWriter, r *http.Request, candidateID, endpoint string, payload any) (*idempotencyHandle, bool) {
	key := idempotencyKey(r)
	if key == "" || h.idempotency == nil {
		return nil, true
	}
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, "Idempotency-Key is too long", false)
		return nil, false
	}

	hash, err := requestHash(payload)
	if err != nil {
		writeServiceError(w, r, h.logger, fmt.Errorf("hash idempotency payload: %w", err))
		return nil, false
	}

	lookup, err := h.idempotency.BeginIdempotency(r.Context(), candidateID, endpoint, key, hash)
	switch {
	case err == nil:
		if lookup.Completed {
			var replay any
			if len(lookup.ResponseData) > 0 {
				if uErr := json.Unmarshal(lookup.ResponseData, &replay); uErr != nil {
					writeServiceError(w, r, h.logger, fmt.Errorf("unmarshal idempotent replay: %w", uErr))
					return nil, false
				}
			}
			status := lookup.StatusCode
			if status == 0 {
				status = http.StatusOK
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, r, status, replay)
			return nil, false
		}
		return &idempotencyHandle{key: key, endpoint: endpoint}, true
	case errors.Is(err, storage.ErrIdempotencyPayloadMismatch):
		writeError(w, r, http.StatusUnprocessableEntity, ErrCodeIdempotencyMismatch, "idempotency key reused with different payload", false)
		return nil, false
	case errors.Is(err, storage.ErrIdempotencyInProgress):
		writeError(w, r, http.StatusConflict, ErrCodeIdempotencyBusy, "request with this idempotency key is already in progress", true)
		return nil, false
	default:
		writeServiceError(w, r, h.logger, fmt.Errorf("idempotency lookup: %w", err))
		return nil, false
	}
}

func (h *Handlers) completeIdempotentWrite(candidateID string, idem *idempotencyHandle, statusCode int, data any) error {
	if idem == nil {
		return nil
	}

	// Detached from the request: the state change has already been
	// persisted, and a lost record turns a retry into a second turn.
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		err := h.idempotency.CompleteIdempotency(writeCtx, candidateID, idem.endpoint, idem.key, statusCode, data)
		if err == nil {
			return nil
		}
		lastErr = err
		h.logger.Warn("idempotency finalize attempt failed",
			"attempt", attempt,
			"error", err,
			"endpoint", idem.endpoint,
			"candidate_id", candidateID,
		)
		select {
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		case <-writeCtx.Done():
			return fmt.Errorf("idempotency finalize context expired: %w", lastErr)
		}
	}
	return fmt.Errorf("failed to complete idempotency record after retries: %w", lastErr)
}

// completeIdempotentWriteBestEffort finalizes an idempotency key without failing
// the already-committed response path.
func (h *Handlers) completeIdempotentWriteBestEffort(r *http.Request, candidateID string, idem *idempotencyHandle, statusCode int, data any) {
	if err := h.completeIdempotentWrite(candidateID, idem, statusCode, data); err != nil {
		h.logger.Error("failed to finalize idempotency record after committed turn",
			"error", err,
			"candidate_id", candidateID,
			"request_id", ctxutil.RequestID(r.Context()),
		)
	}
}

// clearIdempotentWrite releases a reservation after a failed request so the
// client can retry with the same key.
func (h *Handlers) clearIdempotentWrite(r *http.Request, candidateID string, idem *idempotencyHandle) {
	if idem == nil {
		return
	}
	if err := h.idempotency.ClearInProgressIdempotency(r.Context(), candidateID, idem.endpoint, idem.key); err != nil {
		h.logger.Error("failed to clear idempotency record",
			"error", err,
			"endpoint", idem.endpoint,
			"candidate_id", candidateID,
		)
	}
}
