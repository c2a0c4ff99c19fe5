// Package flow is the round sequencing gate. It enforces the fixed order of
// rounds for each candidate and records each round's status.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/keylock"
	"github.com/ashita-ai/mensetsu/internal/session"
)

// Gate checks and advances a candidate's flow. Reads are lock-free; every
// write is a load-modify-save under the candidate's flow key lock.
type Gate struct {
	sessions *session.Store
	locker   keylock.Locker
	logger   *slog.Logger
}

// New creates a Gate.
func New(sessions *session.Store, locker keylock.Locker, logger *slog.Logger) *Gate {
	return &Gate{sessions: sessions, locker: locker, logger: logger}
}

// Get returns the candidate's current flow.
func (g *Gate) Get(ctx context.Context, candidateID string) (interview.FlowState, error) {
	f, err := g.sessions.LoadFlow(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("flow: get: %w", err)
	}
	return f, nil
}

// EnsureStartAllowed fails with KindOrderingViolation unless every earlier
// round is completed and round itself is not.
func (g *Gate) EnsureStartAllowed(ctx context.Context, candidateID string, round interview.Round) error {
	f, err := g.Get(ctx, candidateID)
	if err != nil {
		return err
	}
	for _, prev := range interview.Order[:round.Index()] {
		if f.Status(prev) != interview.StatusCompleted {
			return interview.Errorf(interview.KindOrderingViolation,
				"complete the %s round before starting the %s round", prev, round)
		}
	}
	if f.Status(round) == interview.StatusCompleted {
		return interview.Errorf(interview.KindOrderingViolation, "the %s round is already completed", round)
	}
	return nil
}

// EnsureAnswerAllowed fails with KindOrderingViolation unless round has been
// started.
func (g *Gate) EnsureAnswerAllowed(ctx context.Context, candidateID string, round interview.Round) error {
	f, err := g.Get(ctx, candidateID)
	if err != nil {
		return err
	}
	switch f.Status(round) {
	case interview.StatusInProgress, interview.StatusCompleted:
		return nil
	}
	return interview.Errorf(interview.KindOrderingViolation, "the %s round has not been started", round)
}

// SetStatus unconditionally records status for round.
func (g *Gate) SetStatus(ctx context.Context, candidateID string, round interview.Round, status interview.Status) error {
	return g.update(ctx, candidateID, func(f interview.FlowState) interview.FlowState {
		f[round] = status
		return f
	})
}

// Complete marks round completed. Completing the last round resets the whole
// flow, reported by reset.
func (g *Gate) Complete(ctx context.Context, candidateID string, round interview.Round) (reset bool, err error) {
	err = g.update(ctx, candidateID, func(f interview.FlowState) interview.FlowState {
		if round.IsLast() {
			return interview.NewFlowState()
		}
		f[round] = interview.StatusCompleted
		return f
	})
	if err != nil {
		return false, err
	}
	if round.IsLast() {
		g.logger.Info("flow: final round completed, flow reset", "candidate_id", candidateID)
	}
	return round.IsLast(), nil
}

// Reset returns every round to not_started. It is idempotent.
func (g *Gate) Reset(ctx context.Context, candidateID string) (interview.FlowState, error) {
	fresh := interview.NewFlowState()
	err := g.update(ctx, candidateID, func(interview.FlowState) interview.FlowState {
		return fresh
	})
	if err != nil {
		return nil, err
	}
	return fresh.Clone(), nil
}

func (g *Gate) update(ctx context.Context, candidateID string, fn func(interview.FlowState) interview.FlowState) error {
	release, err := g.locker.Lock(ctx, session.FlowKey(candidateID))
	if err != nil {
		return fmt.Errorf("flow: lock: %w", err)
	}
	defer release()

	f, err := g.sessions.LoadFlow(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("flow: update: %w", err)
	}
	if err := g.sessions.SaveFlow(ctx, candidateID, fn(f)); err != nil {
		return fmt.Errorf("flow: update: %w", err)
	}
	return nil
}
