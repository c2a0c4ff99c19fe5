// Package rounds provides the round state machine shared by every round type.
//
// Both the HTTP API and MCP server delegate to this service. Each call is one
// atomic step: it takes the per-key lock, loads the persisted RoundState,
// advances it, and persists the result before returning.
package rounds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mensetsu/internal/analysis"
	"github.com/ashita-ai/mensetsu/internal/difficulty"
	"github.com/ashita-ai/mensetsu/internal/flow"
	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/keylock"
	"github.com/ashita-ai/mensetsu/internal/profile"
	"github.com/ashita-ai/mensetsu/internal/session"
	"github.com/ashita-ai/mensetsu/internal/telemetry"
)

// Service runs interview rounds.
type Service struct {
	policies   interview.Policies
	sessions   *session.Store
	gate       *flow.Gate
	locker     keylock.Locker
	profiles   profile.Source
	controller *difficulty.Controller
	analyzer   *analysis.Generator
	logger     *slog.Logger
	now        func() time.Time

	started   metric.Int64Counter
	completed metric.Int64Counter
	answered  metric.Int64Counter
}

// Deps are the collaborators of a Service.
type Deps struct {
	Policies   interview.Policies
	Sessions   *session.Store
	Gate       *flow.Gate
	Locker     keylock.Locker
	Profiles   profile.Source
	Controller *difficulty.Controller
	Analyzer   *analysis.Generator
	Logger     *slog.Logger
}

// New creates a Service.
func New(d Deps) *Service {
	meter := telemetry.Meter("mensetsu/rounds")
	started, _ := meter.Int64Counter("mensetsu.rounds.started",
		metric.WithDescription("Rounds started"))
	completed, _ := meter.Int64Counter("mensetsu.rounds.completed",
		metric.WithDescription("Rounds completed with a final analysis"))
	answered, _ := meter.Int64Counter("mensetsu.rounds.answers",
		metric.WithDescription("Answers committed to a round ledger"))
	return &Service{
		policies:   d.Policies,
		sessions:   d.Sessions,
		gate:       d.Gate,
		locker:     d.Locker,
		profiles:   d.Profiles,
		controller: d.Controller,
		analyzer:   d.Analyzer,
		logger:     d.Logger,
		now:        func() time.Time { return time.Now().UTC() },
		started:    started,
		completed:  completed,
		answered:   answered,
	}
}

// StartResult is the first question of a newly started round.
type StartResult struct {
	Question       string `json:"question"`
	QuestionNumber int    `json:"question_number"`
	ShouldEnd      bool   `json:"should_end"`
}

// AnswerResult is either the next question (ShouldEnd false) or the end of
// the round with its analysis.
type AnswerResult struct {
	Question         string                   `json:"question,omitempty"`
	QuestionNumber   int                      `json:"question_number,omitempty"`
	ShouldEnd        bool                     `json:"should_end"`
	DifficultyAction interview.Action         `json:"difficulty_action,omitempty"`
	ClosingMessage   string                   `json:"closing_message,omitempty"`
	Analysis         *interview.FinalAnalysis `json:"analysis,omitempty"`
	// FlowReset reports that completing this round reset the candidate's flow.
	FlowReset bool `json:"flow_reset,omitempty"`
}

// Start begins round for a candidate and returns its first question.
func (s *Service) Start(ctx context.Context, candidateID string, round interview.Round) (StartResult, error) {
	if candidateID == "" {
		return StartResult{}, interview.Errorf(interview.KindUnauthorized, "missing candidate identity")
	}
	p, err := s.policies.Get(round)
	if err != nil {
		return StartResult{}, err
	}

	release, err := s.lock(ctx, round.StateKey(candidateID))
	if err != nil {
		return StartResult{}, err
	}
	defer release()

	if err := s.gate.EnsureStartAllowed(ctx, candidateID, round); err != nil {
		return StartResult{}, err
	}
	if _, found, err := s.sessions.LoadRound(ctx, round, candidateID); err != nil {
		return StartResult{}, fmt.Errorf("rounds: start: %w", err)
	} else if found {
		return StartResult{}, interview.Errorf(interview.KindConflict,
			"the %s round is already in progress; submit an answer or reset the flow", round)
	}

	doc, err := s.profiles.Get(ctx, candidateID)
	if errors.Is(err, profile.ErrNotFound) {
		return StartResult{}, interview.Errorf(interview.KindNotFound, "no candidate profile on file; upload a resume first")
	}
	if err != nil {
		return StartResult{}, interview.Wrap(interview.KindUpstreamUnavailable, "profile store unavailable", err)
	}

	now := s.now()
	st := interview.NewRoundState(round, candidateID, doc, now)
	d, err := s.controller.Decide(ctx, difficulty.Input{
		Policy:          p,
		Profile:         st.CandidateProfile,
		Ledger:          st.Ledger,
		Action:          st.DifficultyAction,
		CoreTopicsAsked: st.CoreTopicQuestionsAsked,
	})
	if err != nil {
		return StartResult{}, err
	}
	if err := st.ApplyDecision(d.NextQuestion, d.Action, d.CoreTopicsAsked, now); err != nil {
		return StartResult{}, fmt.Errorf("rounds: start: %w", err)
	}
	// The flow is marked first: an in_progress flow with no saved state can
	// be started again, a saved state behind a not_started flow cannot.
	if err := s.gate.SetStatus(ctx, candidateID, round, interview.StatusInProgress); err != nil {
		return StartResult{}, gateError("start", err)
	}
	if err := s.sessions.SaveRound(context.WithoutCancel(ctx), st); err != nil {
		return StartResult{}, fmt.Errorf("rounds: start: %w", err)
	}

	s.count(ctx, s.started, round)
	s.logger.Info("round started", "candidate_id", candidateID, "round", round)
	return StartResult{Question: st.PendingQuestion, QuestionNumber: st.QuestionNumber(), ShouldEnd: st.ShouldEnd}, nil
}

// Answer commits an answer to the pending question and returns the next
// question, or the round's end and analysis. A generation failure leaves the
// persisted state untouched so the same answer can be resubmitted.
func (s *Service) Answer(ctx context.Context, candidateID string, round interview.Round, answer string) (AnswerResult, error) {
	if candidateID == "" {
		return AnswerResult{}, interview.Errorf(interview.KindUnauthorized, "missing candidate identity")
	}
	p, err := s.policies.Get(round)
	if err != nil {
		return AnswerResult{}, err
	}

	release, err := s.lock(ctx, round.StateKey(candidateID))
	if err != nil {
		return AnswerResult{}, err
	}
	defer release()

	if err := s.gate.EnsureAnswerAllowed(ctx, candidateID, round); err != nil {
		return AnswerResult{}, err
	}
	if strings.TrimSpace(answer) == "" {
		return AnswerResult{}, interview.Errorf(interview.KindInvalidInput, "answer cannot be empty")
	}

	st, found, err := s.sessions.LoadRound(ctx, round, candidateID)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("rounds: answer: %w", err)
	}
	if !found {
		return AnswerResult{}, interview.Errorf(interview.KindNoActiveSession,
			"no active %s round; start the round again", round)
	}
	if st.IsTerminal() {
		return AnswerResult{}, interview.Errorf(interview.KindConflict,
			"the %s round has ended and its analysis is pending; retry the analysis", round)
	}

	if err := st.StageAnswer(answer); err != nil {
		return AnswerResult{}, err
	}
	if err := st.CommitAnswer(p.MaxQuestions); err != nil {
		return AnswerResult{}, fmt.Errorf("rounds: answer: %w", err)
	}

	d, err := s.controller.Decide(ctx, difficulty.Input{
		Policy:          p,
		Profile:         st.CandidateProfile,
		Ledger:          st.Ledger,
		Action:          st.DifficultyAction,
		CoreTopicsAsked: st.CoreTopicQuestionsAsked,
	})
	if err != nil {
		return AnswerResult{}, err
	}
	if err := st.ApplyDecision(d.NextQuestion, d.Action, d.CoreTopicsAsked, s.now()); err != nil {
		return AnswerResult{}, fmt.Errorf("rounds: answer: %w", err)
	}
	if err := s.sessions.SaveRound(ctx, st); err != nil {
		return AnswerResult{}, fmt.Errorf("rounds: answer: %w", err)
	}
	s.count(ctx, s.answered, round)

	if !st.IsTerminal() {
		if d.ForcedTopic != "" {
			s.logger.Debug("core topic question asked", "candidate_id", candidateID, "round", round, "topic", d.ForcedTopic)
		}
		return AnswerResult{
			Question:         st.PendingQuestion,
			QuestionNumber:   st.QuestionNumber(),
			DifficultyAction: st.DifficultyAction,
		}, nil
	}
	return s.finish(ctx, st, p)
}

// RetryAnalysis runs the final analysis again for a round that ended but
// whose analysis failed.
func (s *Service) RetryAnalysis(ctx context.Context, candidateID string, round interview.Round) (AnswerResult, error) {
	if candidateID == "" {
		return AnswerResult{}, interview.Errorf(interview.KindUnauthorized, "missing candidate identity")
	}
	p, err := s.policies.Get(round)
	if err != nil {
		return AnswerResult{}, err
	}

	release, err := s.lock(ctx, round.StateKey(candidateID))
	if err != nil {
		return AnswerResult{}, err
	}
	defer release()

	st, found, err := s.sessions.LoadRound(ctx, round, candidateID)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("rounds: retry analysis: %w", err)
	}
	if !found {
		return AnswerResult{}, interview.Errorf(interview.KindNoActiveSession, "no %s round awaiting analysis", round)
	}
	if !st.IsTerminal() {
		return AnswerResult{}, interview.Errorf(interview.KindConflict, "the %s round is still in progress", round)
	}
	return s.finish(ctx, st, p)
}

// finish analyzes a terminal state, clears it, and advances the flow. The
// terminal state is already persisted, so a failure here can be retried.
func (s *Service) finish(ctx context.Context, st *interview.RoundState, p interview.Policy) (AnswerResult, error) {
	a, err := s.analyzer.Analyze(ctx, p, st.CandidateProfile, st.Ledger)
	if err != nil {
		s.logger.Warn("final analysis failed; round kept for retry",
			"candidate_id", st.CandidateID, "round", st.Round, "error", err)
		return AnswerResult{}, err
	}
	if err := st.Finish(a, s.now()); err != nil {
		return AnswerResult{}, fmt.Errorf("rounds: finish: %w", err)
	}
	// The flow advances before the terminal state is dropped, so a failed
	// flow write leaves the round for RetryAnalysis.
	reset, err := s.gate.Complete(ctx, st.CandidateID, st.Round)
	if err != nil {
		s.logger.Warn("flow update failed; round kept for retry",
			"candidate_id", st.CandidateID, "round", st.Round, "error", err)
		return AnswerResult{}, gateError("finish", err)
	}
	if err := s.sessions.DeleteRound(context.WithoutCancel(ctx), st.Round, st.CandidateID); err != nil {
		return AnswerResult{}, fmt.Errorf("rounds: finish: %w", err)
	}

	s.count(ctx, s.completed, st.Round)
	s.logger.Info("round completed", "candidate_id", st.CandidateID, "round", st.Round,
		"questions", len(st.Ledger), "score", a.Score, "flow_reset", reset)
	return AnswerResult{
		ShouldEnd:      true,
		ClosingMessage: st.PendingQuestion,
		Analysis:       st.Analysis,
		FlowReset:      reset,
	}, nil
}

// FlowStatus returns the candidate's round flow.
func (s *Service) FlowStatus(ctx context.Context, candidateID string) (interview.FlowState, error) {
	if candidateID == "" {
		return nil, interview.Errorf(interview.KindUnauthorized, "missing candidate identity")
	}
	return s.gate.Get(ctx, candidateID)
}

// ResetFlow discards all round progress and returns every round to
// not_started. It is idempotent.
func (s *Service) ResetFlow(ctx context.Context, candidateID string) (interview.FlowState, error) {
	if candidateID == "" {
		return nil, interview.Errorf(interview.KindUnauthorized, "missing candidate identity")
	}
	keys := make([]string, len(interview.Order))
	for i, r := range interview.Order {
		keys[i] = r.StateKey(candidateID)
	}
	release, err := keylock.LockAll(ctx, s.locker, keys...)
	if err != nil {
		return nil, lockError(err)
	}
	defer release()

	for _, r := range interview.Order {
		if err := s.sessions.DeleteRound(ctx, r, candidateID); err != nil {
			return nil, fmt.Errorf("rounds: reset: %w", err)
		}
	}
	f, err := s.gate.Reset(ctx, candidateID)
	if err != nil {
		return nil, gateError("reset", err)
	}
	s.logger.Info("flow reset", "candidate_id", candidateID)
	return f, nil
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, lockError(err)
	}
	return release, nil
}

// lockError classifies a lock wait that ran out: another request for the
// same round is still being processed.
func lockError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return interview.Wrap(interview.KindConflict, "another request for this round is in progress", err)
	}
	return fmt.Errorf("rounds: lock: %w", err)
}

// gateError classifies a failed flow write. A flow lock wait that ran out is
// a retryable conflict like any other lock wait.
func gateError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return lockError(err)
	}
	return fmt.Errorf("rounds: %s: %w", op, err)
}

func (s *Service) count(ctx context.Context, c metric.Int64Counter, round interview.Round) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("round", string(round))))
	}
}
