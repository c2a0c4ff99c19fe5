package interview

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QAPair is one committed ledger entry.
type QAPair struct {
	Question string `json:"question" validate:"required"`
	Answer   string `json:"answer" validate:"required"`
}

// FinalAnalysis is the scored evaluation produced once a round terminates.
type FinalAnalysis struct {
	Narrative  string   `json:"narrative" validate:"required"`
	Tips       string   `json:"tips"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
	FocusAreas []string `json:"focus_areas"`
	Score      int      `json:"score" validate:"gte=0"`
}

// Phase is the state-machine position of a RoundState. It is derived from the
// persisted fields rather than stored, so a reloaded state always resumes at
// the same point.
type Phase string

const (
	PhaseNeedsQuestion  Phase = "needs_question"
	PhaseAwaitingAnswer Phase = "awaiting_answer"
	PhaseAnswerReceived Phase = "answer_received"
	PhaseTerminal       Phase = "terminal"
	PhaseAnalyzed       Phase = "analyzed"
)

// RoundState is one candidate's progress through one round.
type RoundState struct {
	Round            Round           `json:"round" validate:"required,oneof=coding technical manager hr"`
	CandidateID      string          `json:"candidate_id" validate:"required"`
	CandidateProfile json.RawMessage `json:"candidate_profile" validate:"required"`
	Ledger           []QAPair        `json:"ledger" validate:"dive"`
	PendingQuestion  string          `json:"pending_question"`
	CurrentAnswer    string          `json:"current_answer"`
	DifficultyAction Action          `json:"difficulty_action" validate:"required,oneof=increase decrease keep end"`
	ShouldEnd        bool            `json:"should_end"`
	Analysis         *FinalAnalysis  `json:"analysis,omitempty"`

	// CoreTopicQuestionsAsked only moves for rounds with a core-topic rule.
	CoreTopicQuestionsAsked int `json:"core_topic_questions_asked" validate:"gte=0"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRoundState returns a fresh state in PhaseNeedsQuestion.
func NewRoundState(round Round, candidateID string, profile json.RawMessage, now time.Time) *RoundState {
	return &RoundState{
		Round:            round,
		CandidateID:      candidateID,
		CandidateProfile: profile,
		Ledger:           []QAPair{},
		DifficultyAction: ActionKeep,
		StartedAt:        now,
		UpdatedAt:        now,
	}
}

// Phase derives the current state-machine position.
func (s *RoundState) Phase() Phase {
	switch {
	case s.ShouldEnd && s.Analysis != nil:
		return PhaseAnalyzed
	case s.ShouldEnd:
		return PhaseTerminal
	case s.CurrentAnswer != "":
		return PhaseAnswerReceived
	case s.PendingQuestion == "":
		return PhaseNeedsQuestion
	default:
		return PhaseAwaitingAnswer
	}
}

// IsTerminal reports whether the round has reached its end decision.
func (s *RoundState) IsTerminal() bool { return s.ShouldEnd }

// QuestionNumber is the 1-based number of the question currently pending.
func (s *RoundState) QuestionNumber() int { return len(s.Ledger) + 1 }

// StageAnswer places a candidate answer into the staging slot.
func (s *RoundState) StageAnswer(answer string) error {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Errorf(KindInvalidInput, "answer cannot be empty")
	}
	if p := s.Phase(); p != PhaseAwaitingAnswer {
		return fmt.Errorf("interview: stage answer in phase %s", p)
	}
	s.CurrentAnswer = answer
	return nil
}

// CommitAnswer appends the pending question and staged answer to the ledger
// and clears the staging slot. The ledger never grows past maxQuestions.
func (s *RoundState) CommitAnswer(maxQuestions int) error {
	if p := s.Phase(); p != PhaseAnswerReceived {
		return fmt.Errorf("interview: commit answer in phase %s", p)
	}
	if len(s.Ledger) >= maxQuestions {
		return fmt.Errorf("interview: ledger already holds %d of %d questions", len(s.Ledger), maxQuestions)
	}
	s.Ledger = append(s.Ledger, QAPair{Question: s.PendingQuestion, Answer: s.CurrentAnswer})
	s.CurrentAnswer = ""
	s.PendingQuestion = ""
	return nil
}

// ApplyDecision records the controller's decision for the next turn. An end
// action makes the state terminal and question then holds the closing message.
func (s *RoundState) ApplyDecision(question string, action Action, coreTopicsAsked int, now time.Time) error {
	if s.ShouldEnd {
		return fmt.Errorf("interview: apply decision to terminal state")
	}
	if p := s.Phase(); p != PhaseNeedsQuestion {
		return fmt.Errorf("interview: apply decision in phase %s", p)
	}
	if coreTopicsAsked < s.CoreTopicQuestionsAsked {
		return fmt.Errorf("interview: core topic counter moved backwards (%d -> %d)", s.CoreTopicQuestionsAsked, coreTopicsAsked)
	}
	s.PendingQuestion = question
	s.DifficultyAction = action
	s.ShouldEnd = action == ActionEnd
	s.CoreTopicQuestionsAsked = coreTopicsAsked
	s.UpdatedAt = now
	return nil
}

// Finish attaches the final analysis to a terminal state.
func (s *RoundState) Finish(a FinalAnalysis, now time.Time) error {
	if p := s.Phase(); p != PhaseTerminal {
		return fmt.Errorf("interview: finish in phase %s", p)
	}
	s.Analysis = &a
	s.UpdatedAt = now
	return nil
}

// Validate checks a state about to be persisted or just loaded: struct tags
// plus the cross-field invariants that tags cannot express.
func (s *RoundState) Validate(p Policy) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("interview: invalid round state: %w", err)
	}
	if s.CurrentAnswer != "" {
		return fmt.Errorf("interview: staged answer must be committed before persisting")
	}
	if s.PendingQuestion == "" {
		return fmt.Errorf("interview: persisted state has no pending question")
	}
	if s.Round != p.Round {
		return fmt.Errorf("interview: state for round %s checked against %s policy", s.Round, p.Round)
	}
	if len(s.Ledger) > p.MaxQuestions {
		return fmt.Errorf("interview: ledger holds %d entries, policy allows %d", len(s.Ledger), p.MaxQuestions)
	}
	if s.ShouldEnd != (s.DifficultyAction == ActionEnd) {
		return fmt.Errorf("interview: should_end=%t disagrees with action %s", s.ShouldEnd, s.DifficultyAction)
	}
	if s.Analysis != nil && !s.ShouldEnd {
		return fmt.Errorf("interview: analysis present on non-terminal state")
	}
	if s.Analysis != nil && s.Analysis.Score > p.ScoreScale {
		return fmt.Errorf("interview: score %d exceeds scale %d", s.Analysis.Score, p.ScoreScale)
	}
	if p.CoreTopics == nil && s.CoreTopicQuestionsAsked != 0 {
		return fmt.Errorf("interview: core topic counter set for round %s without a core topic rule", s.Round)
	}
	return nil
}
