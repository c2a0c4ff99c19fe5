package interview

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProfile = json.RawMessage(`{"name":"Ada","skills":["go"]}`)

func testPolicy(t *testing.T, r Round) Policy {
	t.Helper()
	pols, err := DefaultPolicies()
	require.NoError(t, err)
	p, err := pols.Get(r)
	require.NoError(t, err)
	return p
}

func TestRoundStatePhases(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewRoundState(RoundCoding, "cand-1", testProfile, now)
	assert.Equal(t, PhaseNeedsQuestion, s.Phase())
	assert.Equal(t, 1, s.QuestionNumber())

	require.NoError(t, s.ApplyDecision("Reverse a list.", ActionKeep, 0, now))
	assert.Equal(t, PhaseAwaitingAnswer, s.Phase())

	require.NoError(t, s.StageAnswer("  use two pointers  "))
	assert.Equal(t, PhaseAnswerReceived, s.Phase())
	assert.Equal(t, "use two pointers", s.CurrentAnswer)

	require.NoError(t, s.CommitAnswer(5))
	assert.Equal(t, PhaseNeedsQuestion, s.Phase())
	require.Len(t, s.Ledger, 1)
	assert.Equal(t, QAPair{Question: "Reverse a list.", Answer: "use two pointers"}, s.Ledger[0])
	assert.Empty(t, s.CurrentAnswer)
	assert.Equal(t, 2, s.QuestionNumber())

	require.NoError(t, s.ApplyDecision("Thanks, we are done.", ActionEnd, 0, now))
	assert.Equal(t, PhaseTerminal, s.Phase())
	assert.True(t, s.IsTerminal())

	require.NoError(t, s.Finish(FinalAnalysis{Narrative: "solid", Score: 70}, now))
	assert.Equal(t, PhaseAnalyzed, s.Phase())
}

func TestStageAnswerRejectsBlank(t *testing.T) {
	s := NewRoundState(RoundHR, "c", testProfile, time.Now())
	require.NoError(t, s.ApplyDecision("Why us?", ActionKeep, 0, time.Now()))

	err := s.StageAnswer(" \n\t ")
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.Equal(t, PhaseAwaitingAnswer, s.Phase())
	assert.Empty(t, s.Ledger)
}

func TestStageAnswerWrongPhase(t *testing.T) {
	s := NewRoundState(RoundHR, "c", testProfile, time.Now())
	assert.Error(t, s.StageAnswer("hello"))
}

func TestCommitAnswerCeiling(t *testing.T) {
	s := NewRoundState(RoundHR, "c", testProfile, time.Now())
	for i := 0; i < 3; i++ {
		require.NoError(t, s.ApplyDecision("q?", ActionKeep, 0, time.Now()))
		require.NoError(t, s.StageAnswer("a"))
		require.NoError(t, s.CommitAnswer(3))
	}
	require.NoError(t, s.ApplyDecision("q?", ActionKeep, 0, time.Now()))
	require.NoError(t, s.StageAnswer("a"))
	assert.Error(t, s.CommitAnswer(3))
	assert.Len(t, s.Ledger, 3)
}

func TestApplyDecisionCounterMonotonic(t *testing.T) {
	s := NewRoundState(RoundTechnical, "c", testProfile, time.Now())
	require.NoError(t, s.ApplyDecision("q", ActionKeep, 1, time.Now()))
	require.NoError(t, s.StageAnswer("a"))
	require.NoError(t, s.CommitAnswer(10))
	assert.Error(t, s.ApplyDecision("q2", ActionKeep, 0, time.Now()))
}

func TestApplyDecisionOnTerminal(t *testing.T) {
	s := NewRoundState(RoundCoding, "c", testProfile, time.Now())
	require.NoError(t, s.ApplyDecision("bye", ActionEnd, 0, time.Now()))
	assert.Error(t, s.ApplyDecision("again", ActionKeep, 0, time.Now()))
}

func TestFinishRequiresTerminal(t *testing.T) {
	s := NewRoundState(RoundCoding, "c", testProfile, time.Now())
	require.NoError(t, s.ApplyDecision("q", ActionKeep, 0, time.Now()))
	assert.Error(t, s.Finish(FinalAnalysis{Narrative: "x"}, time.Now()))
}

func TestRoundStateValidate(t *testing.T) {
	coding := testPolicy(t, RoundCoding)
	technical := testPolicy(t, RoundTechnical)

	fresh := func() *RoundState {
		s := NewRoundState(RoundCoding, "c", testProfile, time.Now())
		require.NoError(t, s.ApplyDecision("q", ActionKeep, 0, time.Now()))
		return s
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, fresh().Validate(coding))
	})
	t.Run("staged answer", func(t *testing.T) {
		s := fresh()
		s.CurrentAnswer = "x"
		assert.Error(t, s.Validate(coding))
	})
	t.Run("no pending question", func(t *testing.T) {
		s := fresh()
		s.PendingQuestion = ""
		assert.Error(t, s.Validate(coding))
	})
	t.Run("wrong policy", func(t *testing.T) {
		assert.Error(t, fresh().Validate(technical))
	})
	t.Run("ledger over ceiling", func(t *testing.T) {
		s := fresh()
		for i := 0; i < 6; i++ {
			s.Ledger = append(s.Ledger, QAPair{Question: "q", Answer: "a"})
		}
		assert.Error(t, s.Validate(coding))
	})
	t.Run("should_end disagrees with action", func(t *testing.T) {
		s := fresh()
		s.ShouldEnd = true
		assert.Error(t, s.Validate(coding))
	})
	t.Run("analysis on live state", func(t *testing.T) {
		s := fresh()
		s.Analysis = &FinalAnalysis{Narrative: "x"}
		assert.Error(t, s.Validate(coding))
	})
	t.Run("score over scale", func(t *testing.T) {
		s := NewRoundState(RoundTechnical, "c", testProfile, time.Now())
		require.NoError(t, s.ApplyDecision("bye", ActionEnd, 0, time.Now()))
		require.NoError(t, s.Finish(FinalAnalysis{Narrative: "x", Score: 11}, time.Now()))
		assert.Error(t, s.Validate(technical))
	})
	t.Run("core counter without rule", func(t *testing.T) {
		s := fresh()
		s.CoreTopicQuestionsAsked = 1
		assert.Error(t, s.Validate(coding))
	})
	t.Run("unknown action", func(t *testing.T) {
		s := fresh()
		s.DifficultyAction = "sideways"
		assert.Error(t, s.Validate(coding))
	})
}
