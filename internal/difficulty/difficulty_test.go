package difficulty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mensetsu/internal/generation"
	"github.com/ashita-ai/mensetsu/internal/interview"
)

var profile = json.RawMessage(`{"name":"Ada"}`)

func policy(t *testing.T, r interview.Round) interview.Policy {
	t.Helper()
	pols, err := interview.DefaultPolicies()
	require.NoError(t, err)
	return pols[r]
}

func ledger(n int) []interview.QAPair {
	out := make([]interview.QAPair, n)
	for i := range out {
		out[i] = interview.QAPair{Question: fmt.Sprintf("q%d", i+1), Answer: fmt.Sprintf("a%d", i+1)}
	}
	return out
}

func newController(gen generation.Generator) *Controller {
	return New(gen, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func decisionJSON(q string, end bool, action string) string {
	b, _ := json.Marshal(Reply{NextQuestion: q, ShouldEnd: end, Action: action})
	return string(b)
}

func TestDecide_FirstQuestion(t *testing.T) {
	gen := generation.NewScripted("").QueueText("  Hello Ada. What is a hash map?  ")
	d, err := newController(gen).Decide(context.Background(), Input{Policy: policy(t, interview.RoundCoding), Profile: profile, Action: interview.ActionKeep})
	require.NoError(t, err)
	assert.Equal(t, Decision{NextQuestion: "Hello Ada. What is a hash map?", Action: interview.ActionKeep}, d)
}

func TestDecide_CeilingSkipsGenerator(t *testing.T) {
	p := policy(t, interview.RoundCoding)
	gen := generation.NewScripted("")
	d, err := newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(p.MaxQuestions), Action: interview.ActionIncrease})
	require.NoError(t, err)
	assert.True(t, d.ShouldEnd)
	assert.Equal(t, interview.ActionEnd, d.Action)
	assert.Equal(t, p.ClosingMessage, d.NextQuestion)
	assert.Empty(t, gen.Prompts(), "generator must not be consulted at the ceiling")
}

func TestDecide_FollowupContinues(t *testing.T) {
	gen := generation.NewScripted("").QueueJSON(SchemaName, decisionJSON("Explain amortized cost.", false, "increase"))
	d, err := newController(gen).Decide(context.Background(), Input{Policy: policy(t, interview.RoundCoding), Profile: profile, Ledger: ledger(1), Action: interview.ActionKeep})
	require.NoError(t, err)
	assert.Equal(t, "Explain amortized cost.", d.NextQuestion)
	assert.Equal(t, interview.ActionIncrease, d.Action)
	assert.False(t, d.ShouldEnd)
}

func TestDecide_NormalizesEnd(t *testing.T) {
	for name, reply := range map[string]string{
		"should_end with keep":    decisionJSON("", true, "keep"),
		"end action without flag": decisionJSON("ignored", false, "end"),
		"long form end_interview": decisionJSON("", true, "end_interview"),
	} {
		t.Run(name, func(t *testing.T) {
			p := policy(t, interview.RoundManager)
			gen := generation.NewScripted("").QueueJSON(SchemaName, reply)
			d, err := newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(2), Action: interview.ActionKeep})
			require.NoError(t, err)
			assert.True(t, d.ShouldEnd)
			assert.Equal(t, interview.ActionEnd, d.Action)
			assert.Equal(t, p.EarlyEndMessage, d.NextQuestion)
		})
	}
}

func TestDecide_MalformedReplies(t *testing.T) {
	for name, reply := range map[string]string{
		"unknown action":        decisionJSON("q", false, "sideways"),
		"continue without text": decisionJSON("   ", false, "keep"),
	} {
		t.Run(name, func(t *testing.T) {
			gen := generation.NewScripted("").QueueJSON(SchemaName, reply)
			_, err := newController(gen).Decide(context.Background(), Input{Policy: policy(t, interview.RoundManager), Profile: profile, Ledger: ledger(1), Action: interview.ActionKeep})
			require.Error(t, err)
			assert.Equal(t, interview.KindUpstreamUnavailable, interview.KindOf(err))
		})
	}
}

func TestDecide_GeneratorFailure(t *testing.T) {
	cause := errors.New("deadline exceeded")
	gen := generation.NewScripted("").QueueTextError(cause)
	_, err := newController(gen).Decide(context.Background(), Input{Policy: policy(t, interview.RoundHR), Profile: profile})
	require.Error(t, err)
	assert.True(t, interview.IsRetryable(err))
	assert.ErrorIs(t, err, cause)
}

func TestDecide_TechnicalOverrideOnEarlyEnd(t *testing.T) {
	p := policy(t, interview.RoundTechnical)
	gen := generation.NewScripted("").
		QueueJSON(SchemaName, decisionJSON("", true, "end")).
		QueueText("What is normalization in a relational database?")

	d, err := newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(1), Action: interview.ActionDecrease, CoreTopicsAsked: 0})
	require.NoError(t, err)
	assert.False(t, d.ShouldEnd)
	assert.Equal(t, interview.ActionKeep, d.Action)
	assert.Equal(t, 1, d.CoreTopicsAsked)
	assert.Equal(t, "Computer Networks", d.ForcedTopic)
	assert.Equal(t, "What is normalization in a relational database?", d.NextQuestion)

	prompts := gen.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "about Computer Networks")
}

func TestDecide_TechnicalEndsOnceMinimumMet(t *testing.T) {
	p := policy(t, interview.RoundTechnical)
	gen := generation.NewScripted("").QueueJSON(SchemaName, decisionJSON("", true, "end"))
	d, err := newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(4), Action: interview.ActionKeep, CoreTopicsAsked: 2})
	require.NoError(t, err)
	assert.True(t, d.ShouldEnd)
	assert.Equal(t, 2, d.CoreTopicsAsked)
}

func TestDecide_ForcedQuestionNumbers(t *testing.T) {
	p := policy(t, interview.RoundTechnical)

	// Question 3 is forced while the minimum is unmet.
	gen := generation.NewScripted("").QueueJSON(SchemaName, decisionJSON("Explain the OSI model.", false, "keep"))
	d, err := newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(2), Action: interview.ActionKeep})
	require.NoError(t, err)
	assert.Equal(t, "Computer Networks", d.ForcedTopic)
	assert.Equal(t, 1, d.CoreTopicsAsked)
	assert.Contains(t, gen.Prompts()[0], "MUST be about Computer Networks")

	// Question 4 is not forced.
	gen = generation.NewScripted("").QueueJSON(SchemaName, decisionJSON("Tell me about your project.", false, "keep"))
	d, err = newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(3), Action: interview.ActionKeep, CoreTopicsAsked: 1})
	require.NoError(t, err)
	assert.Empty(t, d.ForcedTopic)
	assert.Equal(t, 1, d.CoreTopicsAsked)

	// Question 6 draws the next topic round-robin.
	gen = generation.NewScripted("").QueueJSON(SchemaName, decisionJSON("What is a foreign key?", false, "increase"))
	d, err = newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(5), Action: interview.ActionKeep, CoreTopicsAsked: 1})
	require.NoError(t, err)
	assert.Equal(t, "DBMS", d.ForcedTopic)
	assert.Equal(t, 2, d.CoreTopicsAsked)
}

func TestDecide_ForcedWhenBudgetRunsOut(t *testing.T) {
	p := policy(t, interview.RoundTechnical)
	// Question 10 with one core question still owed: remaining budget (1) equals the shortfall.
	gen := generation.NewScripted("").QueueJSON(SchemaName, decisionJSON("Explain polymorphism.", false, "keep"))
	d, err := newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(9), Action: interview.ActionKeep, CoreTopicsAsked: 1})
	require.NoError(t, err)
	assert.Equal(t, "DBMS", d.ForcedTopic)
	assert.Equal(t, 2, d.CoreTopicsAsked)
}

func TestDecide_CeilingBeatsCoreTopics(t *testing.T) {
	p := policy(t, interview.RoundTechnical)
	gen := generation.NewScripted("")
	d, err := newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(10), Action: interview.ActionKeep, CoreTopicsAsked: 0})
	require.NoError(t, err)
	assert.True(t, d.ShouldEnd)
	assert.Equal(t, 0, d.CoreTopicsAsked)
}

func TestDecide_HRSingleQuestion(t *testing.T) {
	p := policy(t, interview.RoundHR)
	gen := generation.NewScripted("").QueueText("Welcome!\nWhy do you want this role? And where do you see yourself?")
	d, err := newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile})
	require.NoError(t, err)
	assert.Equal(t, "Welcome! Why do you want this role?", d.NextQuestion)

	gen = generation.NewScripted("").QueueJSON(SchemaName, decisionJSON("How do you handle conflict? Give an example?", false, "keep"))
	d, err = newController(gen).Decide(context.Background(), Input{Policy: p, Profile: profile, Ledger: ledger(1), Action: interview.ActionKeep})
	require.NoError(t, err)
	assert.Equal(t, "How do you handle conflict?", d.NextQuestion)
}

func TestSingleQuestion(t *testing.T) {
	assert.Equal(t, "", SingleQuestion("   "))
	assert.Equal(t, "Tell me about yourself.", SingleQuestion("Tell me  about\nyourself."))
	assert.Equal(t, "Why?", SingleQuestion("Why? Because."))
	assert.Equal(t, "?", SingleQuestion(" ? x"))
}
