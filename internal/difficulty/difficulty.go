// Package difficulty decides each next step of a round: the next question,
// whether difficulty moves, and when the round ends.
//
// The external generator is authoritative for the adaptive decision. The
// controller enforces the hard limits around it: the question ceiling, the
// core-topic minimum, and the shape of generated questions.
package difficulty

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/ashita-ai/mensetsu/internal/generation"
	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/prompts"
)

// SchemaName names the structured decision requested from the generator.
const SchemaName = "difficulty_decision"

// Input is everything the controller needs for one decision.
type Input struct {
	Policy          interview.Policy
	Profile         json.RawMessage
	Ledger          []interview.QAPair
	Action          interview.Action
	CoreTopicsAsked int
}

// Decision is the controller's output for one turn. When ShouldEnd is set,
// NextQuestion holds the closing message.
type Decision struct {
	NextQuestion    string
	ShouldEnd       bool
	Action          interview.Action
	CoreTopicsAsked int
	// ForcedTopic is the core topic the question was steered to, if any.
	ForcedTopic string
}

// Reply is the structured shape the generator returns for a follow-up turn.
type Reply struct {
	NextQuestion string `json:"next_question" jsonschema:"description=The next question to ask; empty when ending"`
	ShouldEnd    bool   `json:"should_end" jsonschema:"description=True when the interview should end now"`
	Action       string `json:"action" jsonschema:"enum=increase,enum=decrease,enum=keep,enum=end"`
}

// Controller makes difficulty decisions using an external generator.
type Controller struct {
	gen    generation.Generator
	logger *slog.Logger
}

// New creates a Controller.
func New(gen generation.Generator, logger *slog.Logger) *Controller {
	return &Controller{gen: gen, logger: logger}
}

// Decide produces the next step for a round whose ledger is in.Ledger.
// Generation failures and malformed replies return a KindUpstreamUnavailable
// error.
func (c *Controller) Decide(ctx context.Context, in Input) (Decision, error) {
	p := in.Policy
	n := len(in.Ledger)
	asked := in.CoreTopicsAsked

	// The ceiling is checked before any generator call and always wins.
	if n >= p.MaxQuestions {
		return Decision{NextQuestion: p.ClosingMessage, ShouldEnd: true, Action: interview.ActionEnd, CoreTopicsAsked: asked}, nil
	}

	if n == 0 {
		q, err := c.question(ctx, p, prompts.Opening(p, in.Profile))
		if err != nil {
			return Decision{}, err
		}
		return Decision{NextQuestion: q, Action: interview.ActionKeep, CoreTopicsAsked: asked}, nil
	}

	rule := p.CoreTopics
	qnum := n + 1
	forced := ""
	if rule != nil && rule.Forces(qnum, asked, p.MaxQuestions-n) {
		forced = rule.Topic(asked)
	}

	var reply Reply
	err := c.gen.Structured(ctx, SchemaName, prompts.Followup(prompts.FollowupInput{
		Policy:         p,
		Profile:        in.Profile,
		Ledger:         in.Ledger,
		Action:         in.Action,
		QuestionNumber: qnum,
		ForcedTopic:    forced,
	}), &reply)
	if err != nil {
		return Decision{}, interview.Wrap(interview.KindUpstreamUnavailable, "question generation failed", err)
	}
	action, err := interview.ParseAction(strings.TrimSpace(reply.Action))
	if err != nil {
		return Decision{}, interview.Wrap(interview.KindUpstreamUnavailable, "malformed generation reply", err)
	}
	if reply.ShouldEnd || action == interview.ActionEnd {
		return c.endEarly(ctx, in, rule)
	}

	q := shape(p, reply.NextQuestion)
	if q == "" {
		return Decision{}, interview.Wrap(interview.KindUpstreamUnavailable, "malformed generation reply",
			errors.New("continuing decision without a question"))
	}
	if forced != "" {
		asked++
	}
	return Decision{NextQuestion: q, Action: action, CoreTopicsAsked: asked, ForcedTopic: forced}, nil
}

// endEarly handles an end decision below the ceiling. A round that still owes
// core-topic questions asks one more instead of ending.
func (c *Controller) endEarly(ctx context.Context, in Input, rule *interview.CoreTopicRule) (Decision, error) {
	p := in.Policy
	asked := in.CoreTopicsAsked
	if rule == nil || rule.Remaining(asked) == 0 {
		return Decision{NextQuestion: p.EarlyEndMessage, ShouldEnd: true, Action: interview.ActionEnd, CoreTopicsAsked: asked}, nil
	}

	topic := rule.Topic(asked)
	c.logger.Info("difficulty: overriding early end to cover core topic",
		"round", p.Round, "topic", topic, "core_topics_asked", asked, "minimum", rule.MinQuestions)
	q, err := c.question(ctx, p, prompts.ForcedTopic(p, in.Profile, in.Ledger, topic))
	if err != nil {
		return Decision{}, err
	}
	return Decision{NextQuestion: q, Action: interview.ActionKeep, CoreTopicsAsked: asked + 1, ForcedTopic: topic}, nil
}

func (c *Controller) question(ctx context.Context, p interview.Policy, prompt string) (string, error) {
	text, err := c.gen.Text(ctx, prompt)
	if err != nil {
		return "", interview.Wrap(interview.KindUpstreamUnavailable, "question generation failed", err)
	}
	q := shape(p, text)
	if q == "" {
		return "", interview.Wrap(interview.KindUpstreamUnavailable, "malformed generation reply", errors.New("empty question"))
	}
	return q, nil
}

func shape(p interview.Policy, text string) string {
	if p.SingleQuestion {
		return SingleQuestion(text)
	}
	return strings.TrimSpace(text)
}

// SingleQuestion collapses whitespace and cuts text after its first question
// mark. Text without one is returned whole.
func SingleQuestion(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if i := strings.IndexByte(cleaned, '?'); i >= 0 {
		return strings.TrimSpace(cleaned[:i]) + "?"
	}
	return cleaned
}
