package interview

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed policies.yaml
var defaultPolicies []byte

// Policy parameterizes the generic round state machine for one round.
type Policy struct {
	Round        Round `yaml:"round" validate:"required,oneof=coding technical manager hr"`
	MaxQuestions int   `yaml:"max_questions" validate:"gt=0,lte=50"`
	ScoreScale   int   `yaml:"score_scale" validate:"oneof=10 100"`

	Persona          string `yaml:"persona" validate:"required"`
	OpeningGuidance  string `yaml:"opening_guidance" validate:"required"`
	FollowupGuidance string `yaml:"followup_guidance" validate:"required"`
	AnalysisGuidance string `yaml:"analysis_guidance" validate:"required"`

	// ClosingMessage ends a round that hit MaxQuestions; EarlyEndMessage ends
	// one the generator stopped before the ceiling.
	ClosingMessage  string `yaml:"closing_message" validate:"required"`
	EarlyEndMessage string `yaml:"early_end_message" validate:"required"`

	// SingleQuestion trims generated text down to its first question.
	SingleQuestion bool `yaml:"single_question"`

	CoreTopics *CoreTopicRule `yaml:"core_topics,omitempty"`
}

// CoreTopicRule requires a minimum number of questions drawn round-robin from
// a fixed topic list.
type CoreTopicRule struct {
	Topics       []string `yaml:"topics" validate:"min=1,dive,required"`
	MinQuestions int      `yaml:"min_questions" validate:"gt=0"`
	// ForcedQuestionNumbers are 1-based question numbers that always draw the
	// next core topic while the minimum is unmet.
	ForcedQuestionNumbers []int `yaml:"forced_question_numbers" validate:"dive,gt=1"`
}

// Forces reports whether question number qnum must be drawn from the topic
// list given the counter so far and the questions remaining.
func (c *CoreTopicRule) Forces(qnum, asked, remaining int) bool {
	need := c.Remaining(asked)
	if need == 0 {
		return false
	}
	return slices.Contains(c.ForcedQuestionNumbers, qnum) || remaining <= need
}

// Remaining is the number of core-topic questions still required.
func (c *CoreTopicRule) Remaining(asked int) int {
	return max(0, c.MinQuestions-asked)
}

// Topic returns the round-robin topic for the next forced question.
func (c *CoreTopicRule) Topic(asked int) string {
	return c.Topics[asked%len(c.Topics)]
}

// Policies holds one policy per round.
type Policies map[Round]Policy

// Get returns the policy for r.
func (p Policies) Get(r Round) (Policy, error) {
	pol, ok := p[r]
	if !ok {
		return Policy{}, Errorf(KindInvalidInput, "no policy for round %q", r)
	}
	return pol, nil
}

type policyFile struct {
	Rounds []Policy `yaml:"rounds"`
}

// DefaultPolicies returns the embedded round policies.
func DefaultPolicies() (Policies, error) {
	return ParsePolicies(defaultPolicies)
}

// LoadPolicies reads policies from path, or the embedded defaults when path
// is empty.
func LoadPolicies(path string) (Policies, error) {
	if path == "" {
		return DefaultPolicies()
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("interview: read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies decodes and validates a policy document. Every round in Order
// must be present exactly once.
func ParsePolicies(data []byte) (Policies, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("interview: parse policies: %w", err)
	}
	out := make(Policies, len(f.Rounds))
	for _, p := range f.Rounds {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("interview: policy %q: %w", p.Round, err)
		}
		if p.CoreTopics != nil && p.CoreTopics.MinQuestions >= p.MaxQuestions {
			return nil, fmt.Errorf("interview: policy %q: core topic minimum %d must be below max_questions %d",
				p.Round, p.CoreTopics.MinQuestions, p.MaxQuestions)
		}
		if _, dup := out[p.Round]; dup {
			return nil, fmt.Errorf("interview: policy %q defined twice", p.Round)
		}
		out[p.Round] = p
	}
	for _, r := range Order {
		if _, ok := out[r]; !ok {
			return nil, fmt.Errorf("interview: policy for round %q missing", r)
		}
	}
	return out, nil
}
