// Package analysis produces the scored final evaluation of a finished round.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashita-ai/mensetsu/internal/generation"
	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/prompts"
)

// SchemaName names the structured analysis requested from the generator.
const SchemaName = "final_analysis"

// Reply is the structured shape the generator returns.
type Reply struct {
	Narrative  string   `json:"narrative" jsonschema:"description=Overall assessment of the candidate's performance"`
	Tips       string   `json:"tips" jsonschema:"description=Concrete advice for improving"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
	FocusAreas []string `json:"focus_areas"`
	Score      int      `json:"score" jsonschema:"minimum=0"`
}

// Generator produces FinalAnalysis values.
type Generator struct {
	gen generation.Generator
}

// New creates a Generator.
func New(gen generation.Generator) *Generator {
	return &Generator{gen: gen}
}

// Analyze evaluates the full ledger of a round. A failed or out-of-range
// reply returns a retryable KindUpstreamUnavailable error.
func (g *Generator) Analyze(ctx context.Context, p interview.Policy, profile json.RawMessage, ledger []interview.QAPair) (interview.FinalAnalysis, error) {
	var r Reply
	if err := g.gen.Structured(ctx, SchemaName, prompts.Analysis(p, profile, ledger), &r); err != nil {
		return interview.FinalAnalysis{}, interview.Wrap(interview.KindUpstreamUnavailable, "analysis generation failed", err)
	}

	a := interview.FinalAnalysis{
		Narrative:  strings.TrimSpace(r.Narrative),
		Tips:       strings.TrimSpace(r.Tips),
		Strengths:  compact(r.Strengths),
		Weaknesses: compact(r.Weaknesses),
		FocusAreas: compact(r.FocusAreas),
		Score:      r.Score,
	}
	if err := interview.ValidateStruct(a); err != nil {
		return interview.FinalAnalysis{}, interview.Wrap(interview.KindUpstreamUnavailable, "malformed analysis", err)
	}
	if a.Score > p.ScoreScale {
		return interview.FinalAnalysis{}, interview.Wrap(interview.KindUpstreamUnavailable, "malformed analysis",
			fmt.Errorf("score %d outside 0..%d", a.Score, p.ScoreScale))
	}
	return a, nil
}

// compact trims entries and drops blanks. The result is never nil so it
// serializes as an empty list.
func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
