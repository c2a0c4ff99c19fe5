package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mensetsu/internal/ctxutil"
	"github.com/ashita-ai/mensetsu/internal/interview"
)

const (
	uriPolicies    = "mensetsu://rounds/policies"
	uriFlowCurrent = "mensetsu://flow/current"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriPolicies,
			"Round Policies",
			mcplib.WithResourceDescription("Question limits, score scales, and required core topics of every round"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePolicies,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriFlowCurrent,
			"Current Flow",
			mcplib.WithResourceDescription("Round statuses for the authenticated candidate"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleFlowCurrent,
	)
}

type policySummary struct {
	Round        interview.Round `json:"round"`
	MaxQuestions int             `json:"max_questions"`
	ScoreScale   int             `json:"score_scale"`
	CoreTopics   []string        `json:"core_topics,omitempty"`
	MinCore      int             `json:"min_core_topic_questions,omitempty"`
}

func (s *Server) handlePolicies(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	out := make([]policySummary, 0, len(interview.Order))
	for _, r := range interview.Order {
		p, err := s.policies.Get(r)
		if err != nil {
			return nil, fmt.Errorf("mcp: policies: %w", err)
		}
		sum := policySummary{Round: r, MaxQuestions: p.MaxQuestions, ScoreScale: p.ScoreScale}
		if p.CoreTopics != nil {
			sum.CoreTopics = p.CoreTopics.Topics
			sum.MinCore = p.CoreTopics.MinQuestions
		}
		out = append(out, sum)
	}
	return textResource(uriPolicies, out)
}

func (s *Server) handleFlowCurrent(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	candidateID := ctxutil.CandidateID(ctx)
	if candidateID == "" {
		return nil, fmt.Errorf("mcp: flow: no candidate identity")
	}
	f, err := s.rounds.FlowStatus(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("mcp: flow: %w", err)
	}
	return textResource(uriFlowCurrent, flowView(f))
}

func textResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
