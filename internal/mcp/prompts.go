package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mensetsu/internal/interview"
)

func (s *Server) registerPrompts() {
	// conduct-round walks the assistant through running one round end to end.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("conduct-round",
			mcplib.WithPromptDescription("Run one mock interview round with the candidate"),
			mcplib.WithArgument("round",
				mcplib.ArgumentDescription("coding, technical, manager, or hr"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleConductRoundPrompt,
	)
}

func (s *Server) handleConductRoundPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	round, err := interview.ParseRound(request.Params.Arguments["round"])
	if err != nil {
		return nil, fmt.Errorf("mcp: conduct-round: %w", err)
	}
	p, err := s.policies.Get(round)
	if err != nil {
		return nil, fmt.Errorf("mcp: conduct-round: %w", err)
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Conduct the %s round", round),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`You are hosting the %[1]s round of a mock interview (at most %[2]d questions, scored out of %[3]d).

1. CALL mensetsu_start_round with round="%[1]s" and show the candidate the question exactly as returned.

2. WAIT for the candidate's reply, then CALL mensetsu_submit_answer with round="%[1]s" and their words unchanged.

3. REPEAT step 2 while should_end is false, showing each new question.

4. WHEN should_end is true, show the closing message, then present the analysis:
   score, strengths, weaknesses, focus areas, and tips.

If a tool reports a retryable error, call it again with the same arguments.
If it reports ordering_violation, call mensetsu_flow_status and start the next_round instead.`,
						round, p.MaxQuestions, p.ScoreScale),
				},
			},
		},
	}, nil
}
