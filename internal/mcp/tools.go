package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mensetsu/internal/interview"
)

var roundNames = []string{
	string(interview.RoundCoding),
	string(interview.RoundTechnical),
	string(interview.RoundManager),
	string(interview.RoundHR),
}

func roundArg() mcplib.ToolOption {
	return mcplib.WithString("round",
		mcplib.Description("Interview round. Rounds must be completed in order: coding, technical, manager, hr."),
		mcplib.Enum(roundNames...),
		mcplib.Required(),
	)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("mensetsu_start_round",
			mcplib.WithDescription(`Start an interview round and get its first question.

WHEN TO USE: when the candidate is ready to begin the next round. Check
mensetsu_flow_status first if unsure which round is next.

Relay the returned question to the candidate exactly as written.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			roundArg(),
		),
		s.handleStartRound,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("mensetsu_submit_answer",
			mcplib.WithDescription(`Submit the candidate's answer to the pending question.

Returns either the next question (should_end=false) or the end of the round
(should_end=true) with a closing message and a scored analysis.

Pass the candidate's words unchanged. Do not summarize or improve them.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			roundArg(),
			mcplib.WithString("answer",
				mcplib.Description("The candidate's answer, verbatim"),
				mcplib.Required(),
			),
		),
		s.handleSubmitAnswer,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("mensetsu_retry_analysis",
			mcplib.WithDescription(`Retry the final analysis of a round that ended but whose analysis failed.

WHEN TO USE: only after mensetsu_submit_answer returned a retryable
upstream error on the last answer of a round.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			roundArg(),
		),
		s.handleRetryAnalysis,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("mensetsu_flow_status",
			mcplib.WithDescription("Show the status (not_started, in_progress, completed) of every round for the candidate."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleFlowStatus,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("mensetsu_reset_flow",
			mcplib.WithDescription(`Discard all interview progress and return every round to not_started.

Only call this when the candidate explicitly asks to start over.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleResetFlow,
	)
}

func requestRound(request mcplib.CallToolRequest) (interview.Round, *mcplib.CallToolResult) {
	round, err := interview.ParseRound(request.GetString("round", ""))
	if err != nil {
		return "", errorResult(err.Error())
	}
	return round, nil
}

func (s *Server) handleStartRound(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	candidateID, denied := candidateFrom(ctx)
	if denied != nil {
		return denied, nil
	}
	round, bad := requestRound(request)
	if bad != nil {
		return bad, nil
	}
	res, err := s.rounds.Start(ctx, candidateID, round)
	if err != nil {
		return s.serviceErrorResult(ctx, "mensetsu_start_round", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleSubmitAnswer(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	candidateID, denied := candidateFrom(ctx)
	if denied != nil {
		return denied, nil
	}
	round, bad := requestRound(request)
	if bad != nil {
		return bad, nil
	}
	res, err := s.rounds.Answer(ctx, candidateID, round, request.GetString("answer", ""))
	if err != nil {
		return s.serviceErrorResult(ctx, "mensetsu_submit_answer", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleRetryAnalysis(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	candidateID, denied := candidateFrom(ctx)
	if denied != nil {
		return denied, nil
	}
	round, bad := requestRound(request)
	if bad != nil {
		return bad, nil
	}
	res, err := s.rounds.RetryAnalysis(ctx, candidateID, round)
	if err != nil {
		return s.serviceErrorResult(ctx, "mensetsu_retry_analysis", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleFlowStatus(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	candidateID, denied := candidateFrom(ctx)
	if denied != nil {
		return denied, nil
	}
	f, err := s.rounds.FlowStatus(ctx, candidateID)
	if err != nil {
		return s.serviceErrorResult(ctx, "mensetsu_flow_status", err), nil
	}
	return jsonResult(flowView(f))
}

func (s *Server) handleResetFlow(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	candidateID, denied := candidateFrom(ctx)
	if denied != nil {
		return denied, nil
	}
	f, err := s.rounds.ResetFlow(ctx, candidateID)
	if err != nil {
		return s.serviceErrorResult(ctx, "mensetsu_reset_flow", err), nil
	}
	return jsonResult(flowView(f))
}

type roundStatus struct {
	Round  interview.Round  `json:"round"`
	Status interview.Status `json:"status"`
}

// flowView lists rounds in interview order and names the next one to take.
func flowView(f interview.FlowState) map[string]any {
	list := make([]roundStatus, 0, len(interview.Order))
	next := ""
	for _, r := range interview.Order {
		st := f.Status(r)
		list = append(list, roundStatus{Round: r, Status: st})
		if next == "" && st != interview.StatusCompleted {
			next = string(r)
		}
	}
	return map[string]any{"rounds": list, "next_round": next}
}
