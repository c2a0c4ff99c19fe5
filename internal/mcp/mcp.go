// Package mcp implements the Model Context Protocol server for Mensetsu.
//
// The MCP server exposes the same round operations as the HTTP API, so an
// MCP-capable assistant can conduct a mock interview on a candidate's behalf.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mensetsu/internal/ctxutil"
	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/service/rounds"
)

// Rounds is the interview service the tools delegate to.
type Rounds interface {
	Start(ctx context.Context, candidateID string, round interview.Round) (rounds.StartResult, error)
	Answer(ctx context.Context, candidateID string, round interview.Round, answer string) (rounds.AnswerResult, error)
	RetryAnalysis(ctx context.Context, candidateID string, round interview.Round) (rounds.AnswerResult, error)
	FlowStatus(ctx context.Context, candidateID string) (interview.FlowState, error)
	ResetFlow(ctx context.Context, candidateID string) (interview.FlowState, error)
}

// Server wraps the MCP server with Mensetsu's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	rounds    Rounds
	policies  interview.Policies
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools, resources,
// and prompts.
func New(svc Rounds, policies interview.Policies, logger *slog.Logger, version string) *Server {
	s := &Server{
		rounds:   svc,
		policies: policies,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mensetsu",
		version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithInstructions(`Mensetsu runs adaptive mock interviews in four rounds: coding, technical, manager, hr.
Rounds must be taken in that order. Start a round, relay each question to the candidate verbatim,
and submit their answer unchanged. When a response has should_end=true, present the closing message
and the analysis. Never answer on the candidate's behalf.`),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func candidateFrom(ctx context.Context) (string, *mcplib.CallToolResult) {
	id := ctxutil.CandidateID(ctx)
	if id == "" {
		return "", errorResult("unauthorized: no candidate identity on this connection")
	}
	return id, nil
}

// jsonResult renders v as indented JSON text content.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

// serviceErrorResult reports a failed operation as a tool error so the
// model can react to it. Unclassified errors are logged and reported without
// detail.
func (s *Server) serviceErrorResult(ctx context.Context, op string, err error) *mcplib.CallToolResult {
	var e *interview.Error
	if errors.As(err, &e) {
		msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
		if e.Retryable() {
			msg += " (retryable: call the tool again with the same arguments)"
		}
		return errorResult(msg)
	}
	s.logger.Error("mcp: tool failed", "tool", op, "error", err, "request_id", ctxutil.RequestID(ctx))
	return errorResult(op + " failed: internal error")
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
