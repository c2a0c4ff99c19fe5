package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mensetsu/internal/auth"
	"github.com/ashita-ai/mensetsu/internal/ctxutil"
	"github.com/ashita-ai/mensetsu/internal/ratelimit"
)

// Server is the Mensetsu HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Idempotency, Health, Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Rounds Rounds
	JWTMgr *auth.JWTManager
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Idempotency IdempotencyStore
	Health      HealthChecker
	Limiter     ratelimit.Limiter
	MCPServer   *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	Backend             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Rounds:              cfg.Rounds,
		Idempotency:         cfg.Idempotency,
		Health:              cfg.Health,
		Backend:             cfg.Backend,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	rl := ratelimit.Middleware(cfg.Limiter, candidateKeyFunc, writeRateLimited, cfg.Logger)
	route := func(fn http.HandlerFunc) http.Handler { return rl(fn) }

	mux := http.NewServeMux()

	mux.Handle("POST /v1/rounds/{round}/start", route(h.HandleStartRound))
	mux.Handle("POST /v1/rounds/{round}/answer", route(h.HandleSubmitAnswer))
	mux.Handle("POST /v1/rounds/{round}/analysis", route(h.HandleRetryAnalysis))
	mux.Handle("GET /v1/flow", route(h.HandleFlowStatus))
	mux.Handle("POST /v1/flow/reset", route(h.HandleResetFlow))

	// MCP StreamableHTTP transport. Tool handlers read the same claims the
	// auth middleware put on the request.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer,
			mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
				if claims := ctxutil.ClaimsFromContext(r.Context()); claims != nil {
					ctx = ctxutil.WithClaims(ctx, claims)
				}
				return ctxutil.WithRequestID(ctx, ctxutil.RequestID(r.Context()))
			}),
		)
		mux.Handle("/mcp", rl(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
