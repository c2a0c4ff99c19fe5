// Package mensetsu is the public API for embedding the Mensetsu mock
// interview server.
//
//	app, err := mensetsu.New(
//	    mensetsu.WithVersion(version),
//	    mensetsu.WithLogger(logger),
//	    mensetsu.WithGenerator(myGenerator),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, but internal/* never imports the root.
package mensetsu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/mensetsu/internal/analysis"
	"github.com/ashita-ai/mensetsu/internal/auth"
	"github.com/ashita-ai/mensetsu/internal/config"
	"github.com/ashita-ai/mensetsu/internal/difficulty"
	"github.com/ashita-ai/mensetsu/internal/flow"
	"github.com/ashita-ai/mensetsu/internal/generation"
	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/keylock"
	"github.com/ashita-ai/mensetsu/internal/mcp"
	"github.com/ashita-ai/mensetsu/internal/profile"
	"github.com/ashita-ai/mensetsu/internal/ratelimit"
	"github.com/ashita-ai/mensetsu/internal/server"
	"github.com/ashita-ai/mensetsu/internal/service/rounds"
	"github.com/ashita-ai/mensetsu/internal/session"
	"github.com/ashita-ai/mensetsu/internal/statestore"
	"github.com/ashita-ai/mensetsu/internal/storage"
	"github.com/ashita-ai/mensetsu/internal/storage/sqlitestore"
	"github.com/ashita-ai/mensetsu/internal/telemetry"
	"github.com/ashita-ai/mensetsu/migrations"
)

// ErrProfileNotFound is the error a ProfileSource wraps for unknown candidates.
var ErrProfileNotFound = profile.ErrNotFound

// sweeper deletes expired rows from a durable tier.
type sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// backend is the durable tier selected by configuration. Every field is nil
// for the memory backend.
type backend struct {
	states      statestore.Durable
	profiles    profile.Backend
	locker      keylock.Locker
	health      server.HealthChecker
	idempotency *storage.DB
	sweeper     sweeper
	close       func()
}

// App is the Mensetsu server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	backend      backend
	local        *statestore.LocalCache
	limiter      ratelimit.Limiter
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	closers      []io.Closer
	logger       *slog.Logger
	version      string
}

// New initialises the server. It opens the configured backend, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("mensetsu starting", "version", version, "port", cfg.Port, "backend", cfg.Backend)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{cfg: cfg, otelShutdown: otelShutdown, logger: logger, version: version}
	fail := func(err error) (*App, error) {
		a.release()
		return nil, err
	}

	policies, err := interview.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		return fail(fmt.Errorf("policies: %w", err))
	}

	a.backend, err = openBackend(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}
	if cfg.JWTPrivateKeyPath == "" {
		logger.Warn("jwt: no key pair configured, using an ephemeral key (tokens die with the process)")
	}

	var gen generation.Generator = o.generator
	providerName := "custom"
	if gen == nil {
		gen, providerName, err = newGenerator(ctx, cfg, logger)
		if err != nil {
			return fail(fmt.Errorf("generation: %w", err))
		}
		if c, ok := gen.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
	}
	gen = generation.Instrument(gen, providerName, cfg.GenerationTimeout, logger)

	var profiles profile.Source = o.profileSource
	switch {
	case profiles != nil:
	case a.backend.profiles != nil:
		profiles = profile.NewLoader(a.backend.profiles)
	default:
		profiles = profile.NewMemory()
		logger.Warn("profiles: memory backend holds no profiles until imported in-process")
	}

	a.local = statestore.NewLocalCache(cfg.LocalCacheEntries, cfg.RoundTTL)
	sessions := session.New(statestore.New(a.backend.states, a.local, logger), policies, cfg.RoundTTL, cfg.FlowTTL)
	locker := keylock.NewChain(keylock.NewLocal(), a.backend.locker, cfg.LockTimeout, logger)

	svc := rounds.New(rounds.Deps{
		Policies:   policies,
		Sessions:   sessions,
		Gate:       flow.New(sessions, locker, logger),
		Locker:     locker,
		Profiles:   profiles,
		Controller: difficulty.New(gen, logger),
		Analyzer:   analysis.New(gen),
		Logger:     logger,
	})

	mcpSrv := mcp.New(svc, policies, logger, version)

	if cfg.RateLimitRPS > 0 {
		a.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		a.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srvCfg := server.ServerConfig{
		Rounds:              svc,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Health:              a.backend.health,
		Limiter:             a.limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		Backend:             cfg.Backend,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}
	// A nil *storage.DB must not become a non-nil interface.
	if a.backend.idempotency != nil {
		srvCfg.Idempotency = a.backend.idempotency
	}
	a.srv = server.New(srvCfg)

	return a, nil
}

// Run starts the background loops and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically.
func (a *App) Run(ctx context.Context) error {
	if a.backend.sweeper != nil && a.cfg.SweepInterval > 0 {
		go a.sweepLoop(ctx)
	}
	if a.backend.idempotency != nil {
		go a.idempotencyCleanupLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.release()
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting requests, drains in-flight ones, and releases the
// backend and telemetry exporters.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("mensetsu shutting down")

	httpCtx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	err := a.srv.Shutdown(httpCtx)
	cancel()
	if err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	a.release()
	a.logger.Info("mensetsu stopped")
	return nil
}

func (a *App) release() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.local != nil {
		a.local.Close()
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
	if a.backend.close != nil {
		a.backend.close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
}

func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := a.backend.sweeper.SweepExpired(opCtx)
			cancel()
			if err != nil {
				a.logger.Warn("state sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("state sweep deleted expired rows", "deleted", deleted)
			}
		}
	}
}

func (a *App) idempotencyCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			// An in-progress key older than the write timeout belongs to a
			// request that can no longer complete.
			deleted, err := a.backend.idempotency.CleanupIdempotencyKeys(opCtx, a.cfg.IdempotencyTTL, 2*a.cfg.WriteTimeout)
			cancel()
			if err != nil {
				a.logger.Warn("idempotency cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("idempotency cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns), logger) //nolint:gosec // validated positive in config
		if err != nil {
			return backend{}, fmt.Errorf("storage: %w", err)
		}
		if cfg.AutoMigrate {
			if err := db.RunMigrations(ctx, migrations.FS); err != nil {
				db.Close()
				return backend{}, fmt.Errorf("migrations: %w", err)
			}
		} else {
			logger.Info("embedded migrations skipped by config")
		}
		states := db.States()
		return backend{
			states:      states,
			profiles:    db,
			locker:      db.Locker(),
			health:      db,
			idempotency: db,
			sweeper:     states,
			close:       db.Close,
		}, nil

	case config.BackendSQLite:
		st, err := sqlitestore.Open(ctx, cfg.SQLitePath, migrations.SQLite())
		if err != nil {
			return backend{}, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info("sqlite: opened", "path", cfg.SQLitePath)
		return backend{
			states:   st,
			profiles: st,
			health:   st,
			sweeper:  st,
			close:    func() { _ = st.Close() },
		}, nil

	default:
		logger.Warn("state backend: memory only (sessions do not survive restarts or span instances)")
		return backend{}, nil
	}
}

// newGenerator picks the configured provider. "auto" prefers OpenAI, then
// Gemini, then the scripted fallback.
func newGenerator(ctx context.Context, cfg config.Config, logger *slog.Logger) (generation.Generator, string, error) {
	provider := cfg.GenerationProvider
	if provider == config.ProviderAuto {
		switch {
		case cfg.OpenAIAPIKey != "":
			provider = config.ProviderOpenAI
		case cfg.GeminiProject != "":
			provider = config.ProviderGemini
		default:
			provider = config.ProviderScripted
			logger.Warn("generation: no provider credentials found, using scripted questions")
		}
	}

	switch provider {
	case config.ProviderOpenAI:
		logger.Info("generation provider: openai", "model", cfg.OpenAIModel)
		return generation.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), provider, nil
	case config.ProviderGemini:
		logger.Info("generation provider: gemini", "project", cfg.GeminiProject, "model", cfg.GeminiModel)
		g, err := generation.NewGemini(ctx, cfg.GeminiProject, cfg.GeminiLocation, cfg.GeminiModel)
		if err != nil {
			return nil, "", err
		}
		return g, provider, nil
	default:
		logger.Info("generation provider: scripted")
		return newScriptedGenerator(), config.ProviderScripted, nil
	}
}

// newScriptedGenerator answers every call with fixed content so the full
// flow can be exercised without model credentials.
func newScriptedGenerator() *generation.Scripted {
	s := generation.NewScripted("Walk me through a recent project you are proud of. What was your role, and what would you do differently?")
	s.Default(difficulty.SchemaName, mustJSON(difficulty.Reply{
		NextQuestion: "What was the hardest technical problem in that work, and how did you resolve it?",
		Action:       string(interview.ActionKeep),
	}))
	s.Default(analysis.SchemaName, mustJSON(analysis.Reply{
		Narrative:  "Scripted analysis: configure a generation provider for real feedback.",
		Tips:       "Structure answers as situation, action, and result.",
		Strengths:  []string{},
		Weaknesses: []string{},
		FocusAreas: []string{},
	}))
	return s
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
