package mensetsu

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Callers set it through the With* functions.
type resolvedOptions struct {
	port          int
	databaseURL   string
	backend       string
	logger        *slog.Logger
	version       string
	generator     Generator
	profileSource ProfileSource
}

// WithPort overrides the TCP port from config (MENSETSU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithBackend overrides the durable state tier (MENSETSU_STATE_BACKEND env var):
// "memory", "postgres", or "sqlite".
func WithBackend(backend string) Option {
	return func(o *resolvedOptions) { o.backend = backend }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithGenerator replaces the configured question generator (OpenAI, Gemini,
// or scripted). Calls are still bounded by MENSETSU_GENERATION_TIMEOUT.
func WithGenerator(g Generator) Option {
	return func(o *resolvedOptions) { o.generator = g }
}

// WithProfileSource replaces the table-backed profile store, e.g. with a
// resume-parsing service.
func WithProfileSource(p ProfileSource) Option {
	return func(o *resolvedOptions) { o.profileSource = p }
}
