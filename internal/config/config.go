// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backends for the durable state tier.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Generation providers.
const (
	ProviderAuto     = "auto"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderScripted = "scripted"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// State storage. Backend selects the durable tier; the in-process
	// fallback tier is always present.
	Backend           string
	DatabaseURL       string
	DatabaseMaxConns  int
	SQLitePath        string
	AutoMigrate       bool
	RoundTTL          time.Duration
	FlowTTL           time.Duration
	LocalCacheEntries int
	LockTimeout       time.Duration
	SweepInterval     time.Duration
	IdempotencyTTL    time.Duration

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Generation provider settings.
	GenerationProvider string
	GenerationTimeout  time.Duration
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	GeminiProject      string
	GeminiLocation     string
	GeminiModel        string

	// PolicyFile overrides the built-in round policies.
	PolicyFile string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	RateLimitRPS        float64
	RateLimitBurst      int
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not only the first.
func Load() (Config, error) {
	var errs []error
	str := envStr
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	flt := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = append(errs, err)
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		Port:                num("MENSETSU_PORT", 8080),
		ReadTimeout:         dur("MENSETSU_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        dur("MENSETSU_WRITE_TIMEOUT", 0),
		ShutdownTimeout:     dur("MENSETSU_SHUTDOWN_TIMEOUT", 15*time.Second),
		Backend:             strings.ToLower(str("MENSETSU_STATE_BACKEND", BackendMemory)),
		DatabaseURL:         str("DATABASE_URL", ""),
		DatabaseMaxConns:    num("MENSETSU_DATABASE_MAX_CONNS", 20),
		SQLitePath:          str("MENSETSU_SQLITE_PATH", "mensetsu.db"),
		AutoMigrate:         flag("MENSETSU_AUTO_MIGRATE", true),
		RoundTTL:            dur("MENSETSU_ROUND_TTL", 2*time.Hour),
		FlowTTL:             dur("MENSETSU_FLOW_TTL", 24*time.Hour),
		LocalCacheEntries:   num("MENSETSU_LOCAL_CACHE_ENTRIES", 10000),
		LockTimeout:         dur("MENSETSU_LOCK_TIMEOUT", 60*time.Second),
		SweepInterval:       dur("MENSETSU_SWEEP_INTERVAL", 5*time.Minute),
		IdempotencyTTL:      dur("MENSETSU_IDEMPOTENCY_TTL", 24*time.Hour),
		JWTPrivateKeyPath:   str("MENSETSU_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    str("MENSETSU_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       dur("MENSETSU_JWT_EXPIRATION", 24*time.Hour),
		GenerationProvider:  strings.ToLower(str("MENSETSU_GENERATION_PROVIDER", ProviderAuto)),
		GenerationTimeout:   dur("MENSETSU_GENERATION_TIMEOUT", 30*time.Second),
		OpenAIAPIKey:        str("OPENAI_API_KEY", ""),
		OpenAIModel:         str("MENSETSU_OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:       str("OPENAI_BASE_URL", ""),
		GeminiProject:       str("GOOGLE_CLOUD_PROJECT", ""),
		GeminiLocation:      str("GOOGLE_CLOUD_LOCATION", "us-central1"),
		GeminiModel:         str("MENSETSU_GEMINI_MODEL", "gemini-2.5-flash"),
		PolicyFile:          str("MENSETSU_POLICY_FILE", ""),
		OTELEndpoint:        str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        flag("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         str("OTEL_SERVICE_NAME", "mensetsu"),
		LogLevel:            str("MENSETSU_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(num("MENSETSU_MAX_REQUEST_BODY_BYTES", 256*1024)),
		RateLimitRPS:        flt("MENSETSU_RATE_LIMIT_RPS", 2),
		RateLimitBurst:      num("MENSETSU_RATE_LIMIT_BURST", 10),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = cfg.AnswerBudget() + writeTimeoutMargin
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// writeTimeoutMargin covers storage round trips and response encoding on
// top of AnswerBudget.
const writeTimeoutMargin = 10 * time.Second

// AnswerBudget is the longest an answer can legitimately take: a wait on the
// round lock and one on the flow lock, two question generation calls, and
// the final analysis. WriteTimeout defaults to this plus a margin and may not
// be set below it, or a committed answer could be cut off before its reply.
func (c Config) AnswerBudget() time.Duration {
	return 2*c.LockTimeout + 3*c.GenerationTimeout
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("MENSETSU_STATE_BACKEND=%q must be memory, postgres, or sqlite", c.Backend))
	}
	if c.Backend == BackendSQLite && c.SQLitePath == "" {
		errs = append(errs, errors.New("MENSETSU_SQLITE_PATH is required for the sqlite backend"))
	}
	switch c.GenerationProvider {
	case ProviderAuto, ProviderScripted:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case ProviderGemini:
		if c.GeminiProject == "" {
			errs = append(errs, errors.New("GOOGLE_CLOUD_PROJECT is required for the gemini provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("MENSETSU_GENERATION_PROVIDER=%q is not a known provider", c.GenerationProvider))
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		errs = append(errs, errors.New("MENSETSU_JWT_PRIVATE_KEY and MENSETSU_JWT_PUBLIC_KEY must be set together"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("MENSETSU_PORT=%d is out of range", c.Port))
	}
	for name, d := range map[string]time.Duration{
		"MENSETSU_ROUND_TTL":          c.RoundTTL,
		"MENSETSU_FLOW_TTL":           c.FlowTTL,
		"MENSETSU_LOCK_TIMEOUT":       c.LockTimeout,
		"MENSETSU_GENERATION_TIMEOUT": c.GenerationTimeout,
		"MENSETSU_JWT_EXPIRATION":     c.JWTExpiration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.LockTimeout > 0 && c.GenerationTimeout > 0 && c.WriteTimeout < c.AnswerBudget() {
		errs = append(errs, fmt.Errorf("MENSETSU_WRITE_TIMEOUT=%s is shorter than the slowest answer (%s)",
			c.WriteTimeout, c.AnswerBudget()))
	}
	if c.LocalCacheEntries <= 0 {
		errs = append(errs, errors.New("MENSETSU_LOCAL_CACHE_ENTRIES must be positive"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("MENSETSU_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
