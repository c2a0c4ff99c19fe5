package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "fast")
	_, err := envFloat("TEST_FLOAT_BAD", 1)
	if err == nil {
		t.Fatal("expected error for invalid number, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="fast" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("MENSETSU_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid MENSETSU_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "MENSETSU_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention MENSETSU_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("MENSETSU_PORT", "abc")
	t.Setenv("MENSETSU_ROUND_TTL", "two hours")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	for _, want := range []string{"MENSETSU_PORT", "MENSETSU_ROUND_TTL"} {
		if !strings.Contains(got, want) {
			t.Fatalf("error should mention %s, got: %s", want, got)
		}
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Backend != BackendMemory {
		t.Fatalf("expected memory backend by default, got %q", cfg.Backend)
	}
	if cfg.RoundTTL != 2*time.Hour || cfg.FlowTTL != 24*time.Hour {
		t.Fatalf("unexpected TTL defaults: round=%s flow=%s", cfg.RoundTTL, cfg.FlowTTL)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"postgres without url": {func(c *Config) { c.Backend = BackendPostgres }, "DATABASE_URL"},
		"unknown backend":      {func(c *Config) { c.Backend = "redis" }, "MENSETSU_STATE_BACKEND"},
		"openai without key":   {func(c *Config) { c.GenerationProvider = ProviderOpenAI }, "OPENAI_API_KEY"},
		"gemini without project": {func(c *Config) {
			c.GenerationProvider = ProviderGemini
			c.GeminiProject = ""
		}, "GOOGLE_CLOUD_PROJECT"},
		"half a key pair":   {func(c *Config) { c.JWTPrivateKeyPath = "/tmp/key.pem" }, "must be set together"},
		"zero round ttl":    {func(c *Config) { c.RoundTTL = 0 }, "MENSETSU_ROUND_TTL"},
		"negative burst":    {func(c *Config) { c.RateLimitBurst = -1 }, "rate limit"},
		"port out of range": {func(c *Config) { c.Port = 70000 }, "MENSETSU_PORT"},
		"write timeout below answer budget": {func(c *Config) {
			c.WriteTimeout = c.AnswerBudget() - time.Second
		}, "MENSETSU_WRITE_TIMEOUT"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestWriteTimeoutCoversSlowestAnswer(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	// 2x60s lock waits + 3x30s generation calls.
	if got := cfg.AnswerBudget(); got != 210*time.Second {
		t.Fatalf("expected answer budget 3m30s, got %s", got)
	}
	if cfg.WriteTimeout != cfg.AnswerBudget()+writeTimeoutMargin {
		t.Fatalf("expected write timeout derived from the answer budget, got %s", cfg.WriteTimeout)
	}

	t.Setenv("MENSETSU_LOCK_TIMEOUT", "5s")
	t.Setenv("MENSETSU_GENERATION_TIMEOUT", "10s")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WriteTimeout != 50*time.Second {
		t.Fatalf("expected 50s write timeout, got %s", cfg.WriteTimeout)
	}

	t.Setenv("MENSETSU_WRITE_TIMEOUT", "30s")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "MENSETSU_WRITE_TIMEOUT") {
		t.Fatalf("expected a write timeout below the answer budget to be rejected, got %v", err)
	}
}
