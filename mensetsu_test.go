package mensetsu

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mensetsu/internal/analysis"
	"github.com/ashita-ai/mensetsu/internal/config"
	"github.com/ashita-ai/mensetsu/internal/difficulty"
	"github.com/ashita-ai/mensetsu/internal/generation"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewGenerator_AutoSelection(t *testing.T) {
	ctx := context.Background()
	base := config.Config{GenerationProvider: config.ProviderAuto, OpenAIModel: "gpt-4o-mini"}

	gen, name, err := newGenerator(ctx, base, discard())
	require.NoError(t, err)
	assert.Equal(t, config.ProviderScripted, name)
	assert.IsType(t, &generation.Scripted{}, gen)

	withKey := base
	withKey.OpenAIAPIKey = "sk-test"
	gen, name, err = newGenerator(ctx, withKey, discard())
	require.NoError(t, err)
	assert.Equal(t, config.ProviderOpenAI, name)
	assert.IsType(t, &generation.OpenAI{}, gen)
}

func TestScriptedGenerator_DefaultsDecode(t *testing.T) {
	ctx := context.Background()
	gen := newScriptedGenerator()

	q, err := gen.Text(ctx, "opening prompt")
	require.NoError(t, err)
	assert.NotEmpty(t, q)

	var d difficulty.Reply
	require.NoError(t, gen.Structured(ctx, difficulty.SchemaName, "followup prompt", &d))
	assert.False(t, d.ShouldEnd)
	assert.NotEmpty(t, d.NextQuestion)

	var a analysis.Reply
	require.NoError(t, gen.Structured(ctx, analysis.SchemaName, "analysis prompt", &a))
	assert.NotEmpty(t, a.Narrative)
}

func TestOpenBackend_Memory(t *testing.T) {
	b, err := openBackend(context.Background(), config.Config{Backend: config.BackendMemory}, discard())
	require.NoError(t, err)
	assert.Nil(t, b.states)
	assert.Nil(t, b.idempotency)
	assert.Nil(t, b.close)
}

func TestOpenBackend_SQLite(t *testing.T) {
	cfg := config.Config{Backend: config.BackendSQLite, SQLitePath: t.TempDir() + "/state.db"}
	b, err := openBackend(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer b.close()

	require.NotNil(t, b.health)
	require.NoError(t, b.health.Ping(context.Background()))
	require.NoError(t, b.states.Set(context.Background(), "k", []byte(`{"a":1}`), time.Hour))
}

func TestNew_MemoryBackendWithOverrides(t *testing.T) {
	t.Setenv("MENSETSU_STATE_BACKEND", "sqlite")
	t.Setenv("MENSETSU_GENERATION_PROVIDER", "scripted")

	custom := generation.NewScripted("Custom opener?")
	custom.Default(difficulty.SchemaName, json.RawMessage(`{"next_question":"Next?","should_end":false,"action":"keep"}`))

	app, err := New(
		WithBackend(config.BackendMemory),
		WithPort(18089),
		WithLogger(discard()),
		WithVersion("test"),
		WithGenerator(custom),
	)
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, app.cfg.Backend)
	assert.Equal(t, 18089, app.cfg.Port)
	assert.Equal(t, "test", app.version)
	require.NoError(t, app.Shutdown(context.Background()))
}
