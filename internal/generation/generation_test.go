package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	NextQuestion string `json:"next_question"`
	ShouldEnd    bool   `json:"should_end"`
	Action       string `json:"action"`
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestOpenAI(t *testing.T) {
	var lastBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		lastBody = nil
		if err := json.NewDecoder(r.Body).Decode(&lastBody); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		content := "What is a goroutine?"
		if _, ok := lastBody["response_format"]; ok {
			content = `{"next_question":"Explain channels.","should_end":false,"action":"increase"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse(content))
	}))
	defer server.Close()

	g := NewOpenAI("test-key", "test-model", server.URL+"/v1/")

	t.Run("text", func(t *testing.T) {
		out, err := g.Text(context.Background(), "ask something")
		require.NoError(t, err)
		assert.Equal(t, "What is a goroutine?", out)
		assert.Equal(t, "test-model", lastBody["model"])
	})

	t.Run("structured", func(t *testing.T) {
		var d decision
		require.NoError(t, g.Structured(context.Background(), "difficulty_decision", "decide", &d))
		assert.Equal(t, decision{NextQuestion: "Explain channels.", Action: "increase"}, d)

		rf, ok := lastBody["response_format"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "json_schema", rf["type"])
		js, ok := rf["json_schema"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "difficulty_decision", js["name"])
		assert.Equal(t, true, js["strict"])
	})
}

func TestOpenAIServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	g := NewOpenAI("bad", "m", server.URL+"/v1/")
	_, err := g.Text(context.Background(), "x")
	assert.Error(t, err)
}

func TestSchemaFor(t *testing.T) {
	s := SchemaFor(&decision{})
	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, false, doc["additionalProperties"])
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "next_question")
	assert.Contains(t, props, "should_end")
	assert.ElementsMatch(t, []any{"next_question", "should_end", "action"}, doc["required"])

	assert.Same(t, s, SchemaFor(&decision{}), "schemas are cached per type")
}

func TestDecodeJSONStripsFence(t *testing.T) {
	var d decision
	require.NoError(t, decodeJSON("```json\n{\"action\":\"keep\"}\n```", &d))
	assert.Equal(t, "keep", d.Action)
	assert.Error(t, decodeJSON("not json", &d))
}

func TestScripted(t *testing.T) {
	ctx := context.Background()
	s := NewScripted("")
	s.QueueText("first").QueueTextError(errors.New("boom"))
	s.QueueJSON("decision", `{"next_question":"q2","should_end":false,"action":"keep"}`)
	s.Default("decision", json.RawMessage(`{"next_question":"","should_end":true,"action":"end"}`))

	out, err := s.Text(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "first", out)
	_, err = s.Text(ctx, "p2")
	assert.EqualError(t, err, "boom")
	_, err = s.Text(ctx, "p3")
	assert.Error(t, err, "drained without fallback")

	var d decision
	require.NoError(t, s.Structured(ctx, "decision", "p4", &d))
	assert.Equal(t, "q2", d.NextQuestion)
	require.NoError(t, s.Structured(ctx, "decision", "p5", &d))
	assert.True(t, d.ShouldEnd)

	assert.Error(t, s.Structured(ctx, "unknown", "p6", &d))
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5", "p6"}, s.Prompts())

	fb := NewScripted("Tell me about yourself.")
	out, err = fb.Text(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "Tell me about yourself.", out)
}

type slowGenerator struct{}

func (slowGenerator) Text(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (slowGenerator) Structured(ctx context.Context, _, _ string, _ any) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestInstrumented(t *testing.T) {
	ctx := context.Background()

	t.Run("success passes through", func(t *testing.T) {
		g := Instrument(NewScripted("hello"), "scripted", time.Second, discard())
		out, err := g.Text(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("failures wrap ErrUnavailable", func(t *testing.T) {
		cause := errors.New("rate limited")
		g := Instrument(NewScripted("").QueueTextError(cause), "scripted", time.Second, discard())
		_, err := g.Text(ctx, "x")
		require.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("empty text is a failure", func(t *testing.T) {
		g := Instrument(NewScripted("").QueueText(""), "scripted", time.Second, discard())
		_, err := g.Text(ctx, "x")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		g := Instrument(slowGenerator{}, "slow", 20*time.Millisecond, discard())
		err := g.Structured(ctx, "decision", "x", &decision{})
		require.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("malformed structured reply", func(t *testing.T) {
		g := Instrument(NewScripted("").QueueJSON("decision", "{"), "scripted", time.Second, discard())
		assert.ErrorIs(t, g.Structured(ctx, "decision", "x", &decision{}), ErrUnavailable)
	})
}
