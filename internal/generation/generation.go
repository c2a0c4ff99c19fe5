// Package generation is the external question-generation capability.
//
// Defines a Generator interface with OpenAI, Vertex AI Gemini, and scripted
// implementations. Consumers depend only on the interface so providers can be
// swapped by configuration.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// ErrUnavailable marks a failed or malformed generation call. Callers treat
// it as retryable.
var ErrUnavailable = errors.New("generation: unavailable")

// Generator produces free text and schema-constrained JSON.
type Generator interface {
	// Text returns the model's free-text reply to prompt.
	Text(ctx context.Context, prompt string) (string, error)

	// Structured asks for a JSON object matching the schema of out (a pointer
	// to a struct) and decodes the reply into it. name identifies the schema.
	Structured(ctx context.Context, name, prompt string, out any) error
}

var schemaCache sync.Map // reflect.Type -> *jsonschema.Schema

// SchemaFor returns the JSON schema of the struct out points to. Schemas are
// inlined and closed to extra properties, the shape strict structured-output
// modes require.
func SchemaFor(out any) *jsonschema.Schema {
	t := reflect.TypeOf(out)
	if s, ok := schemaCache.Load(t); ok {
		return s.(*jsonschema.Schema)
	}
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := r.Reflect(out)
	schemaCache.Store(t, s)
	return s
}

// decodeJSON unmarshals a model reply into out, tolerating a surrounding
// markdown code fence.
func decodeJSON(reply string, out any) error {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "```") {
		reply = strings.TrimPrefix(reply, "```json")
		reply = strings.TrimPrefix(reply, "```")
		reply = strings.TrimSuffix(strings.TrimSpace(reply), "```")
	}
	if err := json.Unmarshal([]byte(reply), out); err != nil {
		return fmt.Errorf("decode structured reply: %w", err)
	}
	return nil
}
