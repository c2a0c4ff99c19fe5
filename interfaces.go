package mensetsu

import (
	"context"
	"encoding/json"
)

// Generator produces interview questions and analyses from a prompt.
// When provided via WithGenerator, replaces the configured provider.
type Generator interface {
	// Text returns a free-text reply.
	Text(ctx context.Context, prompt string) (string, error)
	// Structured decodes a JSON reply into out, a pointer to a struct whose
	// schema the reply must follow. name identifies the schema.
	Structured(ctx context.Context, name, prompt string, out any) error
}

// ProfileSource returns a candidate's parsed resume as a JSON document.
// Implementations return an error wrapping ErrProfileNotFound for unknown
// candidates; any other error is treated as a transient upstream failure.
type ProfileSource interface {
	Get(ctx context.Context, candidateID string) (json.RawMessage, error)
}
