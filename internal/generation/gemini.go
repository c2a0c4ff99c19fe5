package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// Gemini generates with Vertex AI. Structured calls use a second model
// configured for JSON output, with the schema carried in the prompt.
type Gemini struct {
	client    *genai.Client
	textModel *genai.GenerativeModel
	jsonModel *genai.GenerativeModel
}

// NewGemini creates a Vertex AI client for projectID in location.
func NewGemini(ctx context.Context, projectID, location, model string) (*Gemini, error) {
	if projectID == "" {
		return nil, errors.New("generation: gemini: project id is required")
	}
	if location == "" {
		location = "us-central1"
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, fmt.Errorf("generation: gemini: create client: %w", err)
	}

	text := client.GenerativeModel(model)
	text.SetTemperature(0.7)
	text.SetMaxOutputTokens(1024)

	js := client.GenerativeModel(model)
	js.SetTemperature(0.2)
	js.SetMaxOutputTokens(2048)
	js.ResponseMIMEType = "application/json"

	return &Gemini{client: client, textModel: text, jsonModel: js}, nil
}

// Text implements Generator.
func (g *Gemini) Text(ctx context.Context, prompt string) (string, error) {
	reply, err := generate(ctx, g.textModel, prompt)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Structured implements Generator.
func (g *Gemini) Structured(ctx context.Context, name, prompt string, out any) error {
	schema, err := json.Marshal(SchemaFor(out))
	if err != nil {
		return fmt.Errorf("generation: gemini: marshal %s schema: %w", name, err)
	}
	full := prompt + "\n\nRespond with a single JSON object matching this JSON schema:\n" + string(schema)
	reply, err := generate(ctx, g.jsonModel, full)
	if err != nil {
		return err
	}
	if err := decodeJSON(reply, out); err != nil {
		return fmt.Errorf("generation: gemini: %w", err)
	}
	return nil
}

// Close releases the Vertex AI client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generation: gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("generation: gemini: no response candidates returned")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}
