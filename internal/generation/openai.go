package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI generates with the Chat Completions API. baseURL makes it usable with
// OpenAI-compatible providers.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI generator.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Text implements Generator.
func (g *OpenAI) Text(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	})
	if err != nil {
		return "", fmt.Errorf("generation: openai: %w", err)
	}
	return firstChoice(resp)
}

// Structured implements Generator using a strict JSON schema response format.
func (g *OpenAI) Structured(ctx context.Context, name, prompt string, out any) error {
	schema := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   name,
		Schema: SchemaFor(out),
		Strict: openai.Bool(true),
	}
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schema},
		},
	})
	if err != nil {
		return fmt.Errorf("generation: openai: %w", err)
	}
	reply, err := firstChoice(resp)
	if err != nil {
		return err
	}
	if err := decodeJSON(reply, out); err != nil {
		return fmt.Errorf("generation: openai: %w", err)
	}
	return nil
}

func firstChoice(resp *openai.ChatCompletion) (string, error) {
	if len(resp.Choices) == 0 {
		return "", errors.New("generation: openai: no choices returned")
	}
	c := resp.Choices[0]
	if c.Message.Refusal != "" {
		return "", fmt.Errorf("generation: openai: refused: %s", c.Message.Refusal)
	}
	return c.Message.Content, nil
}
