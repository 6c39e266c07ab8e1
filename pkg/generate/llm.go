// Package generate holds the LLM-backed collaborators that plug into the
// pipeline seams: spec drafting and review, candidate program generation,
// program execution and dataset validation.
package generate

import (
	"context"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vikasgaddu1/sdtmforge/pkg/config"
	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	"github.com/vikasgaddu1/sdtmforge/pkg/logging"
)

// Completer is the single-turn completion surface the generators need.
// Tests substitute a scripted implementation.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AnthropicCompleter implements Completer against the Anthropic Messages API.
type AnthropicCompleter struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewAnthropicCompleter builds a completer from the generator config. The
// API key falls back to ANTHROPIC_API_KEY when not configured.
func NewAnthropicCompleter(cfg config.GeneratorConfig) (*AnthropicCompleter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New(errors.InvalidInput, "anthropic api key is not configured")
	}

	model := anthropic.Model(cfg.ModelID)
	if cfg.ModelID == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &AnthropicCompleter{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends one user message and returns the text of the response.
func (a *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: a.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
	})
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.GenerationFailed, "completion request failed"),
			errors.Fields{"model": string(a.model)},
		)
	}
	if message == nil || len(message.Content) == 0 {
		return "", errors.New(errors.GenerationFailed, "received empty completion")
	}

	var text string
	if block := message.Content[0]; block.Type == "text" {
		text = block.Text
	}
	if text == "" {
		return "", errors.New(errors.GenerationFailed, "completion contained no text block")
	}

	logging.GetLogger().Debug(ctx, "completion: %d prompt tokens, %d output tokens",
		message.Usage.InputTokens, message.Usage.OutputTokens)
	return text, nil
}

// stripFences removes a surrounding markdown code fence, if present, so
// fenced completions land on disk as plain source.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		return strings.Join(lines[1:len(lines)-1], "\n") + "\n"
	}
	return s
}
