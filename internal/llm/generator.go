// Package llm wraps langchaingo models behind the Generator capability used
// by the job runner.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/chyon8/AI-consultant-sub001/internal/config"
)

// FragmentFunc receives each text fragment in emission order. Returning an
// error stops the generation; the error is propagated out of Generate.
type FragmentFunc func(ctx context.Context, fragment string) error

// Generator emits a sequence of text fragments for a prompt and terminates
// with exactly one terminal signal: nil on success, the provider error
// otherwise.
type Generator interface {
	Generate(ctx context.Context, prompt, modelID string, onFragment FragmentFunc) error
}

// Model is a Generator backed by a langchaingo provider.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates the configured provider's model.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
	}, nil
}

// Model returns the configured default model name.
func (m *Model) Model() string {
	return m.modelName
}

// Generate streams a completion for prompt, invoking onFragment for every
// fragment in emission order. modelID overrides the configured model when
// non-empty.
func (m *Model) Generate(ctx context.Context, prompt, modelID string, onFragment FragmentFunc) error {
	opts := []llms.CallOption{
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return onFragment(ctx, string(chunk))
		}),
	}
	if modelID != "" {
		opts = append(opts, llms.WithModel(modelID))
	}

	if _, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt, opts...); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	return nil
}
