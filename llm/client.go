// Package llm brokers prompts to a streaming language-model backend. The
// default backend is a local Ollama endpoint speaking newline-delimited
// JSON; OpenAI and Anthropic are available behind the same interface.
package llm

import (
	"context"
	"strings"

	"github.com/sahilkv/acpbridge/errors"
)

// Client is the interface for a chat inference backend.
type Client interface {
	// Chat sends one prompt and returns the aggregated response text,
	// trimmed of surrounding whitespace.
	Chat(ctx context.Context, model, prompt string) (string, error)

	// ChatStream sends one prompt, pushing each content fragment to sink
	// in arrival order, and returns the aggregated text.
	ChatStream(ctx context.Context, model, prompt string, sink func(chunk string)) (string, error)
}

// New constructs a Client for the named provider. An empty provider
// selects Ollama at ollamaHost.
func New(ctx context.Context, provider, ollamaHost string) (Client, error) {
	switch provider {
	case "", "ollama":
		return NewOllama(ollamaHost), nil
	case "openai":
		return NewOpenAI(ctx)
	case "anthropic":
		return NewAnthropic(ctx)
	default:
		return nil, errors.New("unknown llm provider '%s'", provider)
	}
}

// Mock is a scripted client for tests.
type Mock struct {
	Response string
	Chunks   []string
	Err      error
}

func (m *Mock) Chat(ctx context.Context, model, prompt string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Chunks) > 0 {
		return strings.TrimSpace(strings.Join(m.Chunks, "")), nil
	}
	return strings.TrimSpace(m.Response), nil
}

func (m *Mock) ChatStream(ctx context.Context, model, prompt string, sink func(chunk string)) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	chunks := m.Chunks
	if len(chunks) == 0 && m.Response != "" {
		chunks = []string{m.Response}
	}
	var out strings.Builder
	for _, c := range chunks {
		out.WriteString(c)
		if sink != nil {
			sink(c)
		}
	}
	return out.String(), nil
}
