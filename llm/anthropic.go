package llm

import (
	"context"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sahilkv/acpbridge/errors"
)

// Anthropic is a Client backed by the Anthropic Messages API. It requires
// the ANTHROPIC_API_KEY environment variable to be set.
type Anthropic struct {
	client *anthropic.Client
}

// NewAnthropic creates an Anthropic client from the environment.
func NewAnthropic(ctx context.Context) (*Anthropic, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &Anthropic{client: &client}, nil
}

func (a *Anthropic) params(model, prompt string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
}

// Chat sends a single-turn message request.
func (a *Anthropic) Chat(ctx context.Context, model, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, a.params(model, prompt))
	if err != nil {
		return "", errors.Wrapf(err, "failed to send message to Anthropic")
	}

	var out strings.Builder
	for _, content := range resp.Content {
		if block, ok := content.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// ChatStream streams text deltas to sink and returns the aggregate.
func (a *Anthropic) ChatStream(ctx context.Context, model, prompt string, sink func(chunk string)) (string, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.params(model, prompt))
	var out strings.Builder
	for stream.Next() {
		event := stream.Current()
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				out.WriteString(delta.Text)
				if sink != nil {
					sink(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return out.String(), errors.Wrapf(err, "Anthropic stream failed")
	}
	return out.String(), nil
}
