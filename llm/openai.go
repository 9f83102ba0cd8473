package llm

import (
	"context"
	"os"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/sahilkv/acpbridge/errors"
)

// OpenAI is a Client backed by the OpenAI Chat Completion API. It requires
// OPENAI_API_KEY and honors OPENAI_BASE_URL for custom endpoints.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates an OpenAI client from the environment.
func NewOpenAI(ctx context.Context) (*OpenAI, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	c := openai.NewClient(options...)
	return &OpenAI{client: &c}, nil
}

func (o *OpenAI) params(model, prompt string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
}

// Chat sends a single-turn completion request.
func (o *OpenAI) Chat(ctx context.Context, model, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(model, prompt))
	if err != nil {
		return "", errors.Wrapf(err, "failed to send message to OpenAI")
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ChatStream streams completion deltas to sink and returns the aggregate.
func (o *OpenAI) ChatStream(ctx context.Context, model, prompt string, sink func(chunk string)) (string, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(model, prompt))
	var out strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if sink != nil {
			sink(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return out.String(), errors.Wrapf(err, "OpenAI stream failed")
	}
	return out.String(), nil
}
