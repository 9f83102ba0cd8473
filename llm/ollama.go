package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sahilkv/acpbridge/errors"
	"github.com/sahilkv/acpbridge/wire"
)

// DefaultOllamaHost is the local Ollama endpoint.
const DefaultOllamaHost = "http://127.0.0.1:11434"

// Ollama streams chat completions from an Ollama-compatible endpoint. The
// chunked response body is reframed with the same newline discipline as
// the protocol pipe; the backend is treated as lossy, so fragments that
// fail to parse are skipped rather than failing the call.
type Ollama struct {
	base       string
	httpClient *http.Client
}

// NewOllama creates a client for the given base URL, defaulting to
// DefaultOllamaHost.
func NewOllama(base string) *Ollama {
	if base == "" {
		base = DefaultOllamaHost
	}
	return &Ollama{
		base:       strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaFragment covers the content field shapes the backend may emit.
type ollamaFragment struct {
	Message  *ollamaMessage `json:"message"`
	Response string         `json:"response"`
	Content  string         `json:"content"`
}

// extractContent pulls the content out of one NDJSON fragment, trying the
// chat-message field, then the plain response field, then the generic
// content field. Malformed fragments yield an empty string.
func extractContent(line []byte) string {
	var f ollamaFragment
	if err := json.Unmarshal(line, &f); err != nil {
		return ""
	}
	if f.Message != nil && f.Message.Content != "" {
		return f.Message.Content
	}
	if f.Response != "" {
		return f.Response
	}
	return f.Content
}

// Chat aggregates the full response before returning it.
func (o *Ollama) Chat(ctx context.Context, model, prompt string) (string, error) {
	out, err := o.stream(ctx, model, prompt, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ChatStream pushes fragments to sink as they arrive and returns the
// aggregate.
func (o *Ollama) ChatStream(ctx context.Context, model, prompt string, sink func(chunk string)) (string, error) {
	return o.stream(ctx, model, prompt, sink)
}

func (o *Ollama) stream(ctx context.Context, model, prompt string, sink func(chunk string)) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrapf(err, "failed to build chat request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "chat request to %s failed", o.base)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", errors.New("chat request to %s failed with status %s", o.base, resp.Status)
	}

	lr := wire.NewLineReader(resp.Body)
	var out strings.Builder
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out.String(), errors.Wrapf(err, "chat stream interrupted")
		}
		content := extractContent(line)
		if content == "" {
			continue
		}
		out.WriteString(content)
		if sink != nil {
			sink(content)
		}
	}
	return out.String(), nil
}
