package agent

import (
	"context"
	"encoding/json"
	"log"

	"github.com/sahilkv/acpbridge/llm"
	"github.com/sahilkv/acpbridge/session"
)

// ChatAgent serves plain conversation sessions: every prompt goes to the
// model verbatim and the aggregated reply comes back as one response event,
// with optional per-chunk streaming along the way.
type ChatAgent struct {
	core
	llm llm.Client
}

// NewChatAgent creates a ChatAgent persisting under store, with defaults
// applied to sessions created without an explicit model or workspace.
func NewChatAgent(client llm.Client, store *session.Store, model, workspace string) *ChatAgent {
	if model == "" {
		model = session.DefaultModel
	}
	return &ChatAgent{
		core: core{store: store, model: model, workspace: workspace},
		llm:  client,
	}
}

type promptPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text"`
	Stream    bool   `json:"stream,omitempty"`
}

// HandleCommand implements Handler.
func (a *ChatAgent) HandleCommand(ctx context.Context, cmd Command, out *Emitter) {
	switch cmd.Type {
	case "initialize":
		a.initialize(out)
	case "new_session":
		a.newSession(cmd.Payload, out)
	case "prompt":
		a.prompt(ctx, cmd.Payload, out)
	case "set_model":
		a.setModel(cmd.Payload, out)
	case "set_workspace":
		a.setWorkspace(cmd.Payload, out)
	default:
		out.Error("unknown_message_type: " + cmd.Type)
	}
}

func (a *ChatAgent) prompt(ctx context.Context, payload json.RawMessage, out *Emitter) {
	var p promptPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Text == "" {
		out.Error("invalid prompt payload")
		return
	}
	s := a.resolveSession(p.SessionID, out)
	if s == nil {
		return
	}

	s.Append("user", p.Text)

	var reply string
	var err error
	if p.Stream {
		reply, err = a.llm.ChatStream(ctx, s.Model, p.Text, func(chunk string) {
			out.Emit("stream_chunk", map[string]any{"sessionId": s.ID, "chunk": chunk})
		})
	} else {
		reply, err = a.llm.Chat(ctx, s.Model, p.Text)
	}
	if err != nil {
		out.Error(err.Error())
		return
	}

	s.Append("assistant", reply)
	if err := a.store.Save(s); err != nil {
		log.Printf("agent: failed to persist session %s: %v", s.ID, err)
	}
	out.Emit("response", map[string]any{"sessionId": s.ID, "text": reply})
}
