// Package agent implements the control channel the front-end drives an
// agent process through: newline-delimited JSON commands on stdin, event
// lines on stdout. Two variants share the loop: a chat agent that only
// relays model output, and a tool agent that additionally extracts tool
// calls and runs them through an approval workflow.
package agent

import (
	"context"
	"encoding/json"
	"io"
	"log"

	"github.com/google/uuid"

	"github.com/sahilkv/acpbridge/errors"
	"github.com/sahilkv/acpbridge/session"
	"github.com/sahilkv/acpbridge/wire"
)

// Command is one inbound control message.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is one outbound control message. Error events carry Message;
// everything else carries Payload.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// Emitter serializes event lines to the front-end. Write failures are
// logged and swallowed: the front-end may legitimately have gone away.
type Emitter struct {
	w *wire.Writer
}

// NewEmitter creates an Emitter writing NDJSON events to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: wire.NewWriter(w)}
}

// Emit writes one event line.
func (e *Emitter) Emit(typ string, payload any) {
	if err := e.w.WriteJSON(Event{Type: typ, Payload: payload}); err != nil {
		log.Printf("agent: failed to emit %s event: %v", typ, err)
	}
}

// Error writes an error event.
func (e *Emitter) Error(message string) {
	if err := e.w.WriteJSON(Event{Type: "error", Message: message}); err != nil {
		log.Printf("agent: failed to emit error event: %v", err)
	}
}

// Handler dispatches one control command. Implementations run on the
// single control loop; no internal locking is needed for session state.
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command, out *Emitter)
}

// Run drives the control loop until r ends. Lines that fail to parse as a
// command produce an error event and are skipped.
func Run(ctx context.Context, r io.Reader, out *Emitter, h Handler) error {
	lr := wire.NewLineReader(r)
	for {
		line, err := lr.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrapf(err, "control channel read error")
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			out.Error("invalid command: " + err.Error())
			continue
		}
		h.HandleCommand(ctx, cmd, out)
	}
}

// core carries the session bookkeeping both agent variants share.
type core struct {
	store     *session.Store
	model     string
	workspace string
}

type newSessionPayload struct {
	Model     string `json:"model,omitempty"`
	Workspace string `json:"workspace,omitempty"`
}

type setModelPayload struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
}

type setWorkspacePayload struct {
	SessionID string `json:"sessionId"`
	Workspace string `json:"workspace"`
}

// initialize reloads persisted sessions and reports how many came back.
func (c *core) initialize(out *Emitter) {
	loaded, err := c.store.LoadAll()
	if err != nil {
		out.Error(err.Error())
		return
	}
	out.Emit("initialized", map[string]any{"sessions": loaded})
}

// newSession mints a session, persists it and announces it.
func (c *core) newSession(payload json.RawMessage, out *Emitter) *session.Session {
	var p newSessionPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			out.Error("invalid new_session payload: " + err.Error())
			return nil
		}
	}
	s := &session.Session{
		ID:        uuid.NewString(),
		Model:     p.Model,
		Workspace: p.Workspace,
	}
	if s.Model == "" {
		s.Model = c.model
	}
	if s.Workspace == "" {
		s.Workspace = c.workspace
	}
	c.store.Put(s)
	if err := c.store.Save(s); err != nil {
		log.Printf("agent: failed to persist session %s: %v", s.ID, err)
	}
	out.Emit("session_created", map[string]any{
		"sessionId": s.ID,
		"model":     s.Model,
		"workspace": s.Workspace,
	})
	return s
}

// resolveSession finds the addressed session, defaulting to any existing
// one when the payload omits the id.
func (c *core) resolveSession(id string, out *Emitter) *session.Session {
	if id == "" {
		if s, ok := c.store.First(); ok {
			return s
		}
		out.Error("unknown_session: no sessions exist")
		return nil
	}
	s, ok := c.store.Get(id)
	if !ok {
		out.Error("unknown_session: " + id)
		return nil
	}
	return s
}

func (c *core) setModel(payload json.RawMessage, out *Emitter) {
	var p setModelPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Model == "" {
		out.Error("invalid set_model payload")
		return
	}
	s := c.resolveSession(p.SessionID, out)
	if s == nil {
		return
	}
	s.Model = p.Model
	if err := c.store.Save(s); err != nil {
		out.Error(err.Error())
	}
}

func (c *core) setWorkspace(payload json.RawMessage, out *Emitter) {
	var p setWorkspacePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Workspace == "" {
		out.Error("invalid set_workspace payload")
		return
	}
	s := c.resolveSession(p.SessionID, out)
	if s == nil {
		return
	}
	s.Workspace = p.Workspace
	if err := c.store.Save(s); err != nil {
		out.Error(err.Error())
	}
}
