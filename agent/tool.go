package agent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sahilkv/acpbridge/llm"
	"github.com/sahilkv/acpbridge/session"
	"github.com/sahilkv/acpbridge/toolcall"
	"github.com/sahilkv/acpbridge/tools"
)

// systemPrompt teaches the model the embedded tool-call contract the
// extractor parses. At most one call per response.
const systemPrompt = `You are a coding assistant that can use tools. To use a tool, include exactly one line in your response of the form:
TOOL_CALL: {"name": "<tool_name>", "args": { ... }}
Available tools:
- create_file: args {"path": "<relative path>", "content": "<file content>"}
- read_file: args {"path": "<relative path>"}
- edit_file: args {"path": "<relative path>", "content": "<new file content>"}
- run_shell: args {"command": "<shell command>"}
Use at most one tool call per response. Relative paths are created inside the workspace. If no tool is needed, answer in plain text.`

// ToolAgent serves tool-capable sessions: model replies are scanned for an
// embedded tool call, which is staged, recorded as pending and offered to
// the front-end for approval before anything executes.
type ToolAgent struct {
	core
	llm        llm.Client
	dispatcher *tools.Dispatcher
}

// NewToolAgent creates a ToolAgent persisting under store and executing
// approved calls through dispatcher.
func NewToolAgent(client llm.Client, store *session.Store, dispatcher *tools.Dispatcher, model, workspace string) *ToolAgent {
	if model == "" {
		model = session.DefaultModel
	}
	return &ToolAgent{
		core:       core{store: store, model: model, workspace: workspace},
		llm:        client,
		dispatcher: dispatcher,
	}
}

type approveToolPayload struct {
	SessionID string `json:"sessionId"`
	ToolID    string `json:"toolId"`
	Approve   bool   `json:"approve"`
}

// HandleCommand implements Handler.
func (a *ToolAgent) HandleCommand(ctx context.Context, cmd Command, out *Emitter) {
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
	case "approve_tool":
		a.approveTool(ctx, cmd.Payload, out)
	default:
		out.Error("unknown_message_type: " + cmd.Type)
	}
}

func (a *ToolAgent) prompt(ctx context.Context, payload json.RawMessage, out *Emitter) {
	var p promptPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Text == "" {
		out.Error("invalid prompt payload")
		return
	}
	s := a.resolveSession(p.SessionID, out)
	if s == nil {
		return
	}

	full := systemPrompt + "\nUser: " + p.Text

	var reply string
	var err error
	if p.Stream {
		reply, err = a.llm.ChatStream(ctx, s.Model, full, func(chunk string) {
			out.Emit("stream_chunk", map[string]any{"sessionId": s.ID, "chunk": chunk})
		})
	} else {
		reply, err = a.llm.Chat(ctx, s.Model, full)
	}
	if err != nil {
		out.Error(err.Error())
		return
	}

	call, block, err := toolcall.Extract(reply)
	switch {
	case stderrors.Is(err, toolcall.ErrInvalidJSON):
		out.Emit("tool_parse_error", map[string]any{
			"sessionId": s.ID,
			"message":   "invalid tool call JSON",
			"raw":       block.Text,
		})
		out.Emit("response", map[string]any{"sessionId": s.ID, "text": toolcall.Sanitize(reply)})
	case stderrors.Is(err, toolcall.ErrUnsupportedTool):
		text := fmt.Sprintf("Model attempted to call unsupported tool %q.", call.Name)
		out.Emit("tool_invalid", map[string]any{"sessionId": s.ID, "message": text})
		out.Emit("response", map[string]any{"sessionId": s.ID, "text": text})
	case call == nil:
		out.Emit("response", map[string]any{"sessionId": s.ID, "text": reply})
	default:
		a.requestApproval(s, call, reply, *block, out)
	}
}

// requestApproval stages the call, records it pending, persists the
// session and asks the front-end to decide.
func (a *ToolAgent) requestApproval(s *session.Session, call *toolcall.Call, reply string, block toolcall.Block, out *Emitter) {
	toolcall.Stage(call, s.Workspace)

	req := &session.ToolRequest{
		ID:          uuid.NewString(),
		Tool:        *call,
		Status:      session.StatusPending,
		RequestedAt: time.Now().UnixMilli(),
	}
	s.AddToolRequest(req)
	if err := a.store.Save(s); err != nil {
		log.Printf("agent: failed to persist session %s: %v", s.ID, err)
	}

	out.Emit("tool_permission_request", map[string]any{
		"sessionId":         s.ID,
		"toolId":            req.ID,
		"tool":              req.Tool,
		"assistant_excerpt": toolcall.Excerpt(reply, block),
	})
	out.Emit("response", map[string]any{"sessionId": s.ID, "text": "Awaiting tool approval…"})
}

func (a *ToolAgent) approveTool(ctx context.Context, payload json.RawMessage, out *Emitter) {
	var p approveToolPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ToolID == "" {
		out.Error("invalid approve_tool payload")
		return
	}
	s, ok := a.store.Get(p.SessionID)
	if !ok {
		out.Error("unknown_session: " + p.SessionID)
		return
	}
	req, ok := s.ToolRequests[p.ToolID]
	if !ok || req.Status != session.StatusPending {
		// A second decision on a resolved request is indistinguishable
		// from a bad id: either way nothing executes.
		out.Error("unknown_tool_id: " + p.ToolID)
		return
	}

	if !p.Approve {
		req.Resolve(session.StatusRejected, nil)
		if err := a.store.Save(s); err != nil {
			log.Printf("agent: failed to persist session %s: %v", s.ID, err)
		}
		out.Emit("tool_rejected", map[string]any{"sessionId": s.ID, "toolId": req.ID})
		return
	}

	if req.Tool.Name == "create_file" || req.Tool.Name == "edit_file" {
		if path, _ := req.Tool.Args["path"].(string); path != "" {
			toolcall.EnsureParentDir(path)
		}
	}
	result, err := a.dispatcher.Dispatch(ctx, req.Tool)
	if err != nil {
		// Execution failure is an outcome to record, not a reason to
		// leave the request pending.
		result = err.Error()
	}
	req.Resolve(session.StatusApproved, result)
	if err := a.store.Save(s); err != nil {
		log.Printf("agent: failed to persist session %s: %v", s.ID, err)
	}
	out.Emit("tool_result", map[string]any{
		"sessionId": s.ID,
		"toolId":    req.ID,
		"result":    result,
	})
}
