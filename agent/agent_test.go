package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahilkv/acpbridge/llm"
	"github.com/sahilkv/acpbridge/session"
	"github.com/sahilkv/acpbridge/toolcall"
	"github.com/sahilkv/acpbridge/tools"
)

type eventRec struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Message string         `json:"message"`
}

// harness collects the events an agent emits while commands are fed in.
type harness struct {
	t   *testing.T
	h   Handler
	buf *bytes.Buffer
	out *Emitter
}

func newHarness(t *testing.T, h Handler) *harness {
	buf := &bytes.Buffer{}
	return &harness{t: t, h: h, buf: buf, out: NewEmitter(buf)}
}

func (h *harness) send(typ, payload string) []eventRec {
	h.t.Helper()
	h.buf.Reset()
	cmd := Command{Type: typ}
	if payload != "" {
		cmd.Payload = json.RawMessage(payload)
	}
	h.h.HandleCommand(context.Background(), cmd, h.out)

	var events []eventRec
	for _, line := range strings.Split(strings.TrimSpace(h.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var ev eventRec
		require.NoError(h.t, json.Unmarshal([]byte(line), &ev), line)
		events = append(events, ev)
	}
	return events
}

func ofType(events []eventRec, typ string) []eventRec {
	var out []eventRec
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newChatHarness(t *testing.T, client llm.Client) (*harness, string) {
	ws := t.TempDir()
	store := session.NewStore(ws, session.ChatDirName)
	return newHarness(t, NewChatAgent(client, store, "phi3", ws)), ws
}

func newToolHarness(t *testing.T, client llm.Client) (*harness, string) {
	ws := t.TempDir()
	store := session.NewStore(ws, session.ToolsDirName)
	dispatcher := tools.NewDispatcher(tools.NewFileManager(ws, nil, nil), tools.NewShell(nil))
	return newHarness(t, NewToolAgent(client, store, dispatcher, "phi3", ws)), ws
}

func TestChatAgentEndToEnd(t *testing.T) {
	h, _ := newChatHarness(t, &llm.Mock{Response: "hi there"})

	events := h.send("initialize", "")
	require.Len(t, events, 1)
	assert.Equal(t, "initialized", events[0].Type)

	events = h.send("new_session", `{"model":"phi3"}`)
	require.Len(t, events, 1)
	require.Equal(t, "session_created", events[0].Type)
	sessionID := events[0].Payload["sessionId"].(string)
	assert.Equal(t, "phi3", events[0].Payload["model"])

	events = h.send("prompt", `{"text":"say hi","stream":false}`)
	responses := ofType(events, "response")
	require.Len(t, responses, 1)
	assert.Equal(t, "hi there", responses[0].Payload["text"])
	assert.Equal(t, sessionID, responses[0].Payload["sessionId"])
	assert.Empty(t, ofType(events, "stream_chunk"))
}

func TestChatAgentStreaming(t *testing.T) {
	h, _ := newChatHarness(t, &llm.Mock{Chunks: []string{"hel", "lo"}})

	h.send("new_session", "")
	events := h.send("prompt", `{"text":"go","stream":true}`)

	chunks := ofType(events, "stream_chunk")
	require.Len(t, chunks, 2)
	assert.Equal(t, "hel", chunks[0].Payload["chunk"])
	assert.Equal(t, "lo", chunks[1].Payload["chunk"])

	responses := ofType(events, "response")
	require.Len(t, responses, 1)
	assert.Equal(t, "hello", responses[0].Payload["text"])
}

func TestChatAgentPersistsHistory(t *testing.T) {
	ws := t.TempDir()
	store := session.NewStore(ws, session.ChatDirName)
	h := newHarness(t, NewChatAgent(&llm.Mock{Response: "pong"}, store, "phi3", ws))

	created := h.send("new_session", "")
	sessionID := created[0].Payload["sessionId"].(string)
	h.send("prompt", `{"text":"ping"}`)

	fresh := session.NewStore(ws, session.ChatDirName)
	_, err := fresh.LoadAll()
	require.NoError(t, err)
	s, ok := fresh.Get(sessionID)
	require.True(t, ok)
	require.Len(t, s.History, 2)
	assert.Equal(t, "user", s.History[0].Role)
	assert.Equal(t, "pong", s.History[1].Text)
}

func TestUnknownCommandType(t *testing.T) {
	h, _ := newChatHarness(t, &llm.Mock{})
	events := h.send("frobnicate", "")
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	assert.Equal(t, "unknown_message_type: frobnicate", events[0].Message)
}

func TestSetModelPersists(t *testing.T) {
	ws := t.TempDir()
	store := session.NewStore(ws, session.ChatDirName)
	h := newHarness(t, NewChatAgent(&llm.Mock{}, store, "phi3", ws))

	created := h.send("new_session", "")
	sessionID := created[0].Payload["sessionId"].(string)

	events := h.send("set_model", fmt.Sprintf(`{"sessionId":%q,"model":"llama3"}`, sessionID))
	assert.Empty(t, ofType(events, "error"))

	fresh := session.NewStore(ws, session.ChatDirName)
	_, err := fresh.LoadAll()
	require.NoError(t, err)
	s, _ := fresh.Get(sessionID)
	assert.Equal(t, "llama3", s.Model)
}

func TestToolAgentApprovalFlow(t *testing.T) {
	reply := `Hello TOOL_CALL: {"name":"create_file","args":{"path":"a.txt","content":"hi"}}`
	h, ws := newToolHarness(t, &llm.Mock{Response: reply})

	created := h.send("new_session", "")
	sessionID := created[0].Payload["sessionId"].(string)

	events := h.send("prompt", `{"text":"make a file"}`)
	perms := ofType(events, "tool_permission_request")
	require.Len(t, perms, 1)
	assert.Empty(t, ofType(events, "tool_result"), "nothing may execute before approval")

	tool := perms[0].Payload["tool"].(map[string]any)
	assert.Equal(t, "create_file", tool["name"])
	args := tool["args"].(map[string]any)
	wantPath := filepath.Join(ws, toolcall.StagingDir, "a.txt")
	assert.Equal(t, wantPath, args["path"])
	assert.Contains(t, perms[0].Payload["assistant_excerpt"], "Hello")

	toolID := perms[0].Payload["toolId"].(string)
	events = h.send("approve_tool", fmt.Sprintf(`{"sessionId":%q,"toolId":%q,"approve":true}`, sessionID, toolID))
	results := ofType(events, "tool_result")
	require.Len(t, results, 1)
	assert.Equal(t, toolID, results[0].Payload["toolId"])

	content, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))

	// A second decision on the same id never re-executes.
	events = h.send("approve_tool", fmt.Sprintf(`{"sessionId":%q,"toolId":%q,"approve":true}`, sessionID, toolID))
	require.Len(t, ofType(events, "error"), 1)
	assert.Empty(t, ofType(events, "tool_result"))
}

func TestToolAgentRejection(t *testing.T) {
	reply := `TOOL_CALL: {"name":"create_file","args":{"path":"b.txt","content":"no"}}`
	h, ws := newToolHarness(t, &llm.Mock{Response: reply})

	created := h.send("new_session", "")
	sessionID := created[0].Payload["sessionId"].(string)

	events := h.send("prompt", `{"text":"try"}`)
	perms := ofType(events, "tool_permission_request")
	require.Len(t, perms, 1)
	toolID := perms[0].Payload["toolId"].(string)

	events = h.send("approve_tool", fmt.Sprintf(`{"sessionId":%q,"toolId":%q,"approve":false}`, sessionID, toolID))
	require.Len(t, ofType(events, "tool_rejected"), 1)
	assert.Empty(t, ofType(events, "tool_result"))

	_, err := os.Stat(filepath.Join(ws, toolcall.StagingDir, "b.txt"))
	assert.True(t, os.IsNotExist(err), "rejected tool must not run")
}

func TestToolAgentInvalidJSON(t *testing.T) {
	h, _ := newToolHarness(t, &llm.Mock{Response: `Sure. TOOL_CALL: {"name": broken}`})

	h.send("new_session", "")
	events := h.send("prompt", `{"text":"x"}`)

	require.Len(t, ofType(events, "tool_parse_error"), 1)
	responses := ofType(events, "response")
	require.Len(t, responses, 1)
	text := responses[0].Payload["text"].(string)
	assert.NotContains(t, text, toolcall.Marker)
	assert.Contains(t, text, "Sure.")
}

func TestToolAgentUnsupportedTool(t *testing.T) {
	h, _ := newToolHarness(t, &llm.Mock{Response: `TOOL_CALL: {"name":"launch_missiles","args":{}}`})

	h.send("new_session", "")
	events := h.send("prompt", `{"text":"x"}`)

	require.Len(t, ofType(events, "tool_invalid"), 1)
	responses := ofType(events, "response")
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Payload["text"], "launch_missiles")
}

func TestToolAgentPlainReplyPassesThrough(t *testing.T) {
	h, _ := newToolHarness(t, &llm.Mock{Response: "No tools needed."})

	h.send("new_session", "")
	events := h.send("prompt", `{"text":"x"}`)

	responses := ofType(events, "response")
	require.Len(t, responses, 1)
	assert.Equal(t, "No tools needed.", responses[0].Payload["text"])
	assert.Empty(t, ofType(events, "tool_permission_request"))
}

func TestToolAgentUnknownSessionAndTool(t *testing.T) {
	h, _ := newToolHarness(t, &llm.Mock{})

	events := h.send("approve_tool", `{"sessionId":"nope","toolId":"t1","approve":true}`)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	assert.Contains(t, events[0].Message, "unknown_session")

	created := h.send("new_session", "")
	sessionID := created[0].Payload["sessionId"].(string)
	events = h.send("approve_tool", fmt.Sprintf(`{"sessionId":%q,"toolId":"ghost","approve":true}`, sessionID))
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "unknown_tool_id")
}

func TestRunLoopHandlesGarbageAndEOF(t *testing.T) {
	h, _ := newChatHarness(t, &llm.Mock{})

	input := strings.NewReader("not json\n{\"type\":\"frobnicate\"}\n")
	buf := &bytes.Buffer{}
	err := Run(context.Background(), input, NewEmitter(buf), h.h)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "invalid command")
	assert.Contains(t, lines[1], "unknown_message_type: frobnicate")
}
