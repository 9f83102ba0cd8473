package acp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/sahilkv/acpbridge/wire"
)

// terminal is one agent-created command running under `sh -c`, its output
// buffered until the agent collects it.
type terminal struct {
	cmd  *exec.Cmd
	buf  *lockedBuffer
	done chan struct{}

	exitCode int
	waitErr  error
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TerminalManager serves the agent's terminal/* requests: create buffered
// shell commands, report their output, wait for exit, kill and release.
type TerminalManager struct {
	mu    sync.Mutex
	cwd   string
	terms map[string]*terminal
}

func NewTerminalManager(cwd string) *TerminalManager {
	return &TerminalManager{cwd: cwd, terms: make(map[string]*terminal)}
}

type terminalCreateParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
}

type terminalIDParams struct {
	TerminalID string `json:"terminalId"`
}

func invalidParams() *wire.ErrorObject {
	return &wire.ErrorObject{Code: wire.CodeInvalidParams, Message: "invalid params"}
}

func unknownTerminal(id string) *wire.ErrorObject {
	return &wire.ErrorObject{Code: wire.CodeInvalidParams, Message: fmt.Sprintf("unknown terminal '%s'", id)}
}

func (tm *TerminalManager) handleCreate(params json.RawMessage) (any, *wire.ErrorObject) {
	var p terminalCreateParams
	if err := json.Unmarshal(params, &p); err != nil || p.Command == "" {
		return nil, invalidParams()
	}
	command := p.Command
	for _, a := range p.Args {
		command += " " + a
	}
	cwd := p.Cwd
	if cwd == "" {
		cwd = tm.cwd
	}

	t := &terminal{buf: &lockedBuffer{}, done: make(chan struct{})}
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = cwd
	cmd.Stdout = t.buf
	cmd.Stderr = t.buf
	if err := cmd.Start(); err != nil {
		return nil, &wire.ErrorObject{Code: wire.CodeInternalError, Message: err.Error()}
	}
	t.cmd = cmd

	id := uuid.NewString()
	tm.mu.Lock()
	tm.terms[id] = t
	tm.mu.Unlock()

	go func() {
		t.waitErr = cmd.Wait()
		t.exitCode = cmd.ProcessState.ExitCode()
		close(t.done)
	}()

	return map[string]string{"terminalId": id}, nil
}

func (tm *TerminalManager) get(params json.RawMessage) (string, *terminal, *wire.ErrorObject) {
	var p terminalIDParams
	if err := json.Unmarshal(params, &p); err != nil || p.TerminalID == "" {
		return "", nil, invalidParams()
	}
	tm.mu.Lock()
	t, ok := tm.terms[p.TerminalID]
	tm.mu.Unlock()
	if !ok {
		return "", nil, unknownTerminal(p.TerminalID)
	}
	return p.TerminalID, t, nil
}

func (tm *TerminalManager) handleOutput(params json.RawMessage) (any, *wire.ErrorObject) {
	_, t, errObj := tm.get(params)
	if errObj != nil {
		return nil, errObj
	}
	result := map[string]any{"output": t.buf.String(), "truncated": false}
	select {
	case <-t.done:
		result["exitStatus"] = map[string]any{"exitCode": t.exitCode}
	default:
	}
	return result, nil
}

func (tm *TerminalManager) handleWaitForExit(params json.RawMessage) (any, *wire.ErrorObject) {
	_, t, errObj := tm.get(params)
	if errObj != nil {
		return nil, errObj
	}
	<-t.done
	return map[string]any{"exitCode": t.exitCode}, nil
}

func (tm *TerminalManager) handleKill(params json.RawMessage) (any, *wire.ErrorObject) {
	_, t, errObj := tm.get(params)
	if errObj != nil {
		return nil, errObj
	}
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return nil, nil
}

func (tm *TerminalManager) handleRelease(params json.RawMessage) (any, *wire.ErrorObject) {
	id, t, errObj := tm.get(params)
	if errObj != nil {
		return nil, errObj
	}
	if t.cmd.Process != nil {
		select {
		case <-t.done:
		default:
			_ = t.cmd.Process.Kill()
		}
	}
	tm.mu.Lock()
	delete(tm.terms, id)
	tm.mu.Unlock()
	return nil, nil
}
