package acp

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sahilkv/acpbridge/errors"
	"github.com/sahilkv/acpbridge/tools"
	"github.com/sahilkv/acpbridge/wire"
)

// ErrNoSession is returned by operations that need a negotiated or active
// session before one exists.
var ErrNoSession = stderrors.New("no active session")

// State is the lifecycle position of a Client.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateAuthenticated
	StateSessionActive
	StateClosed
)

// clientInfo identifies this client during capability negotiation.
var clientInfo = map[string]string{
	"name":    "acpbridge",
	"title":   "ACP Bridge Client",
	"version": "1.0.0",
}

// AuthMethod is one authentication method advertised by the agent.
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Modes is the session mode metadata returned by session/new.
type Modes struct {
	CurrentModeID  string          `json:"currentModeId"`
	AvailableModes json.RawMessage `json:"availableModes,omitempty"`
}

// InitializeResult is the agent's capability-negotiation response.
type InitializeResult struct {
	ProtocolVersion   int             `json:"protocolVersion"`
	AgentInfo         json.RawMessage `json:"agentInfo,omitempty"`
	AgentCapabilities json.RawMessage `json:"agentCapabilities,omitempty"`
	AuthMethods       []AuthMethod    `json:"authMethods,omitempty"`
}

// newSessionResult is the session/new response.
type newSessionResult struct {
	SessionID string `json:"sessionId"`
	Modes     *Modes `json:"modes,omitempty"`
}

// promptResult is the session/prompt response.
type promptResult struct {
	StopReason string `json:"stopReason"`
}

// Client owns one adapter subprocess and the protocol connection to it.
// All lifecycle methods are driven by a single caller; inbound dispatch
// runs on the connection's read loop.
type Client struct {
	adapterCmd string
	cwd        string
	usesAPIKey bool

	cmd  *exec.Cmd
	in   io.WriteCloser
	conn *wire.Conn
	done chan error

	state             State
	protocolVersion   int
	agentInfo         json.RawMessage
	agentCapabilities json.RawMessage
	authMethods       []AuthMethod
	sessionID         string
	modes             *Modes

	files *tools.FileManager
	terms *TerminalManager

	// OnSessionUpdate receives every session/update notification verbatim.
	OnSessionUpdate func(params json.RawMessage)

	trace func(string)
}

// NewClient creates a Client that will spawn adapterCmd as the protocol
// peer, serve file requests through files, and run terminals under cwd.
// usesAPIKey marks a pre-provisioned credential, which skips the login
// step during initialization.
func NewClient(adapterCmd, cwd string, usesAPIKey bool, files *tools.FileManager) *Client {
	return &Client{
		adapterCmd:      adapterCmd,
		cwd:             cwd,
		usesAPIKey:      usesAPIKey,
		protocolVersion: 1,
		files:           files,
		terms:           NewTerminalManager(cwd),
		done:            make(chan error, 1),
		trace:           func(string) {},
	}
}

// SetTrace mirrors every protocol step to w, timestamped. Intended for
// troubleshooting; stdout stays reserved for the user interface.
func (c *Client) SetTrace(w io.Writer) {
	c.trace = func(msg string) {
		fmt.Fprintf(w, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
	}
}

// Start spawns the adapter subprocess and begins the read loop. The
// adapter's stderr passes through to this process's stderr.
func (c *Client) Start(ctx context.Context) error {
	parts := strings.Fields(c.adapterCmd)
	if len(parts) == 0 {
		return errors.New("empty adapter command")
	}
	c.trace(fmt.Sprintf("Start: spawning adapter: %s", c.adapterCmd))

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrapf(err, "could not open adapter stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrapf(err, "could not open adapter stdout")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "could not start adapter '%s'", parts[0])
	}
	c.cmd = cmd
	c.in = stdin
	c.conn = wire.NewConn(stdout, stdin)
	c.conn.SetLogf(func(format string, args ...any) {
		c.trace(fmt.Sprintf(format, args...))
		log.Printf(format, args...)
	})
	c.registerHandlers()

	go func() {
		c.done <- c.conn.Run()
	}()
	go func() {
		err := cmd.Wait()
		// The peer exiting is reportable but not fatal to us.
		c.trace(fmt.Sprintf("Start: adapter exited: %v", err))
		log.Printf("acp: adapter exited: %v", err)
	}()
	return nil
}

// Close shuts the adapter's stdin and waits briefly for the read loop.
func (c *Client) Close() error {
	c.state = StateClosed
	if c.in != nil {
		_ = c.in.Close()
	}
	select {
	case err := <-c.done:
		return err
	case <-time.After(2 * time.Second):
		return nil
	}
}

// SessionID returns the active session id, empty if none.
func (c *Client) SessionID() string { return c.sessionID }

// CurrentState returns the lifecycle state.
func (c *Client) CurrentState() State { return c.state }

// Modes returns the mode metadata recorded at session creation.
func (c *Client) Modes() *Modes { return c.modes }

// Initialize negotiates capabilities with the agent and records its info.
// It returns whether a separate login step is still required: with a
// pre-provisioned credential in the environment authentication is skipped
// outright, otherwise any advertised auth method means the caller must run
// the login flow before creating sessions.
func (c *Client) Initialize(ctx context.Context) (needsLogin bool, err error) {
	c.trace("Initialize: negotiating capabilities")
	params := map[string]any{
		"protocolVersion": c.protocolVersion,
		"clientCapabilities": map[string]any{
			"fs":       map[string]bool{"readTextFile": true, "writeTextFile": true},
			"terminal": true,
		},
		"clientInfo": clientInfo,
	}
	var result InitializeResult
	if err := c.conn.Call(ctx, "initialize", params, &result); err != nil {
		return false, errors.Wrapf(err, "initialize failed")
	}
	c.agentInfo = result.AgentInfo
	c.agentCapabilities = result.AgentCapabilities
	c.authMethods = result.AuthMethods
	c.state = StateInitialized

	if c.usesAPIKey {
		c.trace("Initialize: credential present, skipping authentication")
		c.state = StateAuthenticated
		return false, nil
	}
	if len(c.authMethods) > 0 {
		c.trace(fmt.Sprintf("Initialize: agent requires login, methods=%d", len(c.authMethods)))
		return true, nil
	}
	c.state = StateAuthenticated
	return false, nil
}

// Authenticate notifies the agent that the external login flow completed,
// using the first advertised method unless methodID names one.
func (c *Client) Authenticate(ctx context.Context, methodID string) error {
	if methodID == "" && len(c.authMethods) > 0 {
		methodID = c.authMethods[0].ID
	}
	params := map[string]any{"methodId": methodID, "data": map[string]any{}}
	if err := c.conn.Call(ctx, "authenticate", params, nil); err != nil {
		return errors.Wrapf(err, "authenticate failed")
	}
	c.state = StateAuthenticated
	return nil
}

// CreateSession asks the agent for a new session rooted at the client's
// working directory, with no extension servers. It records the returned
// session id and mode metadata.
func (c *Client) CreateSession(ctx context.Context) error {
	if c.state == StateUninitialized {
		return ErrNoSession
	}
	c.trace("CreateSession: requesting new session")
	params := map[string]any{
		"cwd":        c.cwd,
		"mcpServers": []any{},
	}
	var result newSessionResult
	if err := c.conn.Call(ctx, "session/new", params, &result); err != nil {
		return errors.Wrapf(err, "session/new failed")
	}
	c.sessionID = result.SessionID
	c.modes = result.Modes
	c.state = StateSessionActive
	c.trace(fmt.Sprintf("CreateSession: session created: %s", c.sessionID))
	return nil
}

// SendPrompt submits a single-part text prompt and blocks until the turn
// ends, returning the agent's stop reason.
func (c *Client) SendPrompt(ctx context.Context, text string) (string, error) {
	if c.sessionID == "" {
		return "", ErrNoSession
	}
	params := map[string]any{
		"sessionId": c.sessionID,
		"prompt": []map[string]any{
			{"type": "text", "text": text},
		},
	}
	var result promptResult
	if err := c.conn.Call(ctx, "session/prompt", params, &result); err != nil {
		return "", errors.Wrapf(err, "session/prompt failed")
	}
	c.trace(fmt.Sprintf("SendPrompt: completed, stopReason=%s", result.StopReason))
	return result.StopReason, nil
}

// SetMode switches the session mode. With no active session it is a
// harmless no-op.
func (c *Client) SetMode(ctx context.Context, modeID string) error {
	if c.sessionID == "" {
		return nil
	}
	params := map[string]any{"sessionId": c.sessionID, "modeId": modeID}
	if err := c.conn.Call(ctx, "session/set_mode", params, nil); err != nil {
		return errors.Wrapf(err, "session/set_mode failed")
	}
	if c.modes != nil {
		c.modes.CurrentModeID = modeID
	}
	return nil
}

// CancelCurrentPrompt fires a one-way cancel signal for the in-flight
// prompt. The protocol gives no completion guarantee and neither do we;
// with no active session, or a broken pipe, this is a no-op.
func (c *Client) CancelCurrentPrompt() {
	if c.sessionID == "" {
		return
	}
	if err := c.conn.Notify("session/cancel", map[string]any{"sessionId": c.sessionID}); err != nil {
		log.Printf("acp: failed to send session/cancel: %v", err)
	}
}

// registerHandlers installs the inbound request/notification table the
// agent is allowed to call on us.
func (c *Client) registerHandlers() {
	c.conn.HandleRequest("fs/read_text_file", c.handleReadTextFile)
	c.conn.HandleRequest("fs/write_text_file", c.handleWriteTextFile)
	c.conn.HandleRequest("terminal/create", c.terms.handleCreate)
	c.conn.HandleRequest("terminal/output", c.terms.handleOutput)
	c.conn.HandleRequest("terminal/wait_for_exit", c.terms.handleWaitForExit)
	c.conn.HandleRequest("terminal/kill", c.terms.handleKill)
	c.conn.HandleRequest("terminal/release", c.terms.handleRelease)
	c.conn.HandleRequest("session/request_permission", c.handleRequestPermission)
	c.conn.HandleNotification("session/update", func(params json.RawMessage) {
		if c.OnSessionUpdate != nil {
			c.OnSessionUpdate(params)
		}
	})
}

type fsReadParams struct {
	Path string `json:"path"`
}

type fsWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (c *Client) handleReadTextFile(params json.RawMessage) (any, *wire.ErrorObject) {
	var p fsReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &wire.ErrorObject{Code: wire.CodeInvalidParams, Message: "invalid params"}
	}
	content, err := c.files.Read(p.Path)
	if err != nil {
		return nil, &wire.ErrorObject{Code: wire.CodeInternalError, Message: err.Error()}
	}
	return map[string]string{"content": content}, nil
}

func (c *Client) handleWriteTextFile(params json.RawMessage) (any, *wire.ErrorObject) {
	var p fsWriteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &wire.ErrorObject{Code: wire.CodeInvalidParams, Message: "invalid params"}
	}
	if _, err := c.files.Create(p.Path, p.Content); err != nil {
		return nil, &wire.ErrorObject{Code: wire.CodeInternalError, Message: err.Error()}
	}
	return nil, nil
}

type permissionOption struct {
	OptionID string `json:"optionId"`
}

type permissionParams struct {
	Options []permissionOption `json:"options"`
}

// handleRequestPermission applies the configured auto-approve policy:
// select the first offered option, defaulting to allow-once.
func (c *Client) handleRequestPermission(params json.RawMessage) (any, *wire.ErrorObject) {
	var p permissionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &wire.ErrorObject{Code: wire.CodeInvalidParams, Message: "invalid params"}
	}
	optionID := "allow-once"
	if len(p.Options) > 0 && p.Options[0].OptionID != "" {
		optionID = p.Options[0].OptionID
	}
	c.trace(fmt.Sprintf("handleRequestPermission: auto-selecting %s", optionID))
	return map[string]any{
		"outcome": map[string]any{"outcome": "selected", "optionId": optionID},
	}, nil
}
