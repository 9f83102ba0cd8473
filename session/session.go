// Package session holds agent-facing chat/tool session state and its
// snapshot persistence. A Store owns the in-memory registry for one agent
// process and serializes full snapshots to disk after every mutation; it is
// passed explicitly to whatever needs it rather than living in a global.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sahilkv/acpbridge/errors"
	"github.com/sahilkv/acpbridge/toolcall"
)

// Snapshot directory names, one per agent variant.
const (
	ChatDirName  = ".acp_chat_sessions"
	ToolsDirName = ".acp_tools_sessions"
)

// DefaultModel is assumed for snapshots that omit one.
const DefaultModel = "phi3"

// HistoryEntry is one turn of a chat session's conversation.
type HistoryEntry struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// ToolStatus is the lifecycle state of a ToolRequest. A request leaves
// pending exactly once and is immutable afterwards.
type ToolStatus string

const (
	StatusPending  ToolStatus = "pending"
	StatusApproved ToolStatus = "approved"
	StatusRejected ToolStatus = "rejected"
)

// ToolRequest is one extracted tool call awaiting or past its approval
// decision. Timestamps are Unix milliseconds.
type ToolRequest struct {
	ID          string        `json:"id"`
	Tool        toolcall.Call `json:"tool"`
	Status      ToolStatus    `json:"status"`
	RequestedAt int64         `json:"requestedAt"`
	ResolvedAt  int64         `json:"resolvedAt,omitempty"`
	Result      any           `json:"result,omitempty"`
}

// Resolve moves a pending request to a terminal status, stamping
// ResolvedAt and attaching the execution result. It reports false if the
// request already reached a terminal state; the record is not modified.
func (r *ToolRequest) Resolve(status ToolStatus, result any) bool {
	if r.Status != StatusPending {
		return false
	}
	r.Status = status
	r.Result = result
	r.ResolvedAt = time.Now().UnixMilli()
	return true
}

// Session is one agent-facing conversation. The chat variant populates
// History; the tool variant populates ToolRequests.
type Session struct {
	ID           string                  `json:"id"`
	Model        string                  `json:"model"`
	Workspace    string                  `json:"workspace"`
	History      []HistoryEntry          `json:"history,omitempty"`
	ToolRequests map[string]*ToolRequest `json:"toolRequests,omitempty"`
	SavedAt      string                  `json:"savedAt,omitempty"`
}

// Append records one conversation turn.
func (s *Session) Append(role, text string) {
	s.History = append(s.History, HistoryEntry{Role: role, Text: text})
}

// AddToolRequest registers a freshly extracted tool call as pending.
func (s *Session) AddToolRequest(req *ToolRequest) {
	if s.ToolRequests == nil {
		s.ToolRequests = make(map[string]*ToolRequest)
	}
	s.ToolRequests[req.ID] = req
}

// Store is the explicit session registry plus its on-disk snapshot
// directory. All mutation happens on the owning agent's event loop, so the
// Store itself carries no locking.
type Store struct {
	dir              string
	defaultWorkspace string
	sessions         map[string]*Session
}

// NewStore creates a store rooted at <workspace>/<dirName>.
func NewStore(workspace, dirName string) *Store {
	return &Store{
		dir:              filepath.Join(workspace, dirName),
		defaultWorkspace: workspace,
		sessions:         make(map[string]*Session),
	}
}

// Dir returns the snapshot directory path.
func (st *Store) Dir() string { return st.dir }

// Put registers a session in memory. Callers persist separately via Save.
func (st *Store) Put(s *Session) { st.sessions[s.ID] = s }

// Get looks up a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	s, ok := st.sessions[id]
	return s, ok
}

// First returns any registered session, used to default the session id on
// prompts that omit one.
func (st *Store) First() (*Session, bool) {
	for _, s := range st.sessions {
		return s, true
	}
	return nil, false
}

// Len reports the number of registered sessions.
func (st *Store) Len() int { return len(st.sessions) }

func (st *Store) ensureDir() error {
	return os.MkdirAll(st.dir, 0o755)
}

// Save writes a full snapshot of s, overwriting any previous one, and
// stamps SavedAt.
func (st *Store) Save(s *Session) error {
	if err := st.ensureDir(); err != nil {
		return errors.Wrapf(err, "could not create session directory")
	}
	s.SavedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session %s", s.ID)
	}
	path := filepath.Join(st.dir, s.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write session snapshot %s", path)
	}
	return nil
}

// LoadAll reconstructs the in-memory registry from every snapshot in the
// store directory. Snapshots that fail to parse are skipped; missing model
// and workspace fields fall back to defaults. It returns the number of
// sessions loaded.
func (st *Store) LoadAll() (int, error) {
	if err := st.ensureDir(); err != nil {
		return 0, errors.Wrapf(err, "could not create session directory")
	}
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return 0, errors.Wrapf(err, "could not enumerate session directory")
	}

	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(st.dir, name))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		// The filename, not the snapshot body, is authoritative for the id.
		s.ID = strings.TrimSuffix(name, ".json")
		if s.Model == "" {
			s.Model = DefaultModel
		}
		if s.Workspace == "" {
			s.Workspace = st.defaultWorkspace
		}
		st.sessions[s.ID] = &s
		loaded++
	}
	return loaded, nil
}
