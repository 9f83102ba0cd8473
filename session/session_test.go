package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sahilkv/acpbridge/toolcall"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	store := NewStore(ws, ChatDirName)

	s := &Session{ID: "abc", Model: "phi3", Workspace: ws}
	s.Append("user", "hello")
	s.Append("assistant", "hi there")
	store.Put(s)
	if err := store.Save(s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if s.SavedAt == "" {
		t.Fatal("SavedAt was not stamped")
	}

	fresh := NewStore(ws, ChatDirName)
	n, err := fresh.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d sessions, want 1", n)
	}
	got, ok := fresh.Get("abc")
	if !ok {
		t.Fatal("session abc not reloaded")
	}
	if got.Model != "phi3" || got.Workspace != ws {
		t.Fatalf("got model=%q workspace=%q", got.Model, got.Workspace)
	}
	if len(got.History) != 2 || got.History[1].Text != "hi there" {
		t.Fatalf("history did not survive: %+v", got.History)
	}
}

func TestLoadAllSkipsUnparseableAndAppliesDefaults(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ToolsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// One corrupt snapshot, one minimal snapshot missing model and workspace.
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{notjson"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "minimal.json"), []byte(`{"id":"ignored"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(ws, ToolsDirName)
	n, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d sessions, want 1", n)
	}
	got, ok := store.Get("minimal")
	if !ok {
		t.Fatal("filename-derived id not used")
	}
	if got.Model != DefaultModel {
		t.Fatalf("got model %q, want %q", got.Model, DefaultModel)
	}
	if got.Workspace != ws {
		t.Fatalf("got workspace %q, want %q", got.Workspace, ws)
	}
}

func TestToolRequestSingleTransition(t *testing.T) {
	req := &ToolRequest{
		ID:     "t1",
		Tool:   toolcall.Call{Name: "run_shell", Args: map[string]any{"command": "ls"}},
		Status: StatusPending,
	}

	if !req.Resolve(StatusApproved, "output") {
		t.Fatal("first transition rejected")
	}
	if req.Status != StatusApproved || req.ResolvedAt == 0 {
		t.Fatalf("record not updated: %+v", req)
	}

	if req.Resolve(StatusRejected, nil) {
		t.Fatal("second transition accepted")
	}
	if req.Status != StatusApproved || req.Result != "output" {
		t.Fatalf("record mutated by the rejected transition: %+v", req)
	}
}

func TestToolRequestsSurviveSnapshot(t *testing.T) {
	ws := t.TempDir()
	store := NewStore(ws, ToolsDirName)

	s := &Session{ID: "tool-sess", Model: "phi3", Workspace: ws}
	s.AddToolRequest(&ToolRequest{
		ID:          "t1",
		Tool:        toolcall.Call{Name: "create_file", Args: map[string]any{"path": "a.txt"}},
		Status:      StatusPending,
		RequestedAt: 1700000000000,
	})
	store.Put(s)
	if err := store.Save(s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fresh := NewStore(ws, ToolsDirName)
	if _, err := fresh.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	got, ok := fresh.Get("tool-sess")
	if !ok {
		t.Fatal("session not reloaded")
	}
	req, ok := got.ToolRequests["t1"]
	if !ok {
		t.Fatal("tool request not reloaded")
	}
	if req.Status != StatusPending || req.Tool.Name != "create_file" {
		t.Fatalf("tool request content changed: %+v", req)
	}
}

func TestFirstOnEmptyStore(t *testing.T) {
	store := NewStore(t.TempDir(), ChatDirName)
	if _, ok := store.First(); ok {
		t.Fatal("First reported a session on an empty store")
	}
}
