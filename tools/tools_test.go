package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sahilkv/acpbridge/toolcall"
)

func TestFileManagerRoundTrip(t *testing.T) {
	fm := NewFileManager(t.TempDir(), nil, nil)

	full, err := fm.Create("sub/dir/a.txt", "hello")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(full, fm.Base()) {
		t.Fatalf("created file %q outside workspace %q", full, fm.Base())
	}

	content, err := fm.Read("sub/dir/a.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if content != "hello" {
		t.Fatalf("got %q, want hello", content)
	}

	if _, err := fm.Edit("sub/dir/a.txt", "changed"); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	content, _ = fm.Read("sub/dir/a.txt")
	if content != "changed" {
		t.Fatalf("got %q after edit", content)
	}
}

func TestFileManagerRejectsEscape(t *testing.T) {
	fm := NewFileManager(t.TempDir(), nil, nil)
	if _, err := fm.Read("../outside.txt"); err == nil {
		t.Fatal("expected a containment error")
	}
	if _, err := fm.Create("a/../../outside.txt", "x"); err == nil {
		t.Fatal("expected a containment error")
	}
}

func TestFileManagerHiddenPatterns(t *testing.T) {
	fm := NewFileManager(t.TempDir(), []string{".secrets", ".secrets/**"}, nil)
	if _, err := fm.Create(".secrets/key.pem", "k"); err == nil {
		t.Fatal("expected hidden path to be denied")
	}
	if _, err := fm.Read(".secrets"); err == nil {
		t.Fatal("expected hidden path to be denied")
	}
}

func TestFileManagerReadOnlyPatterns(t *testing.T) {
	fm := NewFileManager(t.TempDir(), nil, []string{"docs/**"})
	if _, err := fm.Edit("docs/readme.md", "nope"); err == nil {
		t.Fatal("expected read-only path to reject writes")
	}
	// Reads of read-only paths still work once the file exists.
	if _, err := fm.Create("free/readme.md", "ok"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

func TestShellRunCapturesOutput(t *testing.T) {
	sh := NewShell(nil)
	out, err := sh.Run(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("got %q", out)
	}
}

func TestShellFailureKeepsOutput(t *testing.T) {
	sh := NewShell(nil)
	out, err := sh.Run(context.Background(), "echo oops >&2; exit 3")
	if err == nil {
		t.Fatal("expected an exit error")
	}
	if !strings.Contains(out, "oops") {
		t.Fatalf("stderr lost: %q", out)
	}
}

func TestShellAllowList(t *testing.T) {
	sh := NewShell([]string{`^echo\b`, `^ls\b`})
	if _, err := sh.Run(context.Background(), "echo fine"); err != nil {
		t.Fatalf("allowed command rejected: %v", err)
	}
	if _, err := sh.Run(context.Background(), "rm -rf /"); err == nil {
		t.Fatal("disallowed command accepted")
	}
}

func TestDispatcherFileTools(t *testing.T) {
	ws := t.TempDir()
	d := NewDispatcher(NewFileManager(ws, nil, nil), NewShell(nil))
	ctx := context.Background()

	res, err := d.Dispatch(ctx, toolcall.Call{
		Name: "create_file",
		Args: map[string]any{"path": filepath.Join(ws, "a.txt"), "content": "hi"},
	})
	if err != nil {
		t.Fatalf("create_file failed: %v", err)
	}
	m, ok := res.(map[string]any)
	if !ok || m["ok"] != true {
		t.Fatalf("unexpected create_file result: %v", res)
	}

	res, err = d.Dispatch(ctx, toolcall.Call{
		Name: "read_file",
		Args: map[string]any{"path": filepath.Join(ws, "a.txt")},
	})
	if err != nil {
		t.Fatalf("read_file failed: %v", err)
	}
	if res != "hi" {
		t.Fatalf("got %v, want hi", res)
	}
}

func TestDispatcherShellErrorIsValue(t *testing.T) {
	d := NewDispatcher(NewFileManager(t.TempDir(), nil, nil), NewShell(nil))
	res, err := d.Dispatch(context.Background(), toolcall.Call{
		Name: "run_shell",
		Args: map[string]any{"command": "echo broken; exit 1"},
	})
	if err != nil {
		t.Fatalf("shell failure should be captured as a value, got error: %v", err)
	}
	out, ok := res.(string)
	if !ok || !strings.Contains(out, "broken") {
		t.Fatalf("got %v", res)
	}
}

func TestDispatcherUnknownTool(t *testing.T) {
	d := NewDispatcher(NewFileManager(t.TempDir(), nil, nil), NewShell(nil))
	if _, err := d.Dispatch(context.Background(), toolcall.Call{Name: "format_disk"}); err == nil {
		t.Fatal("expected unknown tool error")
	}
}
