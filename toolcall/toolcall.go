// Package toolcall locates and parses the single structured command a model
// may embed in its free-form output, and prepares its arguments for
// execution inside a workspace.
package toolcall

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Marker introduces an embedded tool call in assistant output.
const Marker = "TOOL_CALL:"

// StagingDir is the per-workspace subdirectory that relative tool paths
// are rewritten under.
const StagingDir = ".files"

// Conditions reported by Extract. Both degrade the turn to a plain text
// response; neither is fatal.
var (
	ErrInvalidJSON     = errors.New("invalid tool call JSON")
	ErrUnsupportedTool = errors.New("unsupported tool")
)

// Call is a parsed tool invocation.
type Call struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Block locates the raw tool-call text inside the assistant output. Start
// is the offset of the marker; End is one past the closing brace.
type Block struct {
	Start int
	End   int
	Text  string
}

var allowedTools = map[string]bool{
	"create_file": true,
	"read_file":   true,
	"edit_file":   true,
	"run_shell":   true,
}

var fileTools = map[string]bool{
	"create_file": true,
	"read_file":   true,
	"edit_file":   true,
}

// Allowed reports whether name is on the tool allow-list.
func Allowed(name string) bool { return allowedTools[name] }

// FindBlock scans text for the first marker occurrence followed by a
// balanced-brace JSON object. It returns false when there is no marker, no
// opening brace after it, or the braces never balance before end of input.
// A second marker later in the text is never considered.
func FindBlock(text string) (Block, bool) {
	idx := strings.Index(text, Marker)
	if idx == -1 {
		return Block{}, false
	}
	braceStart := strings.Index(text[idx+len(Marker):], "{")
	if braceStart == -1 {
		return Block{}, false
	}
	braceStart += idx + len(Marker)

	depth := 0
	for i := braceStart; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return Block{Start: idx, End: i + 1, Text: text[braceStart : i+1]}, true
			}
		}
	}
	// Ran out of input with braces still open: treat as no tool call.
	return Block{}, false
}

// Extract finds and parses the first well-formed tool call in text.
//
// It returns (nil, nil, nil) when text contains no tool call. A block that
// fails to parse yields ErrInvalidJSON with the located block so callers
// can report the raw text. A parsed call whose name is not on the
// allow-list yields ErrUnsupportedTool alongside the call.
func Extract(text string) (*Call, *Block, error) {
	b, ok := FindBlock(text)
	if !ok {
		return nil, nil, nil
	}

	var call Call
	if err := json.Unmarshal([]byte(b.Text), &call); err != nil {
		return nil, &b, ErrInvalidJSON
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	if call.Name == "" || !Allowed(call.Name) {
		return &call, &b, ErrUnsupportedTool
	}
	return &call, &b, nil
}

// NormalizePath applies the containment policy for tool path arguments:
// absolute paths pass through unchanged, everything else is staged under
// the workspace staging subdirectory regardless of embedded separators.
func NormalizePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, StagingDir, p)
}

// EnsureParentDir pre-creates the parent directory of path. It is
// idempotent and best-effort; failures surface later when the tool runs.
func EnsureParentDir(path string) {
	if path == "" {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
}

// Stage normalizes the call's path argument for the file-oriented tools
// and pre-creates the parent directory of whatever path the call carries.
func Stage(call *Call, workspace string) {
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	p, _ := call.Args["path"].(string)
	if p == "" {
		return
	}
	if fileTools[call.Name] {
		p = NormalizePath(workspace, p)
		call.Args["path"] = p
	}
	EnsureParentDir(p)
}

var (
	spaceRun = regexp.MustCompile(`\s+`)
	toolTail = regexp.MustCompile(`TOOL_CALL:.*`)
)

const excerptLimit = 400

// Excerpt builds the audit excerpt for an approval request: the last
// ~400 characters of the prose preceding the block, whitespace collapsed,
// followed by the raw tool-call text.
func Excerpt(text string, b Block) string {
	prose := strings.TrimSpace(spaceRun.ReplaceAllString(text[:b.Start], " "))
	if len(prose) > excerptLimit {
		prose = prose[len(prose)-excerptLimit:]
	}
	return prose + " " + b.Text
}

// Sanitize produces the degraded plain-text response used when a located
// block fails to parse: newlines flattened, bounded to 400 characters,
// with the tool-call fragment scrubbed out.
func Sanitize(text string) string {
	flat := strings.ReplaceAll(text, "\n", " ")
	if len(flat) > excerptLimit {
		flat = flat[:excerptLimit]
	}
	return toolTail.ReplaceAllString(flat, "")
}
