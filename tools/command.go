package tools

import (
	"context"
	"os/exec"
	"regexp"

	"github.com/sahilkv/acpbridge/errors"
)

// Shell runs model-requested commands through the system shell. An
// optional allow-list of regex patterns restricts what may run; an empty
// list leaves the approval workflow as the only gate.
type Shell struct {
	allowed []string
}

// NewShell creates a Shell with the given allow-list patterns.
func NewShell(allowed []string) *Shell {
	return &Shell{allowed: allowed}
}

// isCommandAllowed checks a command against the allow-list, falling back
// to literal comparison for patterns that fail to compile.
func isCommandAllowed(command string, allowed []string) bool {
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// Run executes command via `sh -c` and returns its combined output. A
// non-zero exit still returns whatever output was produced, alongside the
// exit error.
func (sh *Shell) Run(ctx context.Context, command string) (string, error) {
	if len(sh.allowed) > 0 && !isCommandAllowed(command, sh.allowed) {
		return "", errors.New("command '%s' is not in the list of allowed commands", command)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), errors.Wrapf(err, "command execution failed")
	}
	return string(out), nil
}
