// Package tools executes approved tool calls against the workspace
// filesystem and the system shell.
package tools

import (
	"context"

	"github.com/sahilkv/acpbridge/errors"
	"github.com/sahilkv/acpbridge/toolcall"
)

// Dispatcher routes an approved tool call to the primitive that executes
// it. It assumes path arguments were already normalized by the extractor.
type Dispatcher struct {
	Files *FileManager
	Shell *Shell
}

// NewDispatcher creates a Dispatcher over the given primitives.
func NewDispatcher(files *FileManager, shell *Shell) *Dispatcher {
	return &Dispatcher{Files: files, Shell: shell}
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// Dispatch executes one tool call and returns its result value. For
// run_shell, command failure output is itself the result; the approval
// gate has already run, so the outcome is reported rather than raised.
func (d *Dispatcher) Dispatch(ctx context.Context, call toolcall.Call) (any, error) {
	switch call.Name {
	case "create_file":
		full, err := d.Files.Create(argString(call.Args, "path"), argString(call.Args, "content"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "path": full}, nil
	case "read_file":
		content, err := d.Files.Read(argString(call.Args, "path"))
		if err != nil {
			return nil, err
		}
		return content, nil
	case "edit_file":
		full, err := d.Files.Edit(argString(call.Args, "path"), argString(call.Args, "content"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "path": full}, nil
	case "run_shell":
		out, err := d.Shell.Run(ctx, argString(call.Args, "command"))
		if err != nil {
			if out != "" {
				return out, nil
			}
			return err.Error(), nil
		}
		return out, nil
	default:
		return nil, errors.New("unknown tool '%s'", call.Name)
	}
}
