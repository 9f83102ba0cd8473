package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sahilkv/acpbridge/errors"
)

// FileManager performs file operations confined to a workspace root.
// Hidden and read-only glob patterns further restrict what a tool call or
// protocol peer may touch.
type FileManager struct {
	base     string
	hidden   []string
	readOnly []string
}

// NewFileManager creates a manager rooted at base. An empty base defaults
// to ./workspace under the current directory.
func NewFileManager(base string, hidden, readOnly []string) *FileManager {
	if base == "" {
		wd, _ := os.Getwd()
		base = filepath.Join(wd, "workspace")
	}
	return &FileManager{base: base, hidden: hidden, readOnly: readOnly}
}

// Base returns the workspace root.
func (f *FileManager) Base() string { return f.base }

// EnsureWorkspace re-roots the manager at base when given and creates the
// directory if needed.
func (f *FileManager) EnsureWorkspace(base string) error {
	if base != "" {
		f.base = base
	}
	if err := os.MkdirAll(f.base, 0o755); err != nil {
		return errors.Wrapf(err, "could not create workspace '%s'", f.base)
	}
	return nil
}

// Resolve maps p to an absolute path and rejects anything that escapes
// the workspace root.
func (f *FileManager) Resolve(p string) (string, error) {
	base, err := filepath.Abs(f.base)
	if err != nil {
		return "", errors.Wrapf(err, "could not resolve workspace root")
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", errors.New("path '%s' is outside the workspace", p)
	}
	return full, nil
}

// isRestricted checks a path against a set of doublestar glob patterns.
func isRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func (f *FileManager) checkReadable(p string) error {
	hidden, err := isRestricted(p, f.hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", p)
	}
	return nil
}

func (f *FileManager) checkWritable(p string) error {
	if err := f.checkReadable(p); err != nil {
		return err
	}
	readOnly, err := isRestricted(p, f.readOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", p)
	}
	return nil
}

// Create writes a new file, creating parent directories as needed, and
// returns the resolved path.
func (f *FileManager) Create(p, content string) (string, error) {
	full, err := f.Resolve(p)
	if err != nil {
		return "", err
	}
	if err := f.checkWritable(p); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.Wrapf(err, "could not create parent directory for '%s'", full)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write file '%s'", full)
	}
	return full, nil
}

// Read returns the entire content of a workspace file.
func (f *FileManager) Read(p string) (string, error) {
	full, err := f.Resolve(p)
	if err != nil {
		return "", err
	}
	if err := f.checkReadable(p); err != nil {
		return "", err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", full)
	}
	return string(content), nil
}

// Edit replaces a file's content entirely and returns the resolved path.
func (f *FileManager) Edit(p, content string) (string, error) {
	full, err := f.Resolve(p)
	if err != nil {
		return "", err
	}
	if err := f.checkWritable(p); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write file '%s'", full)
	}
	return full, nil
}
