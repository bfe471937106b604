// Package scratch manages the job-local working area for one batch invocation.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DirPrefix prefixes every scratch directory name.
const DirPrefix = "sarproc-"

// Dir is a scratch directory unique to one batch invocation.
type Dir struct {
	path  string
	runID string
}

// New creates a Dir under root named after runID.
// If root is empty, uses the system temp directory. If runID is empty, a
// random one is generated so concurrent invocations never share a directory.
func New(root, runID string) (*Dir, error) {
	if root == "" {
		root = os.TempDir()
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scratch root: %w", err)
	}

	return &Dir{
		path:  filepath.Join(abs, DirPrefix+runID),
		runID: runID,
	}, nil
}

// Path returns the scratch directory path.
func (d *Dir) Path() string {
	return d.path
}

// RunID returns the identifier the directory is named after.
func (d *Dir) RunID() string {
	return d.runID
}

// EnsureExists creates the scratch directory if it doesn't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return nil
}

// Exists returns true if the scratch directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// Remove deletes the scratch directory and everything in it.
// Removing a directory that is already gone is not an error.
func (d *Dir) Remove() error {
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("failed to remove scratch directory: %w", err)
	}
	return nil
}
