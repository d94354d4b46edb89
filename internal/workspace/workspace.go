package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is a scratch directory owned exclusively by one job. It is
// created when the job starts and removed when the job concludes — success,
// failure or timeout alike.
type Workspace struct {
	JobID string
	Dir   string
}

// Acquire creates a directory unique to jobID under parent. A random suffix
// keeps two submissions of the same contract from colliding.
func Acquire(parent, kind, jobID string) (*Workspace, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work root: %w", err)
	}

	dir := filepath.Join(parent, fmt.Sprintf("%s_%s_%s", kind, jobID, uuid.NewString()[:8]))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Workspace{JobID: jobID, Dir: dir}, nil
}

// Path returns the location of a named file inside the workspace.
func (w *Workspace) Path(filename string) string {
	return filepath.Join(w.Dir, filename)
}

// Release recursively deletes the workspace. Already-gone directories are
// not an error, and any other failure is logged rather than returned —
// cleanup must never mask the job's own outcome. Safe to call twice.
func (w *Workspace) Release() {
	if w == nil || w.Dir == "" {
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil && !os.IsNotExist(err) {
		log.Printf("[Workspace] Failed to remove %s: %v", w.Dir, err)
	}
}
