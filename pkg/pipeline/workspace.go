package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Workspace is the scratch directory of a single run. Downloads and
// extracted members live below it until their source has been processed.
type Workspace struct {
	Dir  string
	keep bool
	log  *slog.Logger
}

// NewWorkspace prepares the scratch directory. A configured dir is wiped and
// recreated; an empty dir selects a fresh temporary directory.
func NewWorkspace(dir string, keep bool, log *slog.Logger) (*Workspace, error) {
	if log == nil {
		log = slog.Default()
	}

	if dir == "" {
		tmp, err := os.MkdirTemp("", "blockgen-")
		if err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
		dir = tmp
	} else {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("clear workspace %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create workspace %s: %w", dir, err)
		}
	}

	log.Debug("workspace ready", "dir", dir)
	return &Workspace{Dir: dir, keep: keep, log: log}, nil
}

// DownloadPath is where the artifact of the named source is stored.
func (w *Workspace) DownloadPath(name string) string {
	return filepath.Join(w.Dir, name)
}

// ExtractDir is where the members of the named source are extracted to.
func (w *Workspace) ExtractDir(name string) string {
	return filepath.Join(w.Dir, name+"_extracted")
}

// Clean removes the files that belong to the named source. Kept workspaces
// retain them for inspection.
func (w *Workspace) Clean(name string) {
	if w.keep {
		return
	}
	for _, path := range []string{w.DownloadPath(name), w.ExtractDir(name)} {
		if err := os.RemoveAll(path); err != nil {
			w.log.Warn("failed to remove source files", "path", path, "error", err)
		}
	}
}

// Release removes the workspace unless it is configured to be kept.
func (w *Workspace) Release() {
	if w.keep {
		w.log.Info("keeping workspace", "dir", w.Dir)
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		w.log.Warn("failed to remove workspace", "dir", w.Dir, "error", err)
		return
	}
	w.log.Debug("workspace removed", "dir", w.Dir)
}
