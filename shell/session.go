package shell

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// NewSnapshotPath returns a fresh session snapshot file path under dir,
// unique per run.
func NewSnapshotPath(dir string) string {
	return filepath.Join(dir, "session_"+uuid.NewString()+".xml")
}

// SaveSession dot-sources a save script with -Path pointing at snapshotPath.
// The script decides what session state ends up in the snapshot.
func (s *Shell) SaveSession(scriptPath, snapshotPath string, timeout time.Duration) ExecutionResult {
	cmd := ". " + PSQuote(scriptPath) + " -Path " + PSQuote(snapshotPath)
	return s.Execute(cmd, timeout)
}
