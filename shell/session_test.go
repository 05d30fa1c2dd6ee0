package shell

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chamoswor/virtualshell/proc"
)

func sessionPaths(t *testing.T) (script, snapshot string) {
	t.Helper()
	dir := t.TempDir()
	script = filepath.Join(dir, "restore.ps1")
	snapshot = filepath.Join(dir, "session.xml")
	require.NoError(t, os.WriteFile(script, []byte("param($Path)\n"), 0o644))
	require.NoError(t, os.WriteFile(snapshot, []byte("<Objs/>"), 0o644))
	return script, snapshot
}

func restoreCommandFor(h *fakeHandle) string {
	for _, b := range h.writtenBodies() {
		if strings.Contains(b, "-Path") {
			return b
		}
	}
	return ""
}

// TestRestoreSessionRunsAtStart: with both paths configured and the snapshot
// present, start dot-sources the restore script with quoted paths.
func TestRestoreSessionRunsAtStart(t *testing.T) {
	script, snapshot := sessionPaths(t)

	h := newFakeHandle()
	cfg := Config{
		RestoreScriptPath:   script,
		SessionSnapshotPath: snapshot,
	}
	sh := newTestShell(t, cfg, h)
	defer sh.Close()

	cmd := restoreCommandFor(h)
	assert.Equal(t, ". '"+script+"' -Path '"+snapshot+"'", cmd)
}

// TestRestoreSessionSkippedWithoutSnapshot: a missing snapshot file means no
// restore command reaches the child.
func TestRestoreSessionSkippedWithoutSnapshot(t *testing.T) {
	script, snapshot := sessionPaths(t)
	require.NoError(t, os.Remove(snapshot))

	h := newFakeHandle()
	cfg := Config{
		RestoreScriptPath:   script,
		SessionSnapshotPath: snapshot,
	}
	sh := newTestShell(t, cfg, h)
	defer sh.Close()

	assert.Empty(t, restoreCommandFor(h))
}

// TestRestoreFailureDoesNotFailStart: a restore the child never answers times
// out, and start still succeeds.
func TestRestoreFailureDoesNotFailStart(t *testing.T) {
	script, snapshot := sessionPaths(t)

	h := newFakeHandle()
	h.setHandler(func(id uint64, body string) {
		if strings.Contains(body, "-Path") {
			return // restore hangs until its timeout
		}
		h.echo(id, "")
	})

	cfg := Config{
		RestoreScriptPath:   script,
		SessionSnapshotPath: snapshot,
		DefaultTimeout:      50 * time.Millisecond,
	}
	sh := New(cfg, WithSpawn(func() (proc.Handle, error) { return h, nil }))
	require.NoError(t, sh.Start())
	t.Cleanup(func() { sh.Close() })

	r := sh.Execute("after restore", time.Second)
	assert.True(t, r.Success)
}

func TestSaveSessionCommand(t *testing.T) {
	h := newFakeHandle()
	sh := newTestShell(t, Config{}, h)

	r := sh.SaveSession("/opt/save.ps1", "/var/lib/vs/it's.xml", 5*time.Second)
	require.True(t, r.Success)

	bodies := h.writtenBodies()
	require.NotEmpty(t, bodies)
	assert.Equal(t, ". '/opt/save.ps1' -Path '/var/lib/vs/it''s.xml'", bodies[len(bodies)-1])
}

func TestNewSnapshotPath(t *testing.T) {
	dir := t.TempDir()
	p1 := NewSnapshotPath(dir)
	p2 := NewSnapshotPath(dir)

	assert.True(t, strings.HasPrefix(p1, filepath.Join(dir, "session_")))
	assert.True(t, strings.HasSuffix(p1, ".xml"))
	assert.NotEqual(t, p1, p2)
}
