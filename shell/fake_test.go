package shell

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Chamoswor/virtualshell/proc"
)

// fakeHandle is an in-memory duplex channel standing in for a child process.
// Packets written to it are parsed for their markers and handed to a
// pluggable handler; by default the handler echoes the markers with no
// output, which is what an idle shell does for a no-op command.
type fakeHandle struct {
	mu      sync.Mutex
	handler func(id uint64, body string)
	bodies  []string

	stdout chan []byte
	stderr chan []byte

	closed    chan struct{}
	closeOnce sync.Once

	alive atomic.Bool
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{
		stdout: make(chan []byte, 256),
		stderr: make(chan []byte, 256),
		closed: make(chan struct{}),
	}
	h.alive.Store(true)
	h.handler = func(id uint64, body string) { h.echo(id, "") }
	return h
}

// setHandler replaces the packet handler. A nil handler makes the child
// silent: packets are swallowed and no markers come back.
func (h *fakeHandle) setHandler(f func(id uint64, body string)) {
	h.mu.Lock()
	h.handler = f
	h.mu.Unlock()
}

// echo emits the framed response a well-behaved child produces.
func (h *fakeHandle) echo(id uint64, out string) {
	h.emitStdout(beginMarker(id) + "\n" + out + endMarker(id) + "\n")
}

func (h *fakeHandle) emitStdout(s string) {
	select {
	case h.stdout <- []byte(s):
	case <-h.closed:
	}
}

func (h *fakeHandle) emitStderr(s string) {
	select {
	case h.stderr <- []byte(s):
	case <-h.closed:
	}
}

func (h *fakeHandle) writtenBodies() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.bodies...)
}

func (h *fakeHandle) Write(p []byte) error {
	select {
	case <-h.closed:
		return errors.New("channel closed")
	default:
	}
	if string(p) == "exit\n" {
		h.alive.Store(false)
		return nil
	}
	id, body, ok := parsePacket(p)
	if !ok {
		return nil
	}
	h.mu.Lock()
	h.bodies = append(h.bodies, body)
	handler := h.handler
	h.mu.Unlock()
	if handler != nil {
		handler(id, body)
	}
	return nil
}

func (h *fakeHandle) ReadStdout() ([]byte, error) {
	select {
	case b := <-h.stdout:
		return b, nil
	case <-h.closed:
		return nil, io.EOF
	}
}

func (h *fakeHandle) ReadStderr() ([]byte, error) {
	select {
	case b := <-h.stderr:
		return b, nil
	case <-h.closed:
		return nil, io.EOF
	}
}

func (h *fakeHandle) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

func (h *fakeHandle) Alive() bool { return h.alive.Load() }

func (h *fakeHandle) Terminate() error {
	h.alive.Store(false)
	return nil
}

func (h *fakeHandle) WaitExit(timeout time.Duration) bool {
	return !h.alive.Load()
}

// parsePacket recovers the id and command body from a framed packet.
func parsePacket(p []byte) (uint64, string, bool) {
	s := string(p)
	bi := strings.Index(s, beginMarkerPrefix)
	if bi < 0 {
		return 0, "", false
	}
	rest := s[bi+len(beginMarkerPrefix):]
	mi := strings.Index(rest, markerSuffix)
	if mi < 0 {
		return 0, "", false
	}
	id, err := strconv.ParseUint(rest[:mi], 10, 64)
	if err != nil {
		return 0, "", false
	}

	nl := strings.Index(s, "\n")
	tail := strings.LastIndex(s, "[Console]::Out.WriteLine('"+endMarkerPrefix)
	if nl < 0 || tail < nl {
		return 0, "", false
	}
	body := strings.TrimSuffix(s[nl+1:tail], "\n")
	return id, body, true
}

// newTestShell builds and starts an engine on the fake channel.
func newTestShell(t *testing.T, cfg Config, h *fakeHandle) *Shell {
	t.Helper()
	s := New(cfg, WithSpawn(func() (proc.Handle, error) { return h, nil }))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Close() })
	return s
}

// mustWait asserts the future resolves within a generous bound, keeping a
// wedged engine from hanging the test run.
func mustWait(t *testing.T, fut *Future) ExecutionResult {
	t.Helper()
	r, ok := fut.WaitTimeout(5 * time.Second)
	require.True(t, ok, "future did not resolve in time")
	return r
}
