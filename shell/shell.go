package shell

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Chamoswor/virtualshell/proc"
)

const (
	warmUpCommand   = "$null | Out-Null"
	warmUpTimeout   = 5 * time.Second
	exitCommand     = "exit\n"
	stopChildWait   = 5 * time.Second
	restoreFallback = 5 * time.Second
)

// Shell is the command execution engine for one child process. All methods
// are safe for concurrent use. Stop must not be called from a completion
// callback; it joins the engine's own goroutines.
type Shell struct {
	cfg   Config
	log   *zap.SugaredLogger
	spawn SpawnFunc

	// lifeMu serializes Start, Stop and restart.
	lifeMu sync.Mutex

	running    atomic.Bool
	ioActive   atomic.Bool
	gate       atomic.Bool // lifecycle gate: restart in progress
	restarting atomic.Bool // diagnostic

	seq       atomic.Uint64
	inflightN atomic.Int32
	highWater atomic.Int32

	// pendingSentinels counts forced-timeout sentinels the stderr parser
	// should swallow because the watchdog already completed the command.
	pendingSentinels atomic.Int32

	// stateMu guards the correlation table: table, order, and every
	// cmdState buffer of a command still in the table.
	stateMu sync.Mutex
	table   map[uint64]*cmdState
	order   []uint64

	// writeMu guards the outbound packet queue. Never held together with
	// stateMu.
	writeMu   sync.Mutex
	writeCond *sync.Cond
	writeQ    [][]byte

	// handleMu guards handle, which is written by the lifecycle controller
	// and read by concurrent IsAlive polls.
	handleMu sync.Mutex
	handle   proc.Handle

	ioWG         sync.WaitGroup
	watchdogStop chan struct{}
	watchdogDone chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates an engine for the given configuration. Call Start before
// submitting commands.
func New(cfg Config, opts ...Option) *Shell {
	s := &Shell{
		cfg:    cfg,
		table:  make(map[uint64]*cmdState),
		closed: make(chan struct{}),
	}
	s.log = zap.NewNop().Sugar()
	s.writeCond = sync.NewCond(&s.writeMu)
	s.spawn = func() (proc.Handle, error) {
		return proc.Start(cfg.procOptions())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start acquires a fresh child process, spawns the writer, reader and
// watchdog goroutines, and runs the warm-up, initialization and session
// restore steps. Warm-up, init and restore failures are non-fatal.
func (s *Shell) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.startLocked()
}

func (s *Shell) startLocked() error {
	if s.running.Load() {
		return errors.New("shell already started")
	}

	s.log.Debugf("start shell=%q", s.cfg.ShellPath)

	h, err := s.spawn()
	if err != nil {
		return fmt.Errorf("spawning child: %w", err)
	}
	s.setHandle(h)
	s.pendingSentinels.Store(0)

	s.running.Store(true)
	s.ioActive.Store(true)

	s.ioWG.Add(3)
	go s.writerLoop(h)
	go s.readerLoop(h, false)
	go s.readerLoop(h, true)

	s.watchdogStop = make(chan struct{})
	s.watchdogDone = make(chan struct{})
	go s.watchdogLoop(s.watchdogStop, s.watchdogDone)

	// Prime the pipeline and validate the basic command path. These all
	// bypass the lifecycle gate: start may be running inside a restart.
	_ = s.executeBypass(warmUpCommand, warmUpTimeout)
	s.runInitialCommands()
	s.restoreSession()

	s.restarting.Store(false)
	return nil
}

// executeBypass is Execute for the lifecycle controller's own commands,
// which must pass the restart gate.
func (s *Shell) executeBypass(command string, timeout time.Duration) ExecutionResult {
	fut := s.submit(command, timeout, nil, true)
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		return fut.Wait()
	}
	if r, ok := fut.WaitTimeout(timeout); ok {
		return r
	}
	return failedResult(ExitFailed, errTimeout)
}

func (s *Shell) runInitialCommands() {
	if len(s.cfg.InitialCommands) == 0 {
		return
	}
	r := s.executeBypass(joinCommands(s.cfg.InitialCommands), s.cfg.DefaultTimeout)
	if !r.Success {
		s.log.Debugf("initial commands failed: %s", r.Stderr)
	}
}

func (s *Shell) restoreSession() {
	if s.cfg.RestoreScriptPath == "" || s.cfg.SessionSnapshotPath == "" {
		return
	}
	if _, err := os.Stat(s.cfg.SessionSnapshotPath); err != nil {
		s.log.Debugf("session snapshot unavailable: %s", err)
		return
	}
	cmd := ". " + PSQuote(s.cfg.RestoreScriptPath) + " -Path " + PSQuote(s.cfg.SessionSnapshotPath)
	timeout := s.cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = restoreFallback
	}
	// Bypass the lifecycle gate: restore runs while a restart is still in
	// progress.
	r := s.submit(cmd, timeout, nil, true).Wait()
	if !r.Success {
		s.log.Debugf("session restore failed exit=%d err=%q", r.ExitCode, r.Stderr)
	} else {
		s.log.Debug("session restore succeeded")
	}
}

// Submit registers the command and queues its packet for the writer. The
// returned Future resolves exactly once. A zero or negative timeout uses the
// configured default. Submissions fail fast with a ready Future while the
// engine is stopped or restarting.
func (s *Shell) Submit(command string, timeout time.Duration, cb func(ExecutionResult)) *Future {
	return s.submit(command, timeout, cb, false)
}

func (s *Shell) submit(command string, timeout time.Duration, cb func(ExecutionResult), bypassGate bool) *Future {
	if s.gate.Load() && !bypassGate {
		return readyFuture(failedResult(ExitRestarting, errRestarting))
	}
	if !s.running.Load() {
		return readyFuture(failedResult(ExitNotRunning, errNotRunning))
	}

	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	id := s.seq.Add(1)
	st := newCmdState(id, timeout)
	st.cb = cb

	// Register before enqueueing the packet so the demultiplexer can never
	// observe output for an unregistered id.
	s.stateMu.Lock()
	s.table[id] = st
	s.order = append(s.order, id)
	s.stateMu.Unlock()

	now := s.inflightN.Add(1)
	for {
		hw := s.highWater.Load()
		if now <= hw || s.highWater.CompareAndSwap(hw, now) {
			break
		}
	}

	pkt := buildPacket(id, command)
	s.writeMu.Lock()
	s.writeQ = append(s.writeQ, pkt)
	s.writeMu.Unlock()
	s.writeCond.Signal()

	s.log.Debugf("submitted id=%d bytes=%d", id, len(pkt))
	return st.fut
}

// Execute submits the command and blocks up to its timeout for the result.
// If the local wait expires, a synthetic timeout result is returned; the
// engine keeps tracking the command and its watchdog still owns its fate.
func (s *Shell) Execute(command string, timeout time.Duration) ExecutionResult {
	fut := s.Submit(command, timeout, nil)
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		return fut.Wait()
	}
	if r, ok := fut.WaitTimeout(timeout); ok {
		return r
	}
	return failedResult(ExitFailed, errTimeout)
}

// IsAlive reports whether the engine is running and the child process has
// not exited.
func (s *Shell) IsAlive() bool {
	if !s.running.Load() {
		return false
	}
	h := s.currentHandle()
	return h != nil && h.Alive()
}

func (s *Shell) currentHandle() proc.Handle {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	return s.handle
}

func (s *Shell) setHandle(h proc.Handle) {
	s.handleMu.Lock()
	s.handle = h
	s.handleMu.Unlock()
}

// IsRestarting reports whether a timeout-driven restart is in progress.
func (s *Shell) IsRestarting() bool { return s.restarting.Load() }

// InflightHighWater returns the diagnostic high-water mark of concurrently
// in-flight commands.
func (s *Shell) InflightHighWater() int { return int(s.highWater.Load()) }

// Stop shuts the engine down: it signals the loops, attempts a polite exit,
// closes the channel, joins all goroutines, fails every in-flight command
// with a stopped error, clears the queues and waits for the child to exit,
// force-terminating it if force is set. Stop is idempotent.
func (s *Shell) Stop(force bool) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopLocked(force)
}

func (s *Shell) stopLocked(force bool) {
	if !s.running.Load() {
		s.gate.Store(false)
		return
	}
	s.gate.Store(true)
	s.log.Debugf("stop force=%v", force)

	h := s.currentHandle()

	// Signal the loops and wake the writer off its empty-queue wait.
	s.ioActive.Store(false)
	s.writeCond.Broadcast()

	// Best effort: ask the shell to exit cleanly while stdin is open.
	if h != nil {
		_ = h.Write([]byte(exitCommand))
		// Break any blocking reads so the reader loops can observe the
		// stop signal.
		_ = h.Close()
	}

	s.ioWG.Wait()

	s.running.Store(false)

	close(s.watchdogStop)
	<-s.watchdogDone

	// Fail every still-open command. Completion happens outside the lock;
	// callbacks may submit (and will fail fast on the cleared running flag).
	s.stateMu.Lock()
	pending := make([]*cmdState, 0, len(s.table))
	for _, id := range s.order {
		if st, ok := s.table[id]; ok {
			pending = append(pending, st)
		}
	}
	s.table = make(map[uint64]*cmdState)
	s.order = nil
	s.stateMu.Unlock()

	for _, st := range pending {
		st.errBuf = append(st.errBuf, errStopped+"\n"...)
		s.finish(st, false)
	}

	s.writeMu.Lock()
	s.writeQ = nil
	s.writeMu.Unlock()

	if h != nil {
		wait := stopChildWait
		if force {
			wait = 0
		}
		if !h.WaitExit(wait) && force {
			if err := h.Terminate(); err != nil {
				s.log.Debugf("terminating child: %s", err)
			}
			h.WaitExit(stopChildWait)
		}
	}
	s.setHandle(nil)

	s.gate.Store(false)
}

// Close stops the engine and permanently disables restarts. After Close the
// engine cannot be resurrected by a pending restart task.
func (s *Shell) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	s.Stop(true)
}

// finish completes a command exactly once: it computes the result, fulfills
// the slot and invokes the optional callback, recovering any panic so a
// misbehaving callback cannot corrupt engine state. Callers must have
// removed st from the correlation table first.
func (s *Shell) finish(st *cmdState, parseOK bool) {
	if !st.done.CompareAndSwap(false, true) {
		return
	}
	s.inflightN.Add(-1)

	r := ExecutionResult{
		Success: parseOK && !st.timedOut.Load(),
		Stdout:  st.outBuf,
		Stderr:  st.errBuf,
		Elapsed: time.Since(st.start).Seconds(),
	}
	if r.Success {
		r.ExitCode = ExitOK
	} else {
		r.ExitCode = ExitFailed
	}

	s.log.Debugf("complete id=%d success=%v timedOut=%v out=%d err=%d",
		st.id, r.Success, st.timedOut.Load(), len(r.Stdout), len(r.Stderr))

	st.fut.fulfill(r)
	s.invokeCallback(st, r)
}

// fulfillTimeout completes an expired command with a timeout error and, when
// configured, schedules the automatic restart. expectSentinel is true on the
// watchdog path: the child may still echo the forced-timeout sentinel later,
// which the stderr parser must then swallow instead of force-completing an
// unrelated command.
func (s *Shell) fulfillTimeout(st *cmdState, expectSentinel bool) {
	if st == nil {
		return
	}
	if !st.done.CompareAndSwap(false, true) {
		return
	}
	s.inflightN.Add(-1)
	if expectSentinel {
		s.pendingSentinels.Add(1)
	}

	r := ExecutionResult{
		Success:  false,
		ExitCode: ExitFailed,
		Elapsed:  time.Since(st.start).Seconds(),
	}
	if len(st.errBuf) > 0 {
		r.Stderr = st.errBuf
	} else {
		r.Stderr = []byte(errTimeout)
	}

	s.log.Debugf("timeout id=%d", st.id)

	if s.cfg.AutoRestartOnTimeout {
		s.restarting.Store(true)
		s.requestRestartAsync(true)
	}

	st.fut.fulfill(r)
	s.invokeCallback(st, r)
}

func (s *Shell) invokeCallback(st *cmdState, r ExecutionResult) {
	if st.cb == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			s.log.Debugf("completion callback panicked: %v", p)
		}
	}()
	st.cb(r)
}

// requestRestartAsync schedules a stop+start cycle on a detached goroutine.
// The lifecycle gate makes concurrent requests collapse into one, and the
// closed channel keeps a destroyed engine from being resurrected. A failed
// restart leaves the engine stopped; it is reported only through logs.
func (s *Shell) requestRestartAsync(force bool) {
	select {
	case <-s.closed:
		return
	default:
	}
	if !s.gate.CompareAndSwap(false, true) {
		s.log.Debug("restart already pending")
		return
	}

	go func() {
		defer s.gate.Store(false)

		select {
		case <-s.closed:
			return
		default:
		}

		s.lifeMu.Lock()
		defer s.lifeMu.Unlock()

		s.stopLocked(force)
		s.gate.Store(true) // stop cleared it; keep gating through start

		select {
		case <-s.closed:
			return
		default:
		}

		if err := s.startLocked(); err != nil {
			s.log.Debugf("restart failed: %s", err)
		}
	}()
}

// joinCommands merges a batch into one unit: each non-empty command on its
// own newline-terminated line.
func joinCommands(commands []string) string {
	var b strings.Builder
	for _, c := range commands {
		if c == "" {
			continue
		}
		b.WriteString(c)
		b.WriteByte('\n')
	}
	return b.String()
}
