// Package proc spawns an interactive shell child process and exposes it as a
// duplex byte channel: a writable stdin plus blocking chunk reads from stdout
// and stderr. The engine in package shell is the only intended consumer.
package proc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

const readBufSize = 32768

// Handle is a running child process seen as a raw byte channel.
// ReadStdout and ReadStderr block until data arrives, the pipe is closed, or
// the child exits; they return io.EOF (or a close error) when no more data
// will come. Close unblocks any pending reads.
type Handle interface {
	// Write sends the bytes to the child's stdin in full.
	Write(p []byte) error
	// ReadStdout returns the next chunk of stdout bytes.
	ReadStdout() ([]byte, error)
	// ReadStderr returns the next chunk of stderr bytes.
	ReadStderr() ([]byte, error)
	// Close closes the parent's pipe ends. The child keeps running.
	Close() error
	// Alive reports whether the child process has not yet exited.
	Alive() bool
	// Terminate force-kills the child process.
	Terminate() error
	// WaitExit waits up to timeout for the child to exit. A zero timeout
	// polls without blocking.
	WaitExit(timeout time.Duration) bool
}

// Options configures the child process to spawn.
type Options struct {
	// Path is the shell executable. Defaults to "pwsh".
	Path string
	// Args are the arguments passed to the shell. Defaults to the flags
	// that make pwsh read a script stream from stdin without exiting.
	Args []string
	// Dir is the working directory. Empty means inherit.
	Dir string
	// Env is appended to the parent environment.
	Env map[string]string
}

// DefaultPath is the shell executable used when Options.Path is empty.
const DefaultPath = "pwsh"

// DefaultArgs keep the shell resident and reading commands from stdin.
func DefaultArgs() []string {
	return []string{"-NoProfile", "-NonInteractive", "-NoLogo", "-NoExit", "-Command", "-"}
}

type process struct {
	cmd *exec.Cmd

	stdinMu sync.Mutex
	stdin   *os.File
	stdout  *os.File
	stderr  *os.File

	closeOnce sync.Once
	closeErr  error

	exited chan struct{}
}

// Start spawns the child with pipes wired to all three stdio streams.
func Start(opts Options) (Handle, error) {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}
	args := opts.Args
	if args == nil {
		args = DefaultArgs()
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	// Plumb the pipes by hand instead of using StdinPipe and friends:
	// exec.Cmd.Wait closes its own pipes, which races with our reader loops.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("starting %s: %w", path, err)
	}

	// Close the child's ends in the parent so EOF propagates when the
	// child exits.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	p := &process{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderrR,
		exited: make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		close(p.exited)
	}()

	return p, nil
}

func (p *process) Write(b []byte) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	for len(b) > 0 {
		n, err := p.stdin.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (p *process) ReadStdout() ([]byte, error) {
	return readChunk(p.stdout)
}

func (p *process) ReadStderr() ([]byte, error) {
	return readChunk(p.stderr)
}

func readChunk(f *os.File) ([]byte, error) {
	buf := make([]byte, readBufSize)
	n, err := f.Read(buf)
	if n > 0 {
		return buf[:n], err
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

func (p *process) Close() error {
	p.closeOnce.Do(func() {
		// Closing the files unblocks any reader or writer stuck in a
		// blocking call on them.
		errIn := p.stdin.Close()
		errOut := p.stdout.Close()
		errErr := p.stderr.Close()
		for _, err := range []error{errIn, errOut, errErr} {
			if err != nil {
				p.closeErr = err
				break
			}
		}
	})
	return p.closeErr
}

func (p *process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *process) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *process) WaitExit(timeout time.Duration) bool {
	if timeout <= 0 {
		return !p.Alive()
	}
	select {
	case <-p.exited:
		return true
	case <-time.After(timeout):
		return false
	}
}
