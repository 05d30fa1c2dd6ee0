package shell

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Chamoswor/virtualshell/proc"
)

// Config describes the child shell and the engine's default behavior.
type Config struct {
	// ShellPath is the shell executable. Empty means proc.DefaultPath.
	ShellPath string
	// Args overrides the shell's argument list. Nil means proc.DefaultArgs.
	Args []string
	// WorkingDir is the child's working directory. Empty means inherit.
	WorkingDir string
	// Env is appended to the child's environment.
	Env map[string]string
	// DefaultTimeout applies to commands submitted without an explicit
	// timeout. Zero or negative means no deadline.
	DefaultTimeout time.Duration
	// AutoRestartOnTimeout restarts the child after a timeout-driven
	// completion.
	AutoRestartOnTimeout bool
	// InitialCommands run right after startup; their failures are ignored.
	InitialCommands []string
	// RestoreScriptPath and SessionSnapshotPath enable restoring prior
	// session state after startup when both are set. Restore failures are
	// non-fatal.
	RestoreScriptPath   string
	SessionSnapshotPath string
}

// SpawnFunc acquires a fresh channel to a new child process instance.
type SpawnFunc func() (proc.Handle, error)

// Option customizes a Shell.
type Option func(s *Shell)

// WithLogger replaces the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Shell) {
		s.log = l.Named("shell").Sugar()
	}
}

// WithLogLevel raises the engine's log level.
func WithLogLevel(level zapcore.Level) Option {
	return func(s *Shell) {
		s.log = s.log.WithOptions(zap.IncreaseLevel(level))
	}
}

// WithSpawn replaces how child process instances are acquired. Tests use
// this to inject an in-memory channel.
func WithSpawn(f SpawnFunc) Option {
	return func(s *Shell) {
		s.spawn = f
	}
}

func (c Config) procOptions() proc.Options {
	return proc.Options{
		Path: c.ShellPath,
		Args: c.Args,
		Dir:  c.WorkingDir,
		Env:  c.Env,
	}
}
