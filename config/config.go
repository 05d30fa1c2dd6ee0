// Package config loads the optional virtualshell YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Chamoswor/virtualshell/shell"
)

// DefaultTimeout applies when the file sets no per-command timeout.
const DefaultTimeout = 30 * time.Second

// File is the on-disk configuration. All fields are optional; zero values
// fall back to defaults.
type File struct {
	Shell           string            `yaml:"shell"`            // shell executable, e.g. "pwsh"
	WorkingDir      string            `yaml:"working_dir"`      // child working directory
	Env             map[string]string `yaml:"env"`              // extra environment variables
	RawTimeout      string            `yaml:"timeout"`          // e.g. "30s", "5m"
	AutoRestart     *bool             `yaml:"auto_restart"`     // restart child on command timeout
	InitialCommands []string          `yaml:"initial_commands"` // run right after startup
	RestoreScript   string            `yaml:"restore_script"`   // session restore script path
	SessionSnapshot string            `yaml:"session_snapshot"` // session snapshot file path
	LogLevel        string            `yaml:"log_level"`        // debug, info, warn, error
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return Parse(b)
}

// Parse parses YAML configuration bytes.
func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if f.RawTimeout != "" {
		if _, err := time.ParseDuration(f.RawTimeout); err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", f.RawTimeout, err)
		}
	}
	return &f, nil
}

// Timeout returns the configured per-command timeout or the default.
func (f *File) Timeout() time.Duration {
	if f.RawTimeout != "" {
		if d, err := time.ParseDuration(f.RawTimeout); err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

// ShellConfig converts the file into an engine configuration.
func (f *File) ShellConfig() shell.Config {
	cfg := shell.Config{
		ShellPath:            f.Shell,
		WorkingDir:           f.WorkingDir,
		Env:                  f.Env,
		DefaultTimeout:       f.Timeout(),
		AutoRestartOnTimeout: true,
		InitialCommands:      f.InitialCommands,
		RestoreScriptPath:    f.RestoreScript,
		SessionSnapshotPath:  f.SessionSnapshot,
	}
	if f.AutoRestart != nil {
		cfg.AutoRestartOnTimeout = *f.AutoRestart
	}
	return cfg
}
