package config

import (
	"os"
	"path/filepath"
)

// DefaultFileName is the configuration file Discover searches for.
const DefaultFileName = "virtualshell.yaml"

// Discover walks from dir up to the filesystem root looking for the default
// configuration file. It returns the empty string when no file is found.
// Directories that cannot be read are skipped.
func Discover(dir string) string {
	curDir := dir
	for {
		candidate := filepath.Join(curDir, DefaultFileName)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return ""
		}
		curDir = newDir
	}
}
