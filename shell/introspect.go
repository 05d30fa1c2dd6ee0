package shell

import (
	"errors"
	"strings"
	"time"
)

// Version returns the child shell's version string.
func (s *Shell) Version(timeout time.Duration) (string, error) {
	r := s.Execute("$PSVersionTable.PSVersion.ToString()", timeout)
	if !r.Success {
		return "", errors.New(strings.TrimSpace(string(r.Stderr)))
	}
	return strings.TrimSpace(string(r.Stdout)), nil
}

// ListModules returns the names of the modules available to the session.
func (s *Shell) ListModules(timeout time.Duration) ([]string, error) {
	r := s.Execute("Get-Module -ListAvailable | Select-Object -ExpandProperty Name | Sort-Object -Unique", timeout)
	if !r.Success {
		return nil, errors.New(strings.TrimSpace(string(r.Stderr)))
	}
	var names []string
	for _, line := range strings.Split(string(r.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
