// Package net holds small networking helpers for tests that need a real
// listener, such as the agent round-trip tests.
package net

import (
	"fmt"
	"net"
)

// EphemeralTCPPort asks the kernel for a free localhost TCP port and releases
// it again. The port can be handed to a server about to listen; another
// process may grab it in between, which tests accept.
func EphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, fmt.Errorf("resolving localhost:0: %w", err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
