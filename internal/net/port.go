// Package net has small networking helpers for the agent and its tests.
package net

import (
	"fmt"
	"net"
)

// EphemeralAddr reserves an ephemeral TCP port on loopback and returns the
// host:port string. The port is released before returning, so a tiny window
// exists where another process could grab it; fine for tests, do not rely on
// it for anything contended.
func EphemeralAddr() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
