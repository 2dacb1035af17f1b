//go:build !unix && !windows

// ABOUTME: UDP socket options fallback
// ABOUTME: Platforms without socket option support bind with defaults
package distribution

import "syscall"

func socketControl(broadcast bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
