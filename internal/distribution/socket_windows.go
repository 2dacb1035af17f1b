//go:build windows

// ABOUTME: UDP socket options on Windows
// ABOUTME: Enables address reuse and broadcast before the socket is bound
package distribution

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func socketControl(broadcast bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
			if sockErr != nil {
				return
			}
			if broadcast {
				sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
