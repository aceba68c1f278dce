//go:build unix

package speedwire

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl lets several listeners share the telemetry port.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
