//go:build !unix

package speedwire

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
