//go:build linux

package output

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// newDialer bounds unacknowledged data on the socket with TCP_USER_TIMEOUT so
// the kernel gives up on a dead peer no later than the operation deadline.
func newDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(timeout.Milliseconds()))
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
