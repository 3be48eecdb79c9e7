//go:build !linux

package output

import (
	"net"
	"time"
)

func newDialer(time.Duration) *net.Dialer {
	return &net.Dialer{}
}
