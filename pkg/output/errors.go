package output

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies why an operation against the server failed.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindHandshake
	KindTimeout
	KindWrite
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindHandshake:
		return "handshake"
	case KindTimeout:
		return "timeout"
	case KindWrite:
		return "write"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrConnect   = errors.New("redis output: connect failed")
	ErrHandshake = errors.New("redis output: handshake failed")
	ErrTimeout   = errors.New("redis output: operation timed out")
	ErrWrite     = errors.New("redis output: write failed")
	ErrProtocol  = errors.New("redis output: unexpected reply")

	ErrClosed = errors.New("redis output: closed")
)

var sentinels = map[Kind]error{
	KindConnect:   ErrConnect,
	KindHandshake: ErrHandshake,
	KindTimeout:   ErrTimeout,
	KindWrite:     ErrWrite,
	KindProtocol:  ErrProtocol,
}

// Error is returned by Submit, Flush and Close when the server could not be
// reached or did not acknowledge every command. The connection has already
// been discarded when the caller sees it.
type Error struct {
	Kind Kind
	// Op is the step that failed: dial, auth, select, write, read.
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("redis output: %s failed during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// IsRetryable reports whether err is a transient network condition. Handshake
// and protocol errors usually need operator attention (bad password, wrong key
// type) even though the output will try again on the next flush.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindConnect, KindTimeout, KindWrite:
		return true
	}
	return false
}

func newError(ctx context.Context, kind Kind, op string, err error) *Error {
	if isTimeout(ctx, err) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// isTimeout: a deadline hit on the socket or an expired/cancelled operation context.
func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
