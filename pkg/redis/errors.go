package redis

import (
	"errors"
	"strings"
)

// ErrProtocol is returned when the byte stream does not parse as RESP.
var ErrProtocol = errors.New("protocol error")

// ServerError is the text of a "-" reply, e.g. "ERR wrong number of arguments".
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

// Prefix returns the error class, the first word of the reply ("ERR", "WRONGTYPE", "NOAUTH").
func (e ServerError) Prefix() string {
	s := string(e)
	if idx := strings.IndexByte(s, ' '); idx > 0 {
		return s[:idx]
	}
	return s
}
