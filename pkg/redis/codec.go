// Package redis implements the small part of RESP that a list output needs:
// command frames for SELECT, AUTH and RPUSH, and a reader for server replies.
package redis

import (
	"strconv"

	"logship/pkg/util/str"
)

/*
EncodeCommand formats args as a RESP array of bulk strings:

	*<n>\r\n
	$<len>\r\n<arg>\r\n   (once per arg)

Lengths are byte lengths, so multi-byte payloads are framed correctly.
*/
func EncodeCommand(args ...[]byte) []byte {
	size := 1 + digits(len(args)) + 2
	for _, arg := range args {
		size += 1 + digits(len(arg)) + 2 + len(arg) + 2
	}
	frame := make([]byte, 0, size)
	frame = append(frame, ArrayPrefix)
	frame = strconv.AppendInt(frame, int64(len(args)), 10)
	frame = append(frame, CRLF...)
	for _, arg := range args {
		frame = append(frame, BulkPrefix)
		frame = strconv.AppendInt(frame, int64(len(arg)), 10)
		frame = append(frame, CRLF...)
		frame = append(frame, arg...)
		frame = append(frame, CRLF...)
	}
	return frame
}

// Arguments are viewed through str.StringToBytes; EncodeCommand copies them
// into the frame so nothing is written through the views.

// EncodeSelect returns the frame for SELECT <database>.
func EncodeSelect(database int) []byte {
	return EncodeCommand(str.StringToBytes(CommandSelect), strconv.AppendInt(nil, int64(database), 10))
}

// EncodeAuth returns the frame for AUTH <password>.
func EncodeAuth(password string) []byte {
	return EncodeCommand(str.StringToBytes(CommandAuth), str.StringToBytes(password))
}

// EncodeRpush returns the frame for RPUSH <key> <line>. It is called once
// per submitted line.
func EncodeRpush(key string, line []byte) []byte {
	return EncodeCommand(str.StringToBytes(CommandRpush), str.StringToBytes(key), line)
}

func digits(n int) int {
	d := 1
	for n >= 10 {
		n /= 10
		d++
	}
	return d
}
