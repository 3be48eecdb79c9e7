package redis

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Reply is one decoded server reply.
type Reply struct {
	// Type is the RESP prefix byte of the reply.
	Type    byte
	Text    string
	Integer int64
	Bulk    []byte
	Array   []*Reply
	Nil     bool
}

// Accepted reports whether the reply acknowledges a SELECT, AUTH or RPUSH:
// an integer reply or the status OK. Everything else counts as a rejection.
func (r *Reply) Accepted() bool {
	switch r.Type {
	case NumberPrefix:
		return true
	case SingleLinePrefix:
		return r.Text == "OK"
	}
	return false
}

// Err returns the server error carried by a "-" reply, nil otherwise.
func (r *Reply) Err() error {
	if r.Type == ErrorPrefix {
		return ServerError(r.Text)
	}
	return nil
}

func (r *Reply) String() string {
	switch r.Type {
	case SingleLinePrefix, ErrorPrefix:
		return string(r.Type) + r.Text
	case NumberPrefix:
		return ":" + strconv.FormatInt(r.Integer, 10)
	case BulkPrefix:
		if r.Nil {
			return "$-1"
		}
		return "$" + strconv.Quote(string(r.Bulk))
	case ArrayPrefix:
		if r.Nil {
			return "*-1"
		}
		return "*" + strconv.Itoa(len(r.Array))
	}
	return "?"
}

// ReadReply reads exactly one reply from reader. A "-" reply is not a Go error,
// callers inspect Reply.Err. I/O failures are returned unwrapped so deadline
// errors keep their net.Error identity.
func ReadReply(reader *bufio.Reader) (*Reply, error) {
	msg, err := readLine(reader)
	if err != nil {
		return nil, err
	}
	body := string(msg[1 : len(msg)-2])
	switch msg[0] {
	case SingleLinePrefix, ErrorPrefix:
		return &Reply{Type: msg[0], Text: body}, nil
	case NumberPrefix:
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrProtocol, "invalid integer reply %q", body)
		}
		return &Reply{Type: NumberPrefix, Integer: n}, nil
	case BulkPrefix:
		bulk, err := readBulkString(reader, body)
		if err != nil {
			return nil, err
		}
		return &Reply{Type: BulkPrefix, Bulk: bulk, Nil: bulk == nil}, nil
	case ArrayPrefix:
		size, err := strconv.Atoi(body)
		if err != nil || size < -1 || size > maxArrayLength {
			return nil, errors.Wrapf(ErrProtocol, "invalid array length %q", body)
		}
		if size == -1 {
			return &Reply{Type: ArrayPrefix, Nil: true}, nil
		}
		// grow as elements arrive; the header alone is not trusted for allocation
		arr := make([]*Reply, 0, min(size, 64))
		for i := 0; i < size; i++ {
			elem, err := ReadReply(reader)
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return &Reply{Type: ArrayPrefix, Array: arr}, nil
	}
	return nil, errors.Wrapf(ErrProtocol, "unexpected reply %q", msg)
}

/*
Read RESP Bulk string
${len}\r\n{content}\r\n
*/
func readBulkString(reader io.Reader, lengthStr string) ([]byte, error) {
	length, err := strconv.Atoi(lengthStr)
	if err != nil || length < -1 || length > maxBulkLength {
		return nil, errors.Wrapf(ErrProtocol, "invalid bulk length %q", lengthStr)
	}
	// null bulk string
	if length == -1 {
		return nil, nil
	}
	buffer := make([]byte, length+2)
	if _, err = io.ReadFull(reader, buffer); err != nil {
		return nil, err
	}
	if buffer[length] != '\r' || buffer[length+1] != '\n' {
		return nil, errors.Wrap(ErrProtocol, "bulk string not terminated by CRLF")
	}
	return buffer[:length], nil
}

// readLine reads one CRLF terminated line of at most maxLineLength bytes.
func readLine(reader *bufio.Reader) ([]byte, error) {
	var msg []byte
	for {
		frag, err := reader.ReadSlice('\n')
		if len(msg)+len(frag) > maxLineLength {
			return nil, errors.Wrapf(ErrProtocol, "reply line longer than %d bytes", maxLineLength)
		}
		msg = append(msg, frag...)
		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
	if len(msg) < 3 || msg[len(msg)-2] != '\r' {
		return nil, errors.Wrapf(ErrProtocol, "malformed reply line %q", msg)
	}
	return msg, nil
}
