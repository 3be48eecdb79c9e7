package redis

const (
	SingleLinePrefix = '+'
	BulkPrefix       = '$'
	ArrayPrefix      = '*'
	ErrorPrefix      = '-'
	NumberPrefix     = ':'
)

const CRLF = "\r\n"

const (
	CommandSelect = "SELECT"
	CommandAuth   = "AUTH"
	CommandRpush  = "RPUSH"
)

// maxBulkLength mirrors the server side proto-max-bulk-len default.
const maxBulkLength = 512 << 20

const (
	// maxArrayLength bounds multi-bulk replies. A list output never expects
	// more than a handful of elements back.
	maxArrayLength = 1 << 20
	// maxLineLength bounds status, error and header lines.
	maxLineLength = 64 << 10
)

var OKReplyBytes = []byte("+OK\r\n")
