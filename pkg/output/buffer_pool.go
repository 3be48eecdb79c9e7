package output

import (
	"bufio"
	"bytes"
	"sync"
)

// writeBufferPool holds the buffers a batch is concatenated into before the single write.
var writeBufferPool = sync.Pool{New: func() interface{} {
	return &bytes.Buffer{}
}}

// readerPool holds reply readers; a reader is bound to one connection for its lifetime.
var readerPool = sync.Pool{New: func() interface{} {
	return bufio.NewReader(nil)
}}
