package output

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"

	"logship/pkg/redis"
	"logship/pkg/util/log"
)

/*
flush performs one all-or-nothing exchange for the queued frames. The whole
sequence (connect, handshake, write, one reply per frame) runs under a single
deadline of props.Timeout. Any failure discards the connection so the next
attempt starts with a fresh handshake.
*/
func (o *Output) flush(parent context.Context) (err error) {
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()
	defer func() {
		o.metrics.flushed(err)
		if err != nil {
			o.reset(err)
			o.logger.WithFields(log.Fields{"lines": o.queue.Size()}).Error(err)
		}
	}()

	c, err := o.connect(ctx)
	if err != nil {
		return err
	}
	stop, bindErr := c.bind(ctx)
	if bindErr != nil {
		return newError(ctx, KindWrite, "deadline", bindErr)
	}
	defer stop()

	buf := writeBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer writeBufferPool.Put(buf)
	buf.Grow(o.queue.Bytes())
	o.queue.ForEach(func(_ int, frame []byte) bool {
		buf.Write(frame)
		return true
	})
	if o.props.Debug {
		o.logger.Debug("-> %q", buf.Bytes())
	}

	n, writeErr := c.write(buf.Bytes())
	o.metrics.BytesWritten.Add(float64(n))
	if writeErr != nil {
		return newError(ctx, KindWrite, "write", writeErr)
	}

	count := o.queue.Size()
	for i := 0; i < count; i++ {
		reply, readErr := c.readReply()
		if readErr != nil {
			return newError(ctx, KindProtocol, "read", errors.Wrapf(readErr, "reply %d of %d", i+1, count))
		}
		if o.props.Debug {
			o.logger.Debug("<- %s", reply)
		}
		if !reply.Accepted() {
			return newError(ctx, KindProtocol, "read", errors.Wrapf(rejection(reply), "reply %d of %d", i+1, count))
		}
	}
	return nil
}

// rejection turns a non-acknowledging reply into an error.
func rejection(reply *redis.Reply) error {
	if err := reply.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", redis.ErrProtocol, reply)
}
