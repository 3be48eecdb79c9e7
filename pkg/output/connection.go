package output

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"logship/pkg/redis"
)

// connection is an established socket: authenticated and database selected.
type connection struct {
	conn   net.Conn
	reader *bufio.Reader
}

/*
bind maps ctx onto the socket: its deadline becomes the read/write deadline and
a cancellation forces an immediate one, so a blocked Read or Write returns.
The returned func detaches the cancellation watcher.
*/
func (c *connection) bind(ctx context.Context) (func() bool, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	return context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	}), nil
}

// write loops until data is fully written or the socket reports an error.
func (c *connection) write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := c.conn.Write(data[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

func (c *connection) readReply() (*redis.Reply, error) {
	return redis.ReadReply(c.reader)
}

func (c *connection) close() {
	_ = c.conn.Close()
	c.reader.Reset(nil)
	readerPool.Put(c.reader)
	c.reader = nil
}

/*
connect returns the established connection, creating it when absent:
dial, AUTH when a password is configured, then SELECT. A connection is only
kept once every handshake step was acknowledged; any failure closes the
half-built socket and leaves the output Absent.
*/
func (o *Output) connect(ctx context.Context) (*connection, error) {
	if o.conn != nil {
		return o.conn, nil
	}
	o.setState(Connecting, nil)
	nc, err := o.dial(ctx, "tcp", o.address)
	if err != nil {
		e := newError(ctx, KindConnect, "dial", err)
		o.setState(Absent, e)
		return nil, e
	}
	reader := readerPool.Get().(*bufio.Reader)
	reader.Reset(nc)
	c := &connection{conn: nc, reader: reader}
	o.logger.Info("connected to %s", o.address)

	if err := o.handshake(ctx, c); err != nil {
		c.close()
		o.setState(Absent, err)
		return nil, err
	}
	o.conn = c
	o.setState(Ready, nil)
	o.metrics.Handshakes.Inc()
	return c, nil
}

func (o *Output) handshake(ctx context.Context, c *connection) error {
	stop, err := c.bind(ctx)
	if err != nil {
		return newError(ctx, KindHandshake, "deadline", err)
	}
	defer stop()

	if o.props.Password != "" {
		o.setState(Authenticating, nil)
		if o.props.Debug {
			o.logger.Debug("-> AUTH [REDACTED]")
		}
		if err := o.command(ctx, c, "auth", redis.EncodeAuth(o.props.Password)); err != nil {
			return err
		}
		o.logger.Info("authenticated with %s", o.address)
	}

	o.setState(SelectingDB, nil)
	frame := redis.EncodeSelect(o.props.Database)
	if o.props.Debug {
		o.logger.Debug("-> %q", frame)
	}
	if err := o.command(ctx, c, "select", frame); err != nil {
		return err
	}
	o.logger.Info("selected database %d", o.props.Database)
	return nil
}

// command sends one handshake frame and requires an acknowledging reply.
func (o *Output) command(ctx context.Context, c *connection, op string, frame []byte) error {
	n, err := c.write(frame)
	o.metrics.BytesWritten.Add(float64(n))
	if err != nil {
		return newError(ctx, KindHandshake, op, err)
	}
	reply, err := c.readReply()
	if err != nil {
		return newError(ctx, KindHandshake, op, err)
	}
	if o.props.Debug {
		o.logger.Debug("<- %s", reply)
	}
	if !reply.Accepted() {
		return newError(ctx, KindHandshake, op, rejection(reply))
	}
	return nil
}

// reset discards the connection, if any. Safe to call repeatedly.
func (o *Output) reset(cause error) {
	if o.conn == nil {
		return
	}
	o.conn.close()
	o.conn = nil
	o.setState(Absent, cause)
	o.logger.Info("connection to %s discarded", o.address)
}
