// Package output delivers log lines to a Redis list. Lines are buffered as
// RPUSH frames and written in one pipelined batch once the configured bulk
// size is reached; each batch is a single deadline-bounded exchange over one
// lazily established connection.
package output

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"logship/pkg/config"
	"logship/pkg/datastruct/list"
	"logship/pkg/redis"
	"logship/pkg/util/log"
)

// DialFunc opens the TCP connection to the server.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Option func(*Output)

func WithLogger(l log.Logger) Option {
	return func(o *Output) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Output) { o.metrics = m }
}

func WithDialer(dial DialFunc) Option {
	return func(o *Output) { o.dial = dial }
}

// OnStateChange registers h for every connection state transition. Handlers
// run synchronously with the output locked and must not call back into it.
func OnStateChange(h StateChangeHandler) Option {
	return func(o *Output) { o.state.handlers = append(o.state.handlers, h) }
}

// Output is the Redis list transport. It owns one connection and one pipeline
// queue; Submit, Flush and Close are serialised by a mutex.
type Output struct {
	id      string
	props   config.Properties
	address string
	timeout time.Duration
	logger  log.Logger
	metrics *Metrics
	dial    DialFunc

	mu     sync.Mutex
	conn   *connection
	queue  *list.LinkedList
	state  stateMachine
	closed bool
}

func New(props config.Properties, opts ...Option) (*Output, error) {
	if err := props.Validate(); err != nil {
		return nil, err
	}
	o := &Output{
		id:      uuid.NewString(),
		props:   props,
		address: props.Address(),
		timeout: props.TimeoutDuration(),
		queue:   list.NewLinkedList(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	if o.dial == nil {
		o.dial = newDialer(o.timeout).DialContext
	}
	o.logger = o.logger.WithFields(log.Fields{
		"output":    "redis",
		"output_id": o.id,
		"key":       props.Key,
	})
	return o, nil
}

/*
Submit queues line for delivery. Once the queue holds bulk lines the whole
queue is flushed. A nil return means the line is buffered or delivered; an
error means the flush failed, the most recently queued frame (this line) was
removed again and the caller should present the line once more later. The
other queued frames stay for the next flush.
*/
func (o *Output) Submit(ctx context.Context, line []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.queue.AddRight(redis.EncodeRpush(o.props.Key, line))
	o.metrics.Submitted.Inc()
	defer o.updatePending()
	if o.queue.Size() < o.props.Bulk {
		return nil
	}
	if err := o.flush(ctx); err != nil {
		// The reply that failed may belong to any frame of the batch, yet only
		// the last queued frame is handed back; earlier ones may already be on
		// the server and will be pushed again by the next flush.
		o.queue.RemoveRight()
		o.metrics.Rejected.Inc()
		return err
	}
	o.queue.Clear()
	return nil
}

// Flush sends whatever is queued regardless of the bulk size. A failed
// Flush keeps the whole queue since no caller is waiting on a single line.
func (o *Output) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	return o.flushAll(ctx)
}

// Check establishes the connection if it is absent, running the full
// handshake under the configured timeout. Queued lines are left alone.
func (o *Output) Check(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	_, err := o.connect(ctx)
	return err
}

func (o *Output) flushAll(ctx context.Context) error {
	if o.queue.Size() == 0 {
		return nil
	}
	defer o.updatePending()
	if err := o.flush(ctx); err != nil {
		return err
	}
	o.queue.Clear()
	return nil
}

// Close flushes the remaining queue and drops the connection. Lines that
// could not be delivered are reported in the error. Further calls fail with
// ErrClosed.
func (o *Output) Close(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	err := o.flushAll(ctx)
	lost := o.queue.Size()
	o.reset(nil)
	o.queue.Clear()
	o.updatePending()
	if err != nil {
		o.logger.Errorf("closing with %d undelivered lines: %v", lost, err)
		return fmt.Errorf("%d lines not delivered: %w", lost, err)
	}
	return nil
}

// Pending returns the number of queued, unacknowledged lines.
func (o *Output) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Size()
}

func (o *Output) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.current
}

func (o *Output) setState(s State, cause error) {
	if err := o.state.transition(s, cause); err != nil {
		o.logger.Warn("%v", err)
	}
}

func (o *Output) updatePending() {
	o.metrics.Pending.Set(float64(o.queue.Size()))
}
