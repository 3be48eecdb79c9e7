// Package shipper feeds newline-delimited log lines from a reader into an
// output, holding each line until the output accepts it.
package shipper

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"logship/pkg/output"
	"logship/pkg/util/log"
)

const (
	maxLineSize         = 1 << 20
	defaultCloseTimeout = 10 * time.Second
)

// Sink is the part of *output.Output the shipper drives.
type Sink interface {
	Submit(ctx context.Context, line []byte) error
	Close(ctx context.Context) error
}

// Stats counts what one Run did. Retried is the number of failed attempts
// that were followed by another try of the same line.
type Stats struct {
	Read     int
	Accepted int
	Retried  int
}

type Shipper struct {
	Output Sink
	Logger log.Logger
	// NewBackOff returns the retry policy for a single line. Defaults to an
	// exponential backoff that never gives up on its own.
	NewBackOff func() backoff.BackOff
	// CloseTimeout bounds the final flush. Defaults to 10s.
	CloseTimeout time.Duration
}

func New(out Sink, logger log.Logger) *Shipper {
	return &Shipper{Output: out, Logger: logger}
}

/*
Run reads r line by line and submits every non-empty line. A line the output
refuses is presented again after a backoff, so input order is kept and no line
is skipped while ctx is alive. When r is exhausted or ctx ends, the output is
closed with a fresh context so the remaining queue still gets its flush.
*/
func (s *Shipper) Run(ctx context.Context, r io.Reader) (stats Stats, err error) {
	logger := s.logger()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.closeTimeout())
		defer cancel()
		if cerr := s.Output.Close(closeCtx); cerr != nil {
			cerr = errors.Wrap(cerr, "close output")
			logger.Error(cerr)
			if err == nil {
				err = cerr
			}
		}
		logger.WithFields(log.Fields{
			"read":     stats.Read,
			"accepted": stats.Accepted,
			"retried":  stats.Retried,
		}).Info("shipper stopped")
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Read++
		if err := s.ship(ctx, line, &stats); err != nil {
			return stats, err
		}
		stats.Accepted++
	}
	if err := scanner.Err(); err != nil {
		// a reader closed on cancellation surfaces here rather than as ctx.Err
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		return stats, errors.Wrap(err, "read input")
	}
	return stats, nil
}

func (s *Shipper) ship(ctx context.Context, line []byte, stats *Stats) error {
	submit := func() error {
		err := s.Output.Submit(ctx, line)
		if errors.Is(err, output.ErrClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		stats.Retried++
		s.logger().Warn("line not accepted, retrying in %s: %v", wait, err)
	}
	return backoff.RetryNotify(submit, backoff.WithContext(s.newBackOff(), ctx), notify)
}

func (s *Shipper) newBackOff() backoff.BackOff {
	if s.NewBackOff != nil {
		return s.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = 30 * time.Second
	return b
}

func (s *Shipper) closeTimeout() time.Duration {
	if s.CloseTimeout > 0 {
		return s.CloseTimeout
	}
	return defaultCloseTimeout
}

func (s *Shipper) logger() log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}
