package output

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logship/pkg/config"
	"logship/pkg/redis"
	"logship/pkg/redis/redistest"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(config.Default())
	assert.ErrorIs(t, err, config.ErrMissingKey)
}

// key "logs", bulk 2: the first line is only buffered, the second flushes both
// frames in one write and consumes both replies.
func TestSubmitBatchEndToEnd(t *testing.T) {
	s := redistest.NewServer(t)
	d := &recordingDialer{}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	props := testProps(s)
	props.Bulk = 2
	o := newTestOutput(t, props, WithDialer(d.dial), WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, []byte("a")))
	assert.Equal(t, int32(0), d.dials.Load())
	assert.Empty(t, s.Commands())
	assert.Equal(t, 1, o.Pending())

	require.NoError(t, o.Submit(ctx, []byte("b")))
	assert.Equal(t, 0, o.Pending())
	assert.Equal(t, [][]string{
		{"SELECT", "0"},
		{"RPUSH", "logs", "a"},
		{"RPUSH", "logs", "b"},
	}, s.Commands())
	// one write for SELECT, one for the whole batch
	assert.Equal(t, int32(2), d.writes.Load())
	assert.Equal(t, []string{"a", "b"}, s.List(0, "logs"))
	assert.Equal(t, Ready, o.State())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flushes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handshakes))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pending))
}

func TestSubmitFlushesEveryNth(t *testing.T) {
	for _, bulk := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("bulk=%d", bulk), func(t *testing.T) {
			s := redistest.NewServer(t)
			props := testProps(s)
			props.Bulk = bulk
			m := NewMetrics(nil)
			o := newTestOutput(t, props, WithMetrics(m))

			for i := 1; i <= 3*bulk; i++ {
				require.NoError(t, o.Submit(context.Background(), []byte(fmt.Sprint(i))))
				flushes := testutil.ToFloat64(m.Flushes.WithLabelValues("ok"))
				assert.Equal(t, float64(i/bulk), flushes, "after submit %d", i)
				assert.Equal(t, i%bulk, o.Pending())
			}
			assert.Len(t, s.List(0, "logs"), 3*bulk)
			assert.Equal(t, 1, s.Connections())
		})
	}
}

func TestSubmitPreservesOrder(t *testing.T) {
	s := redistest.NewServer(t)
	props := testProps(s)
	props.Bulk = 4
	o := newTestOutput(t, props)

	var want []string
	for i := 0; i < 12; i++ {
		line := fmt.Sprintf("line-%02d", i)
		want = append(want, line)
		require.NoError(t, o.Submit(context.Background(), []byte(line)))
	}
	assert.Equal(t, want, s.List(0, "logs"))
}

// A rejected reply anywhere in the batch fails it; only the last queued frame
// leaves the queue, so frames the server already applied are pushed again.
func TestSubmitFailureDropsOnlyLastFrame(t *testing.T) {
	s := redistest.NewServer(t)
	s.SetHook(func(args []string) *redistest.Response {
		if args[0] == "RPUSH" && args[2] == "c" {
			return &redistest.Response{Reply: redistest.ErrorReply("ERR wrongtype")}
		}
		return nil
	})
	props := testProps(s)
	props.Bulk = 3
	o := newTestOutput(t, props)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, []byte("a")))
	require.NoError(t, o.Submit(ctx, []byte("b")))
	err := o.Submit(ctx, []byte("c"))
	require.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, 2, o.Pending())
	assert.Equal(t, Absent, o.State())
	assert.Equal(t, []string{"a", "b"}, s.List(0, "logs"))

	s.SetHook(nil)
	require.NoError(t, o.Submit(ctx, []byte("c")))
	assert.Equal(t, 0, o.Pending())
	assert.Equal(t, []string{"a", "b", "a", "b", "c"}, s.List(0, "logs"))
	assert.Equal(t, 2, s.Connections())
}

// The failing reply belongs to the first frame, yet the frame handed back is
// the last one: a and b stay queued and go out again with the next batch.
func TestSubmitFailureOnFirstFramePopsLast(t *testing.T) {
	s := redistest.NewServer(t)
	s.SetHook(func(args []string) *redistest.Response {
		if args[0] == "RPUSH" && args[2] == "a" {
			return &redistest.Response{Reply: redistest.ErrorReply("ERR wrongtype")}
		}
		return nil
	})
	d := &recordingDialer{}
	props := testProps(s)
	props.Bulk = 3
	o := newTestOutput(t, props, WithDialer(d.dial))
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, []byte("a")))
	require.NoError(t, o.Submit(ctx, []byte("b")))
	err := o.Submit(ctx, []byte("c"))
	require.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "reply 1 of 3")

	assert.Equal(t, 2, o.Pending())
	assert.Equal(t, [][]byte{
		redis.EncodeRpush("logs", []byte("a")),
		redis.EncodeRpush("logs", []byte("b")),
	}, o.queue.LeftRange(0, -1))

	s.SetHook(nil)
	require.NoError(t, o.Submit(ctx, []byte("d")))
	assert.Equal(t, 0, o.Pending())
	want := append(append(redis.EncodeRpush("logs", []byte("a")),
		redis.EncodeRpush("logs", []byte("b"))...),
		redis.EncodeRpush("logs", []byte("d"))...)
	assert.Equal(t, want, d.lastPayload())
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestSubmitErrReply(t *testing.T) {
	s := redistest.NewServer(t)
	s.SetHook(failRpush(redistest.ErrorReply("ERR wrongtype")))
	o := newTestOutput(t, testProps(s))

	err := o.Submit(context.Background(), []byte("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.False(t, IsRetryable(err))

	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, KindProtocol, oe.Kind)
	assert.Contains(t, err.Error(), "ERR wrongtype")
	assert.Equal(t, 0, o.Pending())
	assert.Equal(t, Absent, o.State())
}

func TestSubmitUnexpectedStatusReply(t *testing.T) {
	s := redistest.NewServer(t)
	s.SetHook(failRpush(redistest.SingleStringReply("QUEUED")))
	o := newTestOutput(t, testProps(s))

	err := o.Submit(context.Background(), []byte("a"))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestFlushKeepsQueueOnFailure(t *testing.T) {
	s := redistest.NewServer(t)
	s.SetHook(failRpush(redistest.ErrorReply("ERR nope")))
	props := testProps(s)
	props.Bulk = 10
	o := newTestOutput(t, props)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, []byte("a")))
	require.NoError(t, o.Submit(ctx, []byte("b")))
	require.Error(t, o.Flush(ctx))
	assert.Equal(t, 2, o.Pending())

	s.SetHook(nil)
	require.NoError(t, o.Flush(ctx))
	assert.Equal(t, 0, o.Pending())
	assert.Equal(t, []string{"a", "b"}, s.List(0, "logs"))

	// nothing queued, nothing sent
	before := len(s.Commands())
	require.NoError(t, o.Flush(ctx))
	assert.Len(t, s.Commands(), before)
}

func TestClose(t *testing.T) {
	s := redistest.NewServer(t)
	props := testProps(s)
	props.Bulk = 10
	o := newTestOutput(t, props)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, []byte("a")))
	require.NoError(t, o.Submit(ctx, []byte("b")))
	require.NoError(t, o.Close(ctx))
	assert.Equal(t, []string{"a", "b"}, s.List(0, "logs"))
	assert.Equal(t, Absent, o.State())

	assert.ErrorIs(t, o.Submit(ctx, []byte("c")), ErrClosed)
	assert.ErrorIs(t, o.Flush(ctx), ErrClosed)
	assert.NoError(t, o.Close(ctx))
}

func TestCloseReportsUndelivered(t *testing.T) {
	s := redistest.NewServer(t)
	props := testProps(s)
	props.Bulk = 10
	o := newTestOutput(t, props)
	ctx := context.Background()
	require.NoError(t, o.Submit(ctx, []byte("a")))
	require.NoError(t, o.Submit(ctx, []byte("b")))
	s.Close()

	err := o.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
	assert.Contains(t, err.Error(), "2 lines not delivered")
	assert.Equal(t, 0, o.Pending())
}

func TestConcurrentSubmit(t *testing.T) {
	s := redistest.NewServer(t)
	props := testProps(s)
	props.Bulk = 7
	o := newTestOutput(t, props)

	const producers, lines = 4, 50
	errs := make(chan error, producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			for i := 0; i < lines; i++ {
				if err := o.Submit(context.Background(), []byte(fmt.Sprintf("%d-%d", p, i))); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}(p)
	}
	for p := 0; p < producers; p++ {
		require.NoError(t, <-errs)
	}
	require.NoError(t, o.Flush(context.Background()))
	assert.Len(t, s.List(0, "logs"), producers*lines)
}
