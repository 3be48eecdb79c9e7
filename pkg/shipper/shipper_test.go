package shipper

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logship/pkg/config"
	"logship/pkg/output"
	"logship/pkg/redis/redistest"
	"logship/pkg/util/log"
)

func quickBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

// fakeSink fails the first failures[line] submissions of line.
type fakeSink struct {
	mu       sync.Mutex
	failures map[string]int
	err      error
	accepted []string
	attempts int
	closed   int
	closeErr error
}

func (f *fakeSink) Submit(_ context.Context, line []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if n := f.failures[string(line)]; n > 0 {
		f.failures[string(line)] = n - 1
		return f.err
	}
	f.accepted = append(f.accepted, string(line))
	return nil
}

func (f *fakeSink) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.closeErr
}

func newShipper(sink Sink) *Shipper {
	s := New(sink, log.Discard())
	s.NewBackOff = quickBackOff
	return s
}

func TestRunShipsEveryLineToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	props := config.Default()
	props.Host = mr.Host()
	props.Port, _ = strconv.Atoi(mr.Port())
	props.Password = "secret"
	props.Database = 2
	props.Key = "app:logs"
	props.Bulk = 3
	out, err := output.New(props, output.WithLogger(log.Discard()))
	require.NoError(t, err)

	input := "one\ntwo\n\nthree\nfour\nfive\nsix\nseven\n"
	stats, err := newShipper(out).Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, Stats{Read: 7, Accepted: 7}, stats)

	got, err := mr.DB(2).List("app:logs")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three", "four", "five", "six", "seven"}, got)
	assert.False(t, mr.DB(0).Exists("app:logs"))
	assert.ErrorIs(t, out.Submit(context.Background(), []byte("late")), output.ErrClosed)
}

func TestRunRetriesRejectedLine(t *testing.T) {
	sink := &fakeSink{failures: map[string]int{"b": 2}, err: errors.New("flush failed")}
	stats, err := newShipper(sink).Run(context.Background(), strings.NewReader("a\nb\nc\n"))
	require.NoError(t, err)

	assert.Equal(t, Stats{Read: 3, Accepted: 3, Retried: 2}, stats)
	assert.Equal(t, []string{"a", "b", "c"}, sink.accepted)
	assert.Equal(t, 5, sink.attempts)
	assert.Equal(t, 1, sink.closed)
}

func TestRunRecoversFromServerError(t *testing.T) {
	s := redistest.NewServer(t)
	var once sync.Once
	s.SetHook(func(args []string) *redistest.Response {
		var resp *redistest.Response
		if args[0] == "RPUSH" {
			once.Do(func() {
				resp = &redistest.Response{Reply: redistest.ErrorReply("LOADING Redis is loading the dataset in memory")}
			})
		}
		return resp
	})

	props := config.Default()
	props.Host = s.Host()
	props.Port = s.Port()
	props.Key = "logs"
	out, err := output.New(props, output.WithLogger(log.Discard()))
	require.NoError(t, err)

	stats, err := newShipper(out).Run(context.Background(), strings.NewReader("a\nb\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	assert.Equal(t, []string{"a", "b"}, s.List(0, "logs"))
	assert.Equal(t, 2, s.Connections())
}

func TestRunStopsOnCancel(t *testing.T) {
	sink := &fakeSink{failures: map[string]int{"a": 1 << 30}, err: errors.New("down")}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	stats, err := newShipper(sink).Run(ctx, strings.NewReader("a\nb\n"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, stats.Read)
	assert.Equal(t, 0, stats.Accepted)
	assert.Equal(t, 1, sink.closed)
}

func TestRunGivesUpOnClosedOutput(t *testing.T) {
	sink := &fakeSink{failures: map[string]int{"a": 1}, err: output.ErrClosed}
	stats, err := newShipper(sink).Run(context.Background(), strings.NewReader("a\nb\n"))
	require.ErrorIs(t, err, output.ErrClosed)
	assert.Equal(t, 0, stats.Retried)
	assert.Equal(t, 1, sink.attempts)
}

func TestRunRejectsOversizedLine(t *testing.T) {
	sink := &fakeSink{}
	input := "ok\n" + strings.Repeat("x", maxLineSize+1) + "\n"
	stats, err := newShipper(sink).Run(context.Background(), strings.NewReader(input))
	require.ErrorIs(t, err, bufio.ErrTooLong)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 1, sink.closed)
}

func TestRunReportsCloseFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	sink := &fakeSink{closeErr: errors.New("2 lines not delivered")}
	s := New(sink, log.New(log.LevelError, buf))
	s.NewBackOff = quickBackOff

	stats, err := s.Run(context.Background(), strings.NewReader("a\nb\n"))
	require.ErrorIs(t, err, sink.closeErr)
	assert.Equal(t, 2, stats.Accepted)
	assert.Contains(t, buf.String(), "level=error")
	assert.Contains(t, buf.String(), "close output: 2 lines not delivered")
}
