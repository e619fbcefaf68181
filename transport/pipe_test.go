package transport_test

import (
	"bytes"
	"github.com/brickingsoft/aiotls/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"sync"
	"testing"
)

type countingWaker struct {
	mu    sync.Mutex
	count int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.count++
	w.mu.Unlock()
}

func (w *countingWaker) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func TestPipe_ReadPendingThenWake(t *testing.T) {
	a, b := transport.Pipe()
	w := &countingWaker{}
	p := make([]byte, 8)

	_, err := b.PollRead(w, p)
	require.ErrorIs(t, err, transport.ErrPending)
	assert.True(t, transport.IsPending(err))
	assert.Equal(t, 0, w.Count())

	n, err := a.PollWrite(transport.NoopWaker, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 1, w.Count())

	n, err = b.PollRead(w, p)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(p[:n]))
}

func TestPipe_MaxWrite(t *testing.T) {
	a, b := transport.Pipe(transport.WithMaxWrite(3))
	n, err := a.PollWrite(transport.NoopWaker, []byte("abcdefg"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, b.Buffered())
}

func TestPipe_ReadChunker(t *testing.T) {
	a, b := transport.Pipe(transport.WithMaxRead(2))
	_, _ = a.PollWrite(transport.NoopWaker, []byte("abcde"))
	p := make([]byte, 8)
	var got []byte
	for len(got) < 5 {
		n, err := b.PollRead(transport.NoopWaker, p)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 2)
		got = append(got, p[:n]...)
	}
	assert.Equal(t, "abcde", string(got))
}

func TestPipe_CapacitySuspendsWriter(t *testing.T) {
	a, b := transport.Pipe(transport.WithCapacity(4))
	w := &countingWaker{}
	n, err := a.PollWrite(w, []byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = a.PollWrite(w, []byte("ef"))
	require.ErrorIs(t, err, transport.ErrPending)

	p := make([]byte, 2)
	_, err = b.PollRead(transport.NoopWaker, p)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Count())

	n, err = a.PollWrite(w, []byte("ef"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPipe_ShutdownDrainsThenEOF(t *testing.T) {
	a, b := transport.Pipe()
	_, _ = a.PollWrite(transport.NoopWaker, []byte("bye"))
	require.NoError(t, a.PollShutdown(transport.NoopWaker))

	_, err := a.PollWrite(transport.NoopWaker, []byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	p := make([]byte, 8)
	n, err := b.PollRead(transport.NoopWaker, p)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(p[:n]))
	_, err = b.PollRead(transport.NoopWaker, p)
	assert.ErrorIs(t, err, io.EOF)

	n, err = b.PollWrite(transport.NoopWaker, []byte("still open"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestPipe_CloseWakesPeer(t *testing.T) {
	a, b := transport.Pipe()
	w := &countingWaker{}
	_, err := b.PollRead(w, make([]byte, 1))
	require.ErrorIs(t, err, transport.ErrPending)
	require.NoError(t, a.Close())
	assert.Equal(t, 1, w.Count())

	_, err = b.PollRead(w, make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	_, err = b.PollWrite(w, []byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestAdaptToReadWriteCloser(t *testing.T) {
	a, b := transport.Pipe(transport.WithCapacity(16), transport.WithMaxWrite(5))
	ra := transport.AdaptToReadWriteCloser(a)
	rb := transport.AdaptToReadWriteCloser(b)

	payload := bytes.Repeat([]byte("0123456789"), 100)
	done := make(chan error, 1)
	go func() {
		_, err := ra.Write(payload)
		if err == nil {
			err = ra.Close()
		}
		done <- err
	}()

	got, err := io.ReadAll(rb)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, payload, got)
}
