//go:build linux

package netpoll_test

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/brickingsoft/aiotls/transport"
	"github.com/brickingsoft/aiotls/transport/netpoll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T, p *netpoll.Poller) (*netpoll.Conn, *netpoll.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	wrap := func(fd int, name string) *netpoll.Conn {
		f := os.NewFile(uintptr(fd), name)
		nc, fileErr := net.FileConn(f)
		require.NoError(t, fileErr)
		_ = f.Close()
		c, wrapErr := p.Wrap(nc.(*net.UnixConn))
		require.NoError(t, wrapErr)
		_ = nc.Close()
		return c
	}
	a := wrap(fds[0], "a")
	b := wrap(fds[1], "b")
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestConn_ReadWakesOnData(t *testing.T) {
	p, err := netpoll.NewPoller()
	require.NoError(t, err)
	defer p.Close()
	a, b := socketPair(t, p)

	woken := make(transport.ChanWaker, 1)
	buf := make([]byte, 16)
	_, err = b.PollRead(woken, buf)
	require.ErrorIs(t, err, transport.ErrPending)

	n, err := a.PollWrite(transport.NoopWaker, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	select {
	case <-woken:
	case <-time.After(5 * time.Second):
		t.Fatal("read waker was not called")
	}
	n, err = b.PollRead(woken, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestConn_StreamAndShutdown(t *testing.T) {
	p, err := netpoll.NewPoller()
	require.NoError(t, err)
	defer p.Close()
	a, b := socketPair(t, p)

	payload := bytes.Repeat([]byte("netpoll!"), 64*1024)
	done := make(chan error, 1)
	go func() {
		w := transport.AdaptToReadWriteCloser(a)
		_, writeErr := w.Write(payload)
		if writeErr == nil {
			writeErr = a.PollShutdown(transport.NoopWaker)
		}
		done <- writeErr
	}()

	got, err := io.ReadAll(transport.AdaptToReadWriteCloser(b))
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, payload, got)
}

func TestConn_Closed(t *testing.T) {
	p, err := netpoll.NewPoller()
	require.NoError(t, err)
	defer p.Close()
	a, _ := socketPair(t, p)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err = a.PollRead(transport.NoopWaker, make([]byte, 1))
	assert.Error(t, err)
	_, err = a.PollWrite(transport.NoopWaker, []byte("x"))
	assert.Error(t, err)
}

func TestConn_CloseDuringPolls(t *testing.T) {
	p, err := netpoll.NewPoller()
	require.NoError(t, err)
	defer p.Close()
	a, _ := socketPair(t, p)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	start := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(read bool) {
			defer wg.Done()
			buf := make([]byte, 4096)
			<-start
			for {
				var pollErr error
				if read {
					_, pollErr = a.PollRead(transport.NoopWaker, buf)
				} else {
					_, pollErr = a.PollWrite(transport.NoopWaker, buf)
				}
				if pollErr != nil && !transport.IsPending(pollErr) {
					errs <- pollErr
					return
				}
			}
		}(i%2 == 0)
	}
	close(start)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Close())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("polls did not observe close")
	}
	close(errs)
	for pollErr := range errs {
		assert.ErrorIs(t, pollErr, net.ErrClosed)
	}
}

func TestDefault(t *testing.T) {
	p1, err := netpoll.Default()
	require.NoError(t, err)
	p2, err := netpoll.Default()
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}
