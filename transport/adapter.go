package transport

import (
	"io"
)

// AdaptToReadWriteCloser parks the calling goroutine between polls, turning
// a poll transport into a blocking stream.
func AdaptToReadWriteCloser(t Transport) io.ReadWriteCloser {
	return &blockingStream{
		inner: t,
		rch:   make(chan struct{}, 1),
		wch:   make(chan struct{}, 1),
	}
}

// ChanWaker signals a buffered channel without blocking. Wakes delivered
// while nobody waits are coalesced into one.
type ChanWaker chan struct{}

func (ch ChanWaker) Wake() {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type blockingStream struct {
	inner Transport
	rch   ChanWaker
	wch   ChanWaker
}

func (s *blockingStream) Read(b []byte) (n int, err error) {
	if len(b) == 0 {
		return
	}
	for {
		n, err = s.inner.PollRead(s.rch, b)
		if IsPending(err) {
			<-s.rch
			continue
		}
		return
	}
}

func (s *blockingStream) Write(b []byte) (n int, err error) {
	for n < len(b) {
		wn, wErr := s.inner.PollWrite(s.wch, b[n:])
		if IsPending(wErr) {
			<-s.wch
			continue
		}
		n += wn
		if wErr != nil {
			err = wErr
			return
		}
	}
	return
}

func (s *blockingStream) Close() (err error) {
	if closer, ok := s.inner.(io.Closer); ok {
		err = closer.Close()
		return
	}
	for {
		err = s.inner.PollShutdown(s.wch)
		if IsPending(err) {
			<-s.wch
			continue
		}
		return
	}
}
