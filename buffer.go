package aiotls

import (
	"io"

	"github.com/brickingsoft/aiotls/pkg/bytebuffers"
	"github.com/brickingsoft/aiotls/transport"
)

// readPathBuffer holds ciphertext received from the transport and not yet
// consumed by the engine.
type readPathBuffer struct {
	buf bytebuffers.Buffer
	eof bool
}

func newReadPathBuffer() *readPathBuffer {
	return &readPathBuffer{buf: bytebuffers.Get()}
}

// allocate hands out n bytes at the tail for the transport to read into.
// It must be followed by commit.
func (b *readPathBuffer) allocate(n int) ([]byte, error) {
	return b.buf.Allocate(n)
}

func (b *readPathBuffer) commit(n int) error {
	return b.buf.AllocatedWrote(n)
}

func (b *readPathBuffer) takeUpTo(dst []byte) (n int) {
	if len(dst) == 0 || b.buf.Len() == 0 {
		return
	}
	n, _ = b.buf.Read(dst)
	return
}

func (b *readPathBuffer) isEmpty() bool {
	return b.buf.Len() == 0
}

func (b *readPathBuffer) len() int {
	return b.buf.Len()
}

func (b *readPathBuffer) release() {
	if b.buf == nil {
		return
	}
	bytebuffers.Put(b.buf)
	b.buf = nil
}

// writePathBuffer holds ciphertext produced by the engine and not yet
// accepted by the transport.
type writePathBuffer struct {
	buf bytebuffers.Buffer
}

func newWritePathBuffer() *writePathBuffer {
	return &writePathBuffer{buf: bytebuffers.Get()}
}

func (b *writePathBuffer) append(p []byte) (err error) {
	_, err = b.buf.Write(p)
	return
}

// drainInto offers the head of the buffer to t until it is empty or t
// stops accepting. Accepted bytes are removed even when err is not nil.
func (b *writePathBuffer) drainInto(w transport.Waker, t transport.Transport) (n int, err error) {
	for b.buf.Len() > 0 {
		wn, wErr := t.PollWrite(w, b.buf.Peek(b.buf.Len()))
		if wn > 0 {
			_ = b.buf.Discard(wn)
			n += wn
		}
		if wErr != nil {
			err = wErr
			return
		}
		if wn == 0 {
			err = io.ErrShortWrite
			return
		}
	}
	return
}

func (b *writePathBuffer) remaining() int {
	if b.buf == nil {
		return 0
	}
	return b.buf.Len()
}

func (b *writePathBuffer) release() {
	if b.buf == nil {
		return
	}
	bytebuffers.Put(b.buf)
	b.buf = nil
}
