package bytebuffers

import (
	"errors"
	"io"
	"os"
)

// Buffer is a FIFO byte queue. Bytes are appended at the tail with Write or
// with an Allocate/AllocatedWrote pair, and consumed from the head with
// Read, Next or Discard.
type Buffer interface {
	Len() (n int)
	Cap() (n int)
	Peek(n int) (p []byte)
	Next(n int) (p []byte, err error)
	Discard(n int) (err error)
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Allocate(size int) (p []byte, err error)
	AllocatedWrote(n int) (err error)
	WritePending() bool
	Reset()
}

var (
	pagesize = os.Getpagesize()
)

var (
	ErrTooLarge                  = errors.New("bytebuffers.Buffer: too large")
	ErrWriteBeforeAllocatedWrote = errors.New("bytebuffers: cannot write before AllocatedWrote(), cause prev Allocate() was not finished, please call AllocatedWrote() after the area was wrote")
	ErrAllocateZero              = errors.New("bytebuffers: cannot allocate zero")
	ErrAllocatedWroteOverflow    = errors.New("bytebuffers: wrote more than allocated")
)

const maxInt = int(^uint(0) >> 1)

func NewBuffer() Buffer {
	return NewBufferWithSize(1)
}

func NewBufferWithSize(size int) Buffer {
	if size <= 0 {
		size = 1
	}
	b := &buffer{}
	_ = b.grow(size)
	return b
}

// buffer keeps unread bytes in b[r:w]. b[w:a] is the area handed out by
// Allocate and not yet committed.
type buffer struct {
	b []byte
	r int
	w int
	a int
}

func (buf *buffer) Len() int { return buf.w - buf.r }

func (buf *buffer) Cap() int { return cap(buf.b) }

func (buf *buffer) Peek(n int) (p []byte) {
	bLen := buf.Len()
	if n < 1 || bLen == 0 {
		return
	}
	if bLen > n {
		p = buf.b[buf.r : buf.r+n]
		return
	}
	p = buf.b[buf.r:buf.w]
	return
}

func (buf *buffer) Next(n int) (p []byte, err error) {
	if n < 1 {
		return
	}
	bLen := buf.Len()
	if bLen == 0 && !buf.WritePending() {
		err = io.EOF
		return
	}
	if n > bLen {
		n = bLen
	}
	p = make([]byte, n)
	copy(p, buf.b[buf.r:buf.r+n])
	buf.r += n

	buf.tryReset()
	return
}

func (buf *buffer) Read(p []byte) (n int, err error) {
	bLen := buf.Len()
	if bLen == 0 && !buf.WritePending() {
		buf.Reset()
		err = io.EOF
		return
	}
	if len(p) == 0 {
		return
	}
	n = copy(p, buf.b[buf.r:buf.w])
	buf.r += n

	buf.tryReset()
	return
}

func (buf *buffer) Discard(n int) (err error) {
	if n < 1 {
		return
	}
	bLen := buf.Len()
	if bLen == 0 {
		return
	}
	if n > bLen {
		n = bLen
	}
	buf.r += n

	buf.tryReset()
	return
}

func (buf *buffer) Write(p []byte) (n int, err error) {
	if buf.WritePending() {
		err = ErrWriteBeforeAllocatedWrote
		return
	}
	pLen := len(p)
	if pLen == 0 {
		return
	}
	if err = buf.ensure(pLen); err != nil {
		return
	}
	n = copy(buf.b[buf.w:], p)
	buf.w += n
	buf.a = buf.w
	return
}

func (buf *buffer) WritePending() bool {
	return buf.a != buf.w
}

func (buf *buffer) Allocate(size int) (p []byte, err error) {
	if buf.WritePending() {
		err = ErrWriteBeforeAllocatedWrote
		return
	}
	if size < 1 {
		err = ErrAllocateZero
		return
	}
	if err = buf.ensure(size); err != nil {
		return
	}
	buf.a = buf.w + size
	p = buf.b[buf.w:buf.a]
	return
}

func (buf *buffer) AllocatedWrote(n int) (err error) {
	if buf.a == buf.w {
		return
	}
	if n > buf.a-buf.w {
		buf.a = buf.w
		err = ErrAllocatedWroteOverflow
		return
	}
	buf.w += n
	buf.a = buf.w
	return
}

func (buf *buffer) Reset() {
	buf.r = 0
	buf.w = 0
	buf.a = 0
}

func (buf *buffer) tryReset() {
	if buf.r == buf.w && buf.a == buf.w {
		buf.Reset()
	}
}

// ensure makes room for n more bytes at the tail, shifting unread bytes to
// the front before growing.
func (buf *buffer) ensure(n int) (err error) {
	if buf.w+n <= len(buf.b) {
		return
	}
	if buf.r > 0 {
		copy(buf.b, buf.b[buf.r:buf.w])
		buf.w -= buf.r
		buf.a = buf.w
		buf.r = 0
		if buf.w+n <= len(buf.b) {
			return
		}
	}
	err = buf.grow(buf.w + n - len(buf.b))
	return
}

func (buf *buffer) grow(n int) (err error) {
	if n < 1 {
		return
	}
	if len(buf.b) > maxInt-n-pagesize {
		err = ErrTooLarge
		return
	}
	defer func() {
		if recover() != nil {
			err = ErrTooLarge
		}
	}()
	adjustedSize := (n + pagesize - 1) / pagesize * pagesize
	buf.b = append(buf.b, make([]byte, adjustedSize)...)
	buf.b = buf.b[:cap(buf.b)]
	return
}
