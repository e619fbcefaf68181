package transport

import (
	"github.com/brickingsoft/aiotls/pkg/bytebuffers"
	"io"
	"net"
	"sync"
)

const defaultPipeCapacity = 64 * 1024

type PipeOptions struct {
	Capacity    int
	MaxWrite    int
	ReadChunker func(available int) int
}

type PipeOption func(options *PipeOptions)

// WithCapacity bounds the bytes buffered in each direction. A writer facing
// a full direction is suspended until the reader consumes.
func WithCapacity(n int) PipeOption {
	return func(options *PipeOptions) {
		if n > 0 {
			options.Capacity = n
		}
	}
}

// WithMaxWrite caps the bytes one PollWrite accepts.
func WithMaxWrite(n int) PipeOption {
	return func(options *PipeOptions) {
		if n > 0 {
			options.MaxWrite = n
		}
	}
}

// WithMaxRead caps the bytes one PollRead delivers.
func WithMaxRead(n int) PipeOption {
	return WithReadChunker(func(available int) int {
		return n
	})
}

// WithReadChunker lets the caller decide how many of the available bytes one
// PollRead delivers. Results are clamped to [1, available].
func WithReadChunker(fn func(available int) int) PipeOption {
	return func(options *PipeOptions) {
		options.ReadChunker = fn
	}
}

// Pipe returns two connected in-memory transports. Bytes written on one end
// are read on the other.
func Pipe(options ...PipeOption) (a *PipeEnd, b *PipeEnd) {
	opts := PipeOptions{
		Capacity: defaultPipeCapacity,
	}
	for _, o := range options {
		o(&opts)
	}
	ab := newPipeHalf(opts)
	ba := newPipeHalf(opts)
	a = &PipeEnd{in: ba, out: ab, opts: opts}
	b = &PipeEnd{in: ab, out: ba, opts: opts}
	return
}

type pipeHalf struct {
	mu         sync.Mutex
	buf        bytebuffers.Buffer
	capacity   int
	eof        bool
	broken     bool
	readWaker  Waker
	writeWaker Waker
}

func newPipeHalf(opts PipeOptions) *pipeHalf {
	return &pipeHalf{
		buf:      bytebuffers.NewBuffer(),
		capacity: opts.Capacity,
	}
}

func (h *pipeHalf) takeReadWaker() (w Waker) {
	w = h.readWaker
	h.readWaker = nil
	return
}

func (h *pipeHalf) takeWriteWaker() (w Waker) {
	w = h.writeWaker
	h.writeWaker = nil
	return
}

func wake(w Waker) {
	if w != nil {
		w.Wake()
	}
}

type PipeEnd struct {
	in   *pipeHalf
	out  *pipeHalf
	opts PipeOptions
}

func (end *PipeEnd) PollRead(w Waker, p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	h := end.in
	h.mu.Lock()
	if h.broken {
		h.mu.Unlock()
		err = io.ErrClosedPipe
		return
	}
	available := h.buf.Len()
	if available == 0 {
		if h.eof {
			h.mu.Unlock()
			err = io.EOF
			return
		}
		h.readWaker = w
		h.mu.Unlock()
		err = ErrPending
		return
	}
	limit := len(p)
	if chunker := end.opts.ReadChunker; chunker != nil {
		chunk := chunker(available)
		if chunk < 1 {
			chunk = 1
		}
		if chunk < limit {
			limit = chunk
		}
	}
	n, _ = h.buf.Read(p[:limit])
	writer := h.takeWriteWaker()
	h.mu.Unlock()
	wake(writer)
	return
}

func (end *PipeEnd) PollWrite(w Waker, p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	h := end.out
	h.mu.Lock()
	if h.eof || h.broken {
		h.mu.Unlock()
		err = io.ErrClosedPipe
		return
	}
	space := h.capacity - h.buf.Len()
	if space <= 0 {
		h.writeWaker = w
		h.mu.Unlock()
		err = ErrPending
		return
	}
	limit := len(p)
	if limit > space {
		limit = space
	}
	if maxWrite := end.opts.MaxWrite; maxWrite > 0 && limit > maxWrite {
		limit = maxWrite
	}
	n, err = h.buf.Write(p[:limit])
	reader := h.takeReadWaker()
	h.mu.Unlock()
	wake(reader)
	return
}

func (end *PipeEnd) PollFlush(_ Waker) (err error) {
	return
}

// PollShutdown ends the outbound direction. The peer drains what was written
// and then reads io.EOF.
func (end *PipeEnd) PollShutdown(_ Waker) (err error) {
	h := end.out
	h.mu.Lock()
	h.eof = true
	reader := h.takeReadWaker()
	h.mu.Unlock()
	wake(reader)
	return
}

// Close ends both directions. Pending polls on either end are woken.
func (end *PipeEnd) Close() (err error) {
	_ = end.PollShutdown(nil)
	h := end.in
	h.mu.Lock()
	h.broken = true
	h.buf.Reset()
	writer := h.takeWriteWaker()
	reader := h.takeReadWaker()
	h.mu.Unlock()
	wake(writer)
	wake(reader)
	return
}

// Buffered reports the bytes written by the peer and not yet read.
func (end *PipeEnd) Buffered() (n int) {
	end.in.mu.Lock()
	n = end.in.buf.Len()
	end.in.mu.Unlock()
	return
}

func (end *PipeEnd) LocalAddr() net.Addr {
	return pipeAddr{}
}

func (end *PipeEnd) RemoteAddr() net.Addr {
	return pipeAddr{}
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }

func (pipeAddr) String() string { return "pipe" }
