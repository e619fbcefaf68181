package transport

import (
	"github.com/brickingsoft/errors"
)

// Waker is registered with a transport when a poll cannot make progress.
// The transport calls Wake once when the poll is worth retrying.
type Waker interface {
	Wake()
}

type WakerFunc func()

func (f WakerFunc) Wake() {
	f()
}

// NoopWaker is used by callers that poll without intending to wait.
var NoopWaker Waker = WakerFunc(func() {})

var (
	ErrPending = errors.Define("pending")
)

func IsPending(err error) bool {
	return errors.Is(err, ErrPending)
}

// Transport is a non-blocking byte stream following the poll/suspend
// contract: every poll either makes progress, completes, fails, or returns
// ErrPending after registering the waker.
//
// PollRead returns io.EOF once the peer finished writing and every byte was
// consumed. PollWrite may accept fewer bytes than offered but never zero
// without ErrPending or an error.
type Transport interface {
	PollRead(w Waker, p []byte) (n int, err error)
	PollWrite(w Waker, p []byte) (n int, err error)
	PollFlush(w Waker) (err error)
	PollShutdown(w Waker) (err error)
}
