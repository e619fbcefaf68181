package security

import (
	"github.com/brickingsoft/errors"
)

// IO is how a session moves ciphertext. Both calls are made synchronously
// from inside Handshake, Read, Write and Shutdown.
//
// Recv copies up to len(p) bytes of received ciphertext into p. It returns
// ErrWouldBlock when nothing is available and io.EOF once the stream ended.
//
// Send must accept every byte it is given; the session treats a short send
// as fatal. ErrWouldBlock keeps the remainder queued inside the session.
type IO interface {
	Recv(p []byte) (n int, err error)
	Send(p []byte) (n int, err error)
}

var (
	ErrWouldBlock = errors.Define("would block")
)

func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}
