package aiotls

import (
	"io"

	"github.com/brickingsoft/aiotls/security"
)

// bridge is the security.IO of one adapter's session. It only touches the
// two buffers it was built with and never blocks.
type bridge struct {
	rb *readPathBuffer
	wb *writePathBuffer
}

func (b *bridge) Recv(p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	if b.rb.isEmpty() {
		if b.rb.eof {
			err = io.EOF
			return
		}
		err = security.ErrWouldBlock
		return
	}
	n = b.rb.takeUpTo(p)
	return
}

// Send takes every byte. The engine has no notion of a partial send.
func (b *bridge) Send(p []byte) (n int, err error) {
	if err = b.wb.append(p); err != nil {
		return
	}
	n = len(p)
	return
}
