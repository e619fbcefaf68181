//go:build linux

package netpoll

import (
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/brickingsoft/aiotls/transport"
	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

// Conn is a non-blocking socket driven by a Poller. It implements
// transport.Transport.
type Conn struct {
	fd     int
	poller *Poller
	laddr  net.Addr
	raddr  net.Addr

	// held shared around every syscall on fd, exclusively by Close
	fdmu sync.RWMutex

	mu     sync.Mutex
	rseq   uint64
	wseq   uint64
	rwaker transport.Waker
	wwaker transport.Waker
	closed bool
}

// Wrap duplicates the descriptor behind sc and registers the copy. The
// caller keeps ownership of sc and may close it once Wrap returns.
func (p *Poller) Wrap(sc syscall.Conn) (c *Conn, err error) {
	raw, rawErr := sc.SyscallConn()
	if rawErr != nil {
		err = wrapErr("wrap failed", errMetaOpWrap, rawErr)
		return
	}
	fd := -1
	var dupErr error
	ctlErr := raw.Control(func(s uintptr) {
		fd, dupErr = unix.Dup(int(s))
	})
	if ctlErr == nil {
		ctlErr = dupErr
	}
	if ctlErr != nil {
		err = wrapErr("wrap failed", errMetaOpWrap, ctlErr)
		return
	}
	unix.CloseOnExec(fd)
	if nbErr := unix.SetNonblock(fd, true); nbErr != nil {
		_ = unix.Close(fd)
		err = wrapErr("wrap failed", errMetaOpWrap, nbErr)
		return
	}
	c = &Conn{fd: fd, poller: p}
	if nc, ok := sc.(net.Conn); ok {
		c.laddr = nc.LocalAddr()
		c.raddr = nc.RemoteAddr()
	}
	if regErr := p.register(c); regErr != nil {
		_ = unix.Close(fd)
		c = nil
		err = wrapErr("wrap failed", errMetaOpWrap, regErr)
		return
	}
	return
}

// Wrap registers sc with the default poller.
func Wrap(sc syscall.Conn) (*Conn, error) {
	p, err := Default()
	if err != nil {
		return nil, err
	}
	return p.Wrap(sc)
}

func wrapErr(msg string, op string, err error) error {
	return errors.New(
		msg,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
		errors.WithWrap(err),
	)
}

func (c *Conn) ready(events uint32) {
	var rw, ww transport.Waker
	c.mu.Lock()
	if events&readEvents != 0 {
		c.rseq++
		rw, c.rwaker = c.rwaker, nil
	}
	if events&writeEvents != 0 {
		c.wseq++
		ww, c.wwaker = c.wwaker, nil
	}
	c.mu.Unlock()
	if rw != nil {
		rw.Wake()
	}
	if ww != nil {
		ww.Wake()
	}
}

func (c *Conn) pollerClosed() bool {
	c.poller.mu.Lock()
	defer c.poller.mu.Unlock()
	return c.poller.closed
}

func (c *Conn) PollRead(w transport.Waker, p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	for {
		c.fdmu.RLock()
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			c.fdmu.RUnlock()
			err = wrapErr("read failed", errMetaOpRead, net.ErrClosed)
			return
		}
		seq := c.rseq
		c.mu.Unlock()

		n, err = unix.Read(c.fd, p)
		c.fdmu.RUnlock()
		if err == nil {
			if n == 0 {
				err = io.EOF
			}
			return
		}
		n = 0
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if c.pollerClosed() {
				err = wrapErr("read failed", errMetaOpRead, errors.From(ErrPollerClosed))
				return
			}
			c.mu.Lock()
			if c.rseq != seq {
				c.mu.Unlock()
				continue
			}
			c.rwaker = w
			c.mu.Unlock()
			err = transport.ErrPending
			return
		default:
			err = wrapErr("read failed", errMetaOpRead, err)
			return
		}
	}
}

func (c *Conn) PollWrite(w transport.Waker, p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	for {
		c.fdmu.RLock()
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			c.fdmu.RUnlock()
			err = wrapErr("write failed", errMetaOpWrite, net.ErrClosed)
			return
		}
		seq := c.wseq
		c.mu.Unlock()

		n, err = unix.Write(c.fd, p)
		c.fdmu.RUnlock()
		if err == nil {
			return
		}
		n = 0
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if c.pollerClosed() {
				err = wrapErr("write failed", errMetaOpWrite, errors.From(ErrPollerClosed))
				return
			}
			c.mu.Lock()
			if c.wseq != seq {
				c.mu.Unlock()
				continue
			}
			c.wwaker = w
			c.mu.Unlock()
			err = transport.ErrPending
			return
		default:
			err = wrapErr("write failed", errMetaOpWrite, err)
			return
		}
	}
}

// PollFlush has nothing to do: bytes accepted by PollWrite are already in
// the kernel.
func (c *Conn) PollFlush(_ transport.Waker) (err error) {
	return
}

func (c *Conn) PollShutdown(_ transport.Waker) (err error) {
	c.fdmu.RLock()
	defer c.fdmu.RUnlock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		err = wrapErr("shutdown failed", errMetaOpShut, net.ErrClosed)
		return
	}
	if shutErr := unix.Shutdown(c.fd, unix.SHUT_WR); shutErr != nil && shutErr != unix.ENOTCONN {
		err = wrapErr("shutdown failed", errMetaOpShut, shutErr)
	}
	return
}

// Close deregisters and closes the descriptor, waking pending polls. The
// descriptor is closed only after polls already inside a syscall return.
func (c *Conn) Close() (err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	rw, ww := c.rwaker, c.wwaker
	c.rwaker, c.wwaker = nil, nil
	c.mu.Unlock()
	c.poller.deregister(c)
	c.fdmu.Lock()
	closeErr := unix.Close(c.fd)
	c.fdmu.Unlock()
	if closeErr != nil {
		err = wrapErr("close failed", errMetaOpClose, closeErr)
	}
	if rw != nil {
		rw.Wake()
	}
	if ww != nil {
		ww.Wake()
	}
	return
}

func (c *Conn) LocalAddr() net.Addr {
	return c.laddr
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.raddr
}
