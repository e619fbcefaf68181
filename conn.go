package aiotls

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/brickingsoft/aiotls/transport"
)

// Conn is a blocking net.Conn over an Adapter. Callers park on channels
// between polls; every wake from the transport releases all of them and
// each re-polls its own operation.
type Conn struct {
	adapter *Adapter

	rch   transport.ChanWaker
	wch   transport.ChanWaker
	hch   transport.ChanWaker
	cch   transport.ChanWaker
	waker transport.Waker

	rmu sync.Mutex
	wmu sync.Mutex
	hmu sync.Mutex

	rd *deadline
	wd *deadline

	// a write abandoned by its deadline that the engine already consumed
	unflushed bool

	closeOnce sync.Once
	closeErr  error
}

func NewConn(a *Adapter) *Conn {
	c := &Conn{
		adapter: a,
		rch:     make(transport.ChanWaker, 1),
		wch:     make(transport.ChanWaker, 1),
		hch:     make(transport.ChanWaker, 1),
		cch:     make(transport.ChanWaker, 1),
		rd:      newDeadline(),
		wd:      newDeadline(),
	}
	c.waker = transport.WakerFunc(c.broadcast)
	return c
}

func (c *Conn) broadcast() {
	c.rch.Wake()
	c.wch.Wake()
	c.hch.Wake()
	c.cch.Wake()
}

func (c *Conn) Adapter() *Adapter {
	return c.adapter
}

func (c *Conn) ConnectionState() tls.ConnectionState {
	return c.adapter.ConnectionState()
}

func (c *Conn) Handshake() error {
	return c.HandshakeContext(context.Background())
}

func (c *Conn) HandshakeContext(ctx context.Context) (err error) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	for {
		if c.rd.expired() || c.wd.expired() {
			err = os.ErrDeadlineExceeded
			return
		}
		err = c.adapter.PollHandshake(c.waker)
		if !IsPending(err) {
			c.settled(err)
			return
		}
		if err = c.wait(ctx, c.hch, c.rd, c.wd); err != nil {
			return
		}
	}
}

func (c *Conn) Read(b []byte) (int, error) {
	return c.ReadContext(context.Background(), b)
}

func (c *Conn) ReadContext(ctx context.Context, b []byte) (n int, err error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for {
		if c.rd.expired() {
			err = os.ErrDeadlineExceeded
			return
		}
		n, err = c.adapter.PollRead(c.waker, b)
		if !IsPending(err) {
			c.settled(err)
			return
		}
		if err = c.wait(ctx, c.rch, c.rd); err != nil {
			return
		}
	}
}

func (c *Conn) Write(b []byte) (int, error) {
	return c.WriteContext(context.Background(), b)
}

// WriteContext writes all of b. When ctx or the deadline ends the wait
// after the engine already took a chunk, that chunk counts as written and
// the next write first finishes draining it.
func (c *Conn) WriteContext(ctx context.Context, b []byte) (n int, err error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.unflushed {
		if err = c.flush(ctx); err != nil {
			return
		}
		c.unflushed = false
	}
	for n < len(b) {
		if c.wd.expired() {
			err = os.ErrDeadlineExceeded
			return
		}
		chunk := b[n:]
		wn, wErr := c.adapter.PollWrite(c.waker, chunk)
		if IsPending(wErr) {
			if waitErr := c.wait(ctx, c.wch, c.wd); waitErr != nil {
				if c.adapter.writeInFlight() {
					c.unflushed = true
					n += len(chunk)
				}
				err = waitErr
				return
			}
			continue
		}
		n += wn
		if wErr != nil {
			c.settled(wErr)
			err = wErr
			return
		}
	}
	return
}

// Flush blocks until every written byte was accepted by the transport.
func (c *Conn) Flush() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.flush(context.Background()); err != nil {
		return err
	}
	c.unflushed = false
	return nil
}

func (c *Conn) flush(ctx context.Context) (err error) {
	for {
		err = c.adapter.PollFlush(c.waker)
		if !IsPending(err) {
			c.settled(err)
			return
		}
		if err = c.wait(ctx, c.wch, c.wd); err != nil {
			return
		}
	}
}

func (c *Conn) Close() error {
	return c.CloseContext(context.Background())
}

// CloseContext sends close notify and shuts the transport down, then closes
// the transport when it is an io.Closer. Only the first call does work.
func (c *Conn) CloseContext(ctx context.Context) error {
	c.closeOnce.Do(func() {
		failed := c.adapter.terminal() != nil
		var err error
		for {
			err = c.adapter.PollShutdown(c.waker)
			if !IsPending(err) {
				break
			}
			if err = c.wait(ctx, c.cch, nil); err != nil {
				break
			}
		}
		if failed {
			err = nil
		}
		if closer, ok := c.adapter.transport.(io.Closer); ok {
			if closeErr := closer.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		c.adapter.Release()
		c.broadcast()
		c.closeErr = err
	})
	return c.closeErr
}

// settled releases the other parked callers once the adapter is terminal.
func (c *Conn) settled(err error) {
	if err != nil && IsTerminal(err) {
		c.broadcast()
	}
}

func (c *Conn) wait(ctx context.Context, ch transport.ChanWaker, deadlines ...*deadline) error {
	var expired [2]chan struct{}
	for i, d := range deadlines {
		if d != nil {
			expired[i] = d.wait()
		}
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expired[0]:
		return os.ErrDeadlineExceeded
	case <-expired[1]:
		return os.ErrDeadlineExceeded
	}
}

type addressed interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

func (c *Conn) LocalAddr() net.Addr {
	if t, ok := c.adapter.transport.(addressed); ok {
		return t.LocalAddr()
	}
	return adapterAddr(c.adapter.id.String())
}

func (c *Conn) RemoteAddr() net.Addr {
	if t, ok := c.adapter.transport.(addressed); ok {
		return t.RemoteAddr()
	}
	return adapterAddr(c.adapter.id.String())
}

func (c *Conn) SetDeadline(t time.Time) error {
	c.rd.set(t)
	c.wd.set(t)
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.rd.set(t)
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.wd.set(t)
	return nil
}

type adapterAddr string

func (adapterAddr) Network() string { return "aiotls" }

func (a adapterAddr) String() string { return string(a) }

// deadline is closed when its time passes. Setting a new time re-arms it.
type deadline struct {
	mu     sync.Mutex
	timer  *time.Timer
	cancel chan struct{}
}

func newDeadline() *deadline {
	return &deadline{cancel: make(chan struct{})}
}

func (d *deadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil && !d.timer.Stop() {
		<-d.cancel
	}
	d.timer = nil

	closed := isClosedChan(d.cancel)
	if t.IsZero() {
		if closed {
			d.cancel = make(chan struct{})
		}
		return
	}
	if dur := time.Until(t); dur > 0 {
		if closed {
			d.cancel = make(chan struct{})
		}
		cancel := d.cancel
		d.timer = time.AfterFunc(dur, func() {
			close(cancel)
		})
		return
	}
	if !closed {
		close(d.cancel)
	}
}

func (d *deadline) wait() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel
}

func (d *deadline) expired() bool {
	return isClosedChan(d.wait())
}

func isClosedChan(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
