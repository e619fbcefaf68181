//go:build linux

package netpoll

import (
	"sync"
	"unsafe"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

var (
	ErrPollerClosed = errors.Define("poller closed")
)

const (
	errMetaPkgKey   = "pkg"
	errMetaPkgVal   = "netpoll"
	errMetaOpKey    = "op"
	errMetaOpRead   = "read"
	errMetaOpWrite  = "write"
	errMetaOpWrap   = "wrap"
	errMetaOpShut   = "shutdown"
	errMetaOpClose  = "close"
	errMetaOpCreate = "create"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR
	writeEvents = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
)

var (
	defaultPoller     *Poller
	defaultPollerErr  error
	defaultPollerOnce sync.Once
)

// Default returns the process wide poller, starting it on first use.
func Default() (*Poller, error) {
	defaultPollerOnce.Do(func() {
		defaultPoller, defaultPollerErr = NewPoller()
	})
	return defaultPoller, defaultPollerErr
}

// Poller owns one epoll instance and the goroutine waiting on it. Every
// registered descriptor is edge triggered for both directions.
type Poller struct {
	fd     int
	wfd    int
	mu     sync.Mutex
	conns  map[int]*Conn
	closed bool
	done   chan struct{}
}

func NewPoller() (p *Poller, err error) {
	fd, createErr := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if createErr != nil {
		err = errors.New(
			"epoll create failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpCreate),
			errors.WithWrap(createErr),
		)
		return
	}
	wfd, eventErr := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if eventErr != nil {
		_ = unix.Close(fd)
		err = errors.New(
			"eventfd create failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpCreate),
			errors.WithWrap(eventErr),
		)
		return
	}
	if ctlErr := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wfd, &unix.EpollEvent{Fd: int32(wfd), Events: unix.EPOLLIN}); ctlErr != nil {
		_ = unix.Close(wfd)
		_ = unix.Close(fd)
		err = errors.New(
			"eventfd register failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpCreate),
			errors.WithWrap(ctlErr),
		)
		return
	}
	p = &Poller{
		fd:    fd,
		wfd:   wfd,
		conns: make(map[int]*Conn),
		done:  make(chan struct{}),
	}
	go p.wait()
	return
}

func (p *Poller) wakeup() error {
	var x uint64 = 1
	_, err := unix.Write(p.wfd, (*(*[8]byte)(unsafe.Pointer(&x)))[:])
	return err
}

func (p *Poller) wait() {
	defer close(p.done)
	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(p.fd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.failAll(err)
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == p.wfd {
				var data [8]byte
				_, _ = unix.Read(p.wfd, data[:])
				p.mu.Lock()
				closed := p.closed
				p.mu.Unlock()
				if closed {
					return
				}
				continue
			}
			p.mu.Lock()
			c := p.conns[fd]
			p.mu.Unlock()
			if c != nil {
				c.ready(events[i].Events)
			}
		}
	}
}

func (p *Poller) failAll(err error) {
	p.mu.Lock()
	p.closed = true
	conns := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()
	for _, c := range conns {
		c.ready(readEvents | writeEvents)
	}
}

func (p *Poller) register(c *Conn) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		err = errors.From(ErrPollerClosed)
		return
	}
	event := &unix.EpollEvent{
		Fd:     int32(c.fd),
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
	}
	if err = unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, c.fd, event); err != nil {
		return
	}
	p.conns[c.fd] = c
	return
}

func (p *Poller) deregister(c *Conn) {
	p.mu.Lock()
	delete(p.conns, c.fd)
	if !p.closed {
		_ = unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, c.fd, nil)
	}
	p.mu.Unlock()
}

// Close stops the poller goroutine. Registered conns see every later poll
// fail.
func (p *Poller) Close() (err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	if err = p.wakeup(); err == nil {
		<-p.done
	}
	p.failAll(errors.From(ErrPollerClosed))
	_ = unix.Close(p.wfd)
	err = unix.Close(p.fd)
	return
}
