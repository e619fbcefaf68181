//go:build linux

package aiotls

import (
	"context"
	"net"
	"syscall"

	"github.com/brickingsoft/aiotls/security"
	"github.com/brickingsoft/aiotls/transport/netpoll"
	"github.com/brickingsoft/errors"
)

// Dial
// 拨号并在连接上建立 TLS 会话。
//
// 握手在第一次读写时进行，也可以调用 Conn.HandshakeContext 提前完成。
// 对端必须同样使用本包，标准 TLS 服务端会以 unsupported_extension 拒绝握手。
func Dial(ctx context.Context, network string, address string, sc *security.Context, options ...Option) (conn *Conn, err error) {
	dialer := net.Dialer{}
	nc, dialErr := dialer.DialContext(ctx, network, address)
	if dialErr != nil {
		err = errors.New(
			"dial failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpDial),
			errors.WithWrap(dialErr),
		)
		return
	}
	conn, err = WrapNetConn(nc, sc, options...)
	return
}

// WrapNetConn moves nc onto the default netpoll poller and builds a Conn
// over it. nc is closed in every case; the returned Conn owns the socket.
func WrapNetConn(nc net.Conn, sc *security.Context, options ...Option) (conn *Conn, err error) {
	defer nc.Close()
	raw, ok := nc.(syscall.Conn)
	if !ok {
		err = errors.New(
			"connection has no file descriptor",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpWrap),
		)
		return
	}
	t, wrapErr := netpoll.Wrap(raw)
	if wrapErr != nil {
		err = errors.New(
			"wrap failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpWrap),
			errors.WithWrap(wrapErr),
		)
		return
	}
	a, adapterErr := New(sc, t, options...)
	if adapterErr != nil {
		_ = t.Close()
		err = adapterErr
		return
	}
	conn = NewConn(a)
	return
}

// Listener accepts sockets from an inner listener and serves TLS on them.
type Listener struct {
	inner   net.Listener
	sc      *security.Context
	options []Option
}

// Listen
// 监听地址，sc 必须是 security.ServerMethod。
// 只能服务使用本包的客户端，标准 TLS 客户端的握手会失败。
func Listen(network string, address string, sc *security.Context, options ...Option) (ln *Listener, err error) {
	inner, listenErr := net.Listen(network, address)
	if listenErr != nil {
		err = errors.New(
			"listen failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpListen),
			errors.WithWrap(listenErr),
		)
		return
	}
	ln = NewListener(inner, sc, options...)
	return
}

func NewListener(inner net.Listener, sc *security.Context, options ...Option) *Listener {
	return &Listener{inner: inner, sc: sc, options: options}
}

func (ln *Listener) Accept() (net.Conn, error) {
	conn, err := ln.AcceptConn()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (ln *Listener) AcceptConn() (conn *Conn, err error) {
	nc, acceptErr := ln.inner.Accept()
	if acceptErr != nil {
		err = acceptErr
		return
	}
	conn, err = WrapNetConn(nc, ln.sc, ln.options...)
	return
}

func (ln *Listener) Close() error {
	return ln.inner.Close()
}

func (ln *Listener) Addr() net.Addr {
	return ln.inner.Addr()
}
