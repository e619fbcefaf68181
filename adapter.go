package aiotls

import (
	"crypto/tls"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/brickingsoft/aiotls/pkg/metrics"
	"github.com/brickingsoft/aiotls/security"
	"github.com/brickingsoft/aiotls/transport"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	opHandshake = "handshake"
	opRead      = "read"
	opWrite     = "write"
	opFlush     = "flush"
	opShutdown  = "shutdown"
)

type pendingWrite struct {
	n int
}

// Adapter runs a security.Session over a poll/suspend transport.
//
// Every poll either completes, fails, or returns ErrPending after the
// waker was registered with the transport. Polls are serialized; a waker
// fired by a transport while a poll of this adapter is running is held
// back until that poll returns.
type Adapter struct {
	id      uuid.UUID
	log     zerolog.Logger
	metrics *metrics.Collector
	exec    rxp.Executors
	chunk   int

	mu        sync.Mutex
	inEngine  bool
	session   *security.Session
	transport transport.Transport
	rb        *readPathBuffer
	wb        *writePathBuffer
	pending   *pendingWrite
	state     tls.ConnectionState
	readEOF   bool
	notified  bool
	closed    bool
	released  bool
	err       error

	handshaked atomic.Bool
	rstate     atomic.Int32
	wstate     atomic.Int32

	wakeMu     sync.Mutex
	stepping   bool
	deferred   []transport.Waker
	readWaker  transport.Waker
	writeWaker transport.Waker
}

// New creates an adapter with a fresh session from sc. The adapter owns
// the session and its buffers; t is borrowed.
func New(sc *security.Context, t transport.Transport, options ...Option) (a *Adapter, err error) {
	if sc == nil || t == nil {
		err = errors.New(
			"context and transport are required",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		)
		return
	}
	opts := Options{
		Logger:        zerolog.Nop(),
		ReadChunkSize: DefaultReadChunkSize,
	}
	for _, o := range options {
		if err = o(&opts); err != nil {
			return
		}
	}
	session, sessionErr := sc.NewSession()
	if sessionErr != nil {
		err = errors.New(
			"create session failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithWrap(sessionErr),
		)
		return
	}
	a = &Adapter{
		id:        uuid.New(),
		metrics:   opts.Metrics,
		exec:      opts.Executors,
		chunk:     opts.ReadChunkSize,
		session:   session,
		transport: t,
		rb:        newReadPathBuffer(),
		wb:        newWritePathBuffer(),
	}
	a.log = opts.Logger.With().
		Str("adapter", a.id.String()).
		Str("role", sc.Method().String()).
		Logger()
	session.SetIO(&bridge{rb: a.rb, wb: a.wb})
	a.log.Debug().Msg("adapter created")
	return
}

func (a *Adapter) ID() uuid.UUID {
	return a.id
}

func (a *Adapter) HandshakeComplete() bool {
	return a.handshaked.Load()
}

// ConnectionState is the negotiated state, zero until the handshake completed.
func (a *Adapter) ConnectionState() tls.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) ReadState() State {
	return State(a.rstate.Load())
}

func (a *Adapter) WriteState() State {
	return State(a.wstate.Load())
}

// PollHandshake drives the handshake. Handshake records are written out
// before the adapter waits for the peer.
func (a *Adapter) PollHandshake(w transport.Waker) (err error) {
	a.lock()
	defer a.unlock()
	if err = a.usable(opHandshake); err != nil {
		return
	}
	if a.handshaked.Load() {
		err = a.drain(w, opHandshake)
		return
	}
	err = a.handshake(w, opHandshake)
	return
}

// PollRead fills dst with plaintext, completing the handshake first. It
// returns io.EOF once the peer closed the session.
func (a *Adapter) PollRead(w transport.Waker, dst []byte) (n int, err error) {
	a.lock()
	defer a.unlock()
	if err = a.usable(opRead); err != nil {
		return
	}
	if len(dst) == 0 {
		return
	}
	if a.readEOF {
		err = io.EOF
		return
	}
	if !a.handshaked.Load() {
		if err = a.handshake(w, opRead); err != nil {
			return
		}
	}
	for {
		if !a.readReady() {
			if err = a.readTransport(w, opRead); err != nil {
				return
			}
		}
		a.rstate.Store(int32(StateDecryptingRecord))
		var engineErr error
		n, engineErr = a.engineRead(dst)
		if n > 0 {
			a.metrics.PlaintextIn(n)
			a.rstate.Store(int32(StateIdle))
			return
		}
		switch {
		case engineErr == nil:
			a.rstate.Store(int32(StateIdle))
			return
		case IsContract(engineErr):
			err = engineErr
			return
		case stderrors.Is(engineErr, io.EOF):
			a.readEOF = true
			a.rstate.Store(int32(StateIdle))
			if a.session.PeerClosed() {
				a.log.Debug().Msg("peer closed")
			} else {
				a.log.Debug().Msg("transport closed without close notify")
			}
			err = io.EOF
			return
		case security.IsWantRead(engineErr):
			if err = a.readTransport(w, opRead); err != nil {
				return
			}
		case security.IsWantWrite(engineErr):
			if err = a.drain(w, opRead); err != nil {
				return
			}
		default:
			err = a.engineFailed(opRead, engineErr)
			return
		}
	}
}

// PollWrite encrypts src and writes the ciphertext out. Only one write is
// in flight: once src was handed to the engine, ErrPending means the
// ciphertext is still draining and the caller must retry with a slice of
// the same length, or an empty one, until the write completes. The
// same-length retry reports len(src), the empty retry reports 0.
func (a *Adapter) PollWrite(w transport.Waker, src []byte) (n int, err error) {
	a.lock()
	defer a.unlock()
	if err = a.usable(opWrite); err != nil {
		return
	}
	if a.pending != nil {
		if len(src) != 0 && len(src) != a.pending.n {
			err = opError(opWrite, KindContract, ErrWriteInProgress)
			return
		}
		if err = a.drain(w, opWrite); err != nil {
			return
		}
		if len(src) != 0 {
			n = a.pending.n
		}
		a.pending = nil
		return
	}
	if len(src) == 0 {
		err = a.drain(w, opWrite)
		return
	}
	if !a.handshaked.Load() {
		if err = a.handshake(w, opWrite); err != nil {
			return
		}
	}
	if err = a.drain(w, opWrite); err != nil {
		return
	}
	a.wstate.Store(int32(StateEncryptingRecord))
	wn, engineErr := a.engineWrite(src)
	if engineErr != nil && !security.IsTransient(engineErr) {
		if IsContract(engineErr) {
			err = engineErr
			return
		}
		err = a.engineFailed(opWrite, engineErr)
		return
	}
	a.metrics.PlaintextOut(wn)
	a.pending = &pendingWrite{n: wn}
	if err = a.drain(w, opWrite); err != nil {
		return
	}
	a.pending = nil
	n = wn
	return
}

// PollFlush drains every queued record and flushes the transport. A write
// still in flight is complete once PollFlush returns nil.
func (a *Adapter) PollFlush(w transport.Waker) (err error) {
	a.lock()
	defer a.unlock()
	if err = a.usable(opFlush); err != nil {
		return
	}
	if err = a.drain(w, opFlush); err != nil {
		return
	}
	a.pending = nil
	if flushErr := a.transport.PollFlush(a.waker(w, false)); flushErr != nil {
		if transport.IsPending(flushErr) {
			a.suspended(opFlush)
			err = flushErr
			return
		}
		err = a.fail(opFlush, KindTransport, flushErr)
	}
	return
}

// PollShutdown sends close notify, drains it, then flushes and shuts the
// transport down. The adapter is Closed only after all of that succeeded.
func (a *Adapter) PollShutdown(w transport.Waker) (err error) {
	a.lock()
	defer a.unlock()
	if err = a.usable(opShutdown); err != nil {
		return
	}
	a.wstate.Store(int32(StateShuttingDown))
	if !a.notified {
		engineErr := a.engineShutdown()
		if engineErr != nil && !security.IsTransient(engineErr) {
			if IsContract(engineErr) {
				err = engineErr
				return
			}
			err = a.engineFailed(opShutdown, engineErr)
			return
		}
		a.notified = true
		a.pending = nil
	}
	if err = a.drain(w, opShutdown); err != nil {
		return
	}
	a.wstate.Store(int32(StateShuttingDown))
	tw := a.waker(w, false)
	if flushErr := a.transport.PollFlush(tw); flushErr != nil {
		if transport.IsPending(flushErr) {
			a.suspended(opShutdown)
			err = flushErr
			return
		}
		err = a.fail(opShutdown, KindTransport, flushErr)
		return
	}
	if shutdownErr := a.transport.PollShutdown(tw); shutdownErr != nil {
		if transport.IsPending(shutdownErr) {
			a.suspended(opShutdown)
			err = shutdownErr
			return
		}
		err = a.fail(opShutdown, KindTransport, shutdownErr)
		return
	}
	a.closed = true
	a.setStates(StateClosed)
	a.log.Debug().Msg("adapter closed")
	a.release()
	a.wakeAll()
	return
}

// Release drops the session and its buffers without notifying the peer.
// Later polls fail with ErrClosed.
func (a *Adapter) Release() {
	a.lock()
	defer a.unlock()
	if a.released {
		return
	}
	if a.err == nil {
		a.closed = true
		a.setStates(StateClosed)
	}
	a.release()
	a.wakeAll()
}

// writeInFlight reports whether a write was consumed by the engine and is
// still draining.
func (a *Adapter) writeInFlight() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

func (a *Adapter) terminal() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Adapter) usable(op string) error {
	if a.err != nil {
		return a.err
	}
	if a.closed {
		return opError(op, KindClosed, ErrClosed)
	}
	return nil
}

func (a *Adapter) handshake(w transport.Waker, op string) (err error) {
	a.rstate.Store(int32(StateHandshaking))
	a.wstate.Store(int32(StateHandshaking))
	for {
		engineErr := a.engineHandshake()
		if engineErr != nil && !security.IsTransient(engineErr) {
			if IsContract(engineErr) {
				err = engineErr
				return
			}
			err = a.engineFailed(op, engineErr)
			return
		}
		if err = a.drain(w, op); err != nil {
			return
		}
		if engineErr == nil {
			a.handshakeDone()
			return
		}
		if security.IsWantRead(engineErr) {
			if err = a.readTransport(w, op); err != nil {
				return
			}
		}
	}
}

func (a *Adapter) handshakeDone() {
	a.state = a.session.ConnectionState()
	a.handshaked.Store(true)
	a.setStates(StateIdle)
	a.metrics.Handshake()
	a.log.Debug().
		Str("version", tls.VersionName(a.state.Version)).
		Str("cipher", tls.CipherSuiteName(a.state.CipherSuite)).
		Str("alpn", a.state.NegotiatedProtocol).
		Msg("handshake complete")
}

// readTransport polls the transport once. nil means the read buffer grew
// or the transport reported end of stream.
func (a *Adapter) readTransport(w transport.Waker, op string) (err error) {
	if a.rb.eof {
		err = a.fail(op, KindTransport, io.ErrUnexpectedEOF)
		return
	}
	a.rstate.Store(int32(StateReadingTransport))
	p, allocErr := a.rb.allocate(a.chunk)
	if allocErr != nil {
		err = a.fail(op, KindTransport, allocErr)
		return
	}
	n, readErr := a.transport.PollRead(a.waker(w, true), p)
	if n < 0 || n > len(p) {
		n = 0
	}
	_ = a.rb.commit(n)
	if n > 0 {
		a.metrics.CiphertextIn(n)
		a.log.Trace().Int("bytes", n).Msg("ciphertext received")
	}
	switch {
	case readErr == nil:
		if n == 0 {
			err = a.fail(op, KindTransport, io.ErrNoProgress)
		}
	case stderrors.Is(readErr, io.EOF):
		a.rb.eof = true
		a.log.Debug().Msg("transport reached end of stream")
	case transport.IsPending(readErr):
		if n == 0 {
			a.suspended(op)
			err = readErr
		}
	default:
		err = a.fail(op, KindTransport, readErr)
	}
	return
}

// readReady reports whether the engine can be stepped without first polling
// the transport: plaintext is decrypted, ciphertext is buffered, or the
// stream already ended.
func (a *Adapter) readReady() bool {
	return a.session.Buffered() > 0 || a.session.PeerClosed() || !a.rb.isEmpty() || a.rb.eof
}

// drain writes the write buffer out, suspending when the transport does.
func (a *Adapter) drain(w transport.Waker, op string) (err error) {
	if a.wb.remaining() == 0 {
		return
	}
	a.wstate.Store(int32(StateDrainingCiphertext))
	n, drainErr := a.wb.drainInto(a.waker(w, false), a.transport)
	a.metrics.CiphertextOut(n)
	if drainErr != nil {
		if transport.IsPending(drainErr) {
			a.suspended(op)
			err = drainErr
			return
		}
		err = a.fail(op, KindTransport, drainErr)
		return
	}
	a.wstate.Store(int32(StateIdle))
	return
}

func (a *Adapter) suspended(op string) {
	a.metrics.Suspended(op)
	a.log.Trace().Str("op", op).Msg("suspended")
}

func (a *Adapter) engineFailed(op string, err error) error {
	switch {
	case stderrors.Is(err, io.ErrUnexpectedEOF):
		return a.fail(op, KindTransport, err)
	case errors.Is(err, security.ErrSessionClosed):
		return a.fail(op, KindClosed, ErrClosed)
	default:
		return a.fail(op, KindProtocol, err)
	}
}

// fail makes the adapter terminal. A protocol failure gets one attempt to
// send the alert the engine queued, without waiting for the transport.
func (a *Adapter) fail(op string, kind Kind, cause error) error {
	if a.err != nil {
		return a.err
	}
	a.err = opError(op, kind, cause)
	a.setStates(StateError)
	a.metrics.Failed(kind.String())
	a.log.Warn().Err(cause).Str("op", op).Str("kind", kind.String()).Msg("adapter failed")
	if kind == KindProtocol && a.wb.remaining() > 0 {
		n, _ := a.wb.drainInto(transport.NoopWaker, a.transport)
		a.metrics.CiphertextOut(n)
	}
	a.release()
	a.wakeAll()
	return a.err
}

func (a *Adapter) release() {
	if a.released {
		return
	}
	a.released = true
	_ = a.session.Close()
	a.rb.release()
	a.wb.release()
	a.pending = nil
}

func (a *Adapter) setStates(s State) {
	a.rstate.Store(int32(s))
	a.wstate.Store(int32(s))
}

func (a *Adapter) engine(fn func() error) error {
	if a.inEngine {
		return opError("engine", KindContract, ErrReentrantCall)
	}
	a.inEngine = true
	defer func() {
		a.inEngine = false
	}()
	return fn()
}

func (a *Adapter) engineHandshake() error {
	return a.engine(a.session.Handshake)
}

func (a *Adapter) engineRead(p []byte) (n int, err error) {
	err = a.engine(func() (err error) {
		n, err = a.session.Read(p)
		return
	})
	return
}

func (a *Adapter) engineWrite(p []byte) (n int, err error) {
	err = a.engine(func() (err error) {
		n, err = a.session.Write(p)
		return
	})
	return
}

func (a *Adapter) engineShutdown() error {
	return a.engine(a.session.Shutdown)
}

// lock starts a poll step. Wakes arriving until unlock are deferred.
func (a *Adapter) lock() {
	a.mu.Lock()
	a.wakeMu.Lock()
	a.stepping = true
	a.wakeMu.Unlock()
}

func (a *Adapter) unlock() {
	a.wakeMu.Lock()
	a.stepping = false
	deferred := a.deferred
	a.deferred = nil
	a.wakeMu.Unlock()
	a.mu.Unlock()
	for _, w := range deferred {
		w.Wake()
	}
}

// waker wraps w so a wake delivered during a poll step runs after it.
func (a *Adapter) waker(w transport.Waker, read bool) transport.Waker {
	if w == nil {
		w = transport.NoopWaker
	}
	a.wakeMu.Lock()
	if read {
		a.readWaker = w
	} else {
		a.writeWaker = w
	}
	a.wakeMu.Unlock()
	return &deferredWaker{a: a, w: w}
}

// wakeAll releases every poller parked on this adapter. Called under mu.
func (a *Adapter) wakeAll() {
	a.wakeMu.Lock()
	for _, w := range []transport.Waker{a.readWaker, a.writeWaker} {
		if w != nil {
			a.deferred = append(a.deferred, w)
		}
	}
	a.readWaker, a.writeWaker = nil, nil
	a.wakeMu.Unlock()
}

type deferredWaker struct {
	a *Adapter
	w transport.Waker
}

func (d *deferredWaker) Wake() {
	d.a.wakeMu.Lock()
	if d.a.stepping {
		d.a.deferred = append(d.a.deferred, d.w)
		d.a.wakeMu.Unlock()
		return
	}
	d.a.wakeMu.Unlock()
	d.w.Wake()
}
