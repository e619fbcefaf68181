package security

import (
	"crypto/tls"
	stderrors "errors"
	"io"

	"github.com/brickingsoft/errors"
	"github.com/rs/zerolog"
)

// Session is one TLS 1.3 endpoint. It frames, protects and parses records
// and reaches the network only through its IO. A session must not be used
// from two goroutines at once.
type Session struct {
	ctx    *Context
	driver *handshakeDriver
	io     IO
	log    zerolog.Logger

	readLevel  tls.QUICEncryptionLevel
	in         *recordCipher
	writeLevel tls.QUICEncryptionLevel
	out        [levels]*recordCipher

	raw     []byte
	plain   []byte
	pending []byte

	done       bool
	peerClosed bool
	closeSent  bool
	closed     bool
	err        error
}

// SetIO installs the ciphertext callbacks. It replaces any previous IO.
func (s *Session) SetIO(io IO) {
	s.io = io
}

func (s *Session) HandshakeComplete() bool {
	return s.done
}

func (s *Session) ConnectionState() tls.ConnectionState {
	return s.driver.connectionState()
}

// Close releases the handshake driver. The session is unusable afterwards.
func (s *Session) Close() (err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	s.plain = nil
	s.raw = nil
	err = s.driver.close()
	return
}

func (s *Session) check() error {
	if s.closed {
		return errors.From(ErrSessionClosed)
	}
	if s.err != nil {
		return s.err
	}
	if s.io == nil {
		return errors.From(ErrNoIO)
	}
	return nil
}

// Handshake runs the handshake as far as the available ciphertext allows.
// ErrWantRead means more input is needed, ErrWantWrite that queued output
// could not be sent yet.
func (s *Session) Handshake() (err error) {
	if err = s.check(); err != nil {
		return
	}
	if s.done {
		err = s.flush()
		return
	}
	if !s.driver.started {
		s.log.Debug().Msg("handshake started")
		if err = s.driver.start(s); err != nil {
			err = s.fail(err)
			return
		}
	}
	for {
		if err = s.flush(); err != nil {
			return
		}
		if s.done {
			return
		}
		typ, data, readErr := s.readRecord()
		if readErr != nil {
			if stderrors.Is(readErr, io.EOF) {
				readErr = io.ErrUnexpectedEOF
			}
			err = s.readFailed(readErr)
			return
		}
		if err = s.handleRecord(typ, data); err != nil {
			return
		}
		if s.peerClosed && !s.done {
			err = s.failSilently(errors.New(
				"close notify during handshake",
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
				errors.WithWrap(io.ErrUnexpectedEOF),
			))
			return
		}
	}
}

// Read returns decrypted application data, completing the handshake first
// when needed. It returns io.EOF after the peer's close notify.
func (s *Session) Read(p []byte) (n int, err error) {
	if err = s.Handshake(); err != nil {
		return
	}
	if len(p) == 0 {
		return
	}
	for len(s.plain) == 0 {
		if s.peerClosed {
			err = io.EOF
			return
		}
		typ, data, readErr := s.readRecord()
		if readErr != nil {
			if stderrors.Is(readErr, io.EOF) {
				s.peerClosed = true
				err = io.EOF
				return
			}
			err = s.readFailed(readErr)
			return
		}
		if err = s.handleRecord(typ, data); err != nil {
			return
		}
	}
	n = copy(p, s.plain)
	s.plain = s.plain[n:]
	if len(s.plain) == 0 {
		s.plain = nil
	}
	return
}

// Buffered reports decrypted bytes ready to be read without more input.
func (s *Session) Buffered() int {
	return len(s.plain)
}

// Write protects p as application data and hands every record to Send.
// The whole of p is consumed once Write returns n == len(p), even when
// ErrWantWrite reports that ciphertext is still queued.
func (s *Session) Write(p []byte) (n int, err error) {
	if err = s.Handshake(); err != nil {
		return
	}
	if s.closeSent {
		err = errors.From(ErrSessionClosed)
		return
	}
	fragment := s.ctx.options.MaxFragment
	for n < len(p) {
		chunk := p[n:]
		if len(chunk) > fragment {
			chunk = chunk[:fragment]
		}
		if err = s.seal(tls.QUICEncryptionLevelApplication, RecordTypeApplicationData, chunk); err != nil {
			err = s.fail(err)
			return
		}
		n += len(chunk)
	}
	err = s.flush()
	return
}

// Shutdown sends close notify. A session whose handshake never started has
// nothing to notify and returns immediately.
func (s *Session) Shutdown() (err error) {
	if s.closed {
		err = errors.From(ErrSessionClosed)
		return
	}
	if s.err != nil {
		err = s.err
		return
	}
	if s.closeSent {
		err = s.flush()
		return
	}
	s.closeSent = true
	if !s.driver.started {
		return
	}
	if err = s.sealAlert(alertLevelWarning, alertCloseNotify); err != nil {
		err = s.fail(err)
		return
	}
	s.log.Debug().Msg("close notify queued")
	err = s.flush()
	return
}

// PeerClosed reports whether the peer's close notify was received.
func (s *Session) PeerClosed() bool {
	return s.peerClosed
}

func (s *Session) readFailed(err error) error {
	if IsWantRead(err) {
		return err
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrNoIO) {
		return s.failSilently(err)
	}
	return s.fail(err)
}

// fail makes err sticky and queues a fatal alert for the peer.
func (s *Session) fail(err error) error {
	if s.err != nil {
		return s.err
	}
	s.err = err
	alert := alertFor(err)
	s.log.Warn().Err(err).Str(errMetaAlert, alert.String()).Msg("session failed")
	if s.driver.started && !s.closeSent {
		s.closeSent = true
		if sealErr := s.sealAlert(alertLevelError, alert); sealErr == nil {
			_ = s.flush()
		}
	}
	return s.err
}

func (s *Session) failSilently(err error) error {
	if s.err != nil {
		return s.err
	}
	s.err = err
	s.log.Warn().Err(err).Msg("session failed")
	return s.err
}

func (s *Session) handleRecord(typ RecordType, data []byte) (err error) {
	switch typ {
	case RecordTypeHandshake:
		if len(data) == 0 {
			err = s.fail(errors.New("empty handshake record", errors.WithWrap(errors.From(ErrUnexpectedMessage))))
			return
		}
		if handleErr := s.driver.handle(s, s.readLevel, data); handleErr != nil {
			err = s.fail(handleErr)
			return
		}
	case RecordTypeAlert:
		if len(data) != 2 {
			err = s.fail(errors.New("malformed alert", errors.WithWrap(errors.From(ErrUnexpectedMessage))))
			return
		}
		alert := Alert(data[1])
		if alert == alertCloseNotify {
			s.log.Debug().Msg("close notify received")
			s.peerClosed = true
			return
		}
		err = s.failSilently(&RemoteAlertError{Alert: alert})
	case RecordTypeChangeCipherSpec:
		if len(data) != 1 || data[0] != 1 || s.done {
			err = s.fail(errors.New("unexpected change cipher spec", errors.WithWrap(errors.From(ErrUnexpectedMessage))))
		}
	case RecordTypeApplicationData:
		if !s.done || s.in == nil {
			err = s.fail(errors.New("application data before handshake", errors.WithWrap(errors.From(ErrUnexpectedMessage))))
			return
		}
		if s.peerClosed {
			err = s.fail(errors.New("application data after close notify", errors.WithWrap(errors.From(ErrUnexpectedMessage))))
			return
		}
		s.plain = append(s.plain, data...)
	default:
		err = s.fail(errors.From(ErrUnexpectedMessage))
	}
	return
}

// readRecord returns the next record's content type and plaintext. The
// returned slice is only valid until the next read.
func (s *Session) readRecord() (typ RecordType, data []byte, err error) {
	if err = s.fill(recordHeaderLen); err != nil {
		return
	}
	hdr, hdrErr := parseRecordHeader(s.raw[:recordHeaderLen])
	if hdrErr != nil {
		err = hdrErr
		return
	}
	if err = s.fill(recordHeaderLen + hdr.length); err != nil {
		return
	}
	header := s.raw[:recordHeaderLen]
	body := s.raw[recordHeaderLen : recordHeaderLen+hdr.length]
	s.raw = s.raw[:0]
	if s.in == nil || hdr.typ == RecordTypeChangeCipherSpec {
		if hdr.typ == RecordTypeApplicationData {
			err = errors.New("unprotected application data", errors.WithWrap(errors.From(ErrUnexpectedMessage)))
			return
		}
		if hdr.length > maxPlaintext {
			err = errors.From(ErrRecordOverflow)
			return
		}
		typ, data = hdr.typ, body
		return
	}
	typ, data, err = s.in.open(header, body)
	return
}

// fill reads until raw holds n bytes, asking IO only for what is missing so
// bytes of the following record stay with the caller.
func (s *Session) fill(n int) (err error) {
	for len(s.raw) < n {
		have := len(s.raw)
		head, tail := sliceForAppend(s.raw, n-have)
		rn, recvErr := s.io.Recv(tail)
		s.raw = head[:have+rn]
		if recvErr != nil {
			switch {
			case IsWouldBlock(recvErr):
				err = errors.From(ErrWantRead)
			case stderrors.Is(recvErr, io.EOF):
				if len(s.raw) == 0 {
					err = io.EOF
				} else {
					err = io.ErrUnexpectedEOF
				}
			default:
				err = recvErr
			}
			return
		}
		if rn == 0 {
			err = errors.From(ErrWantRead)
			return
		}
	}
	return
}

func (s *Session) seal(level tls.QUICEncryptionLevel, typ RecordType, payload []byte) error {
	if level == tls.QUICEncryptionLevelInitial {
		s.pending = appendRecordHeader(s.pending, typ, len(payload))
		s.pending = append(s.pending, payload...)
		return nil
	}
	rc := s.out[level]
	if rc == nil {
		return errors.New(
			"no write key",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta("level", level.String()),
		)
	}
	s.pending = rc.seal(s.pending, typ, payload)
	return nil
}

func (s *Session) sealAlert(level uint8, alert Alert) error {
	return s.seal(s.writeLevel, RecordTypeAlert, []byte{level, byte(alert)})
}

// flush hands queued ciphertext to Send.
func (s *Session) flush() (err error) {
	for len(s.pending) > 0 {
		n, sendErr := s.io.Send(s.pending)
		if n > 0 {
			s.pending = s.pending[n:]
		}
		if sendErr != nil {
			if IsWouldBlock(sendErr) {
				err = errors.From(ErrWantWrite)
				return
			}
			err = s.failSilently(sendErr)
			return
		}
		if n == 0 {
			err = s.failSilently(errors.From(ErrShortSend))
			return
		}
	}
	s.pending = nil
	return
}

func (s *Session) installReadKey(level tls.QUICEncryptionLevel, suite uint16, secret []byte) (err error) {
	rc, rcErr := s.newCipher(suite, secret)
	if rcErr != nil {
		err = rcErr
		return
	}
	s.in = rc
	s.readLevel = level
	s.log.Trace().Str("level", level.String()).Str("suite", rc.suite.Name()).Msg("read key installed")
	return
}

func (s *Session) installWriteKey(level tls.QUICEncryptionLevel, suite uint16, secret []byte) (err error) {
	rc, rcErr := s.newCipher(suite, secret)
	if rcErr != nil {
		err = rcErr
		return
	}
	s.out[level] = rc
	s.writeLevel = level
	s.log.Trace().Str("level", level.String()).Str("suite", rc.suite.Name()).Msg("write key installed")
	return
}

func (s *Session) newCipher(suite uint16, secret []byte) (rc *recordCipher, err error) {
	cs := cipherSuiteTLS13ById(suite)
	if cs == nil {
		err = errors.New(
			"unsupported cipher suite",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta("suite", tls.CipherSuiteName(suite)),
		)
		return
	}
	rc, err = newRecordCipher(cs, secret)
	return
}

func (s *Session) writeHandshake(level tls.QUICEncryptionLevel, data []byte) (err error) {
	for len(data) > 0 {
		chunk := data
		if len(chunk) > maxPlaintext {
			chunk = chunk[:maxPlaintext]
		}
		if err = s.seal(level, RecordTypeHandshake, chunk); err != nil {
			return
		}
		data = data[len(chunk):]
	}
	return
}

func (s *Session) handshakeDone() {
	s.done = true
	state := s.driver.connectionState()
	s.log.Debug().
		Str("suite", tls.CipherSuiteName(state.CipherSuite)).
		Str("alpn", state.NegotiatedProtocol).
		Msg("handshake complete")
}
