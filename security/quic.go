package security

import (
	"context"
	"crypto/tls"
)

const levels = int(tls.QUICEncryptionLevelApplication) + 1

// handshakeEvents receives what the handshake driver produced.
type handshakeEvents interface {
	installReadKey(level tls.QUICEncryptionLevel, suite uint16, secret []byte) error
	installWriteKey(level tls.QUICEncryptionLevel, suite uint16, secret []byte) error
	writeHandshake(level tls.QUICEncryptionLevel, data []byte) error
	handshakeDone()
}

// handshakeDriver runs the TLS 1.3 handshake state machine without I/O.
// Handshake messages are fed in with handle and drained as events.
type handshakeDriver struct {
	conn    *tls.QUICConn
	started bool
	closed  bool
}

func newHandshakeDriver(conn *tls.QUICConn) *handshakeDriver {
	conn.SetTransportParameters(nil)
	return &handshakeDriver{conn: conn}
}

func (d *handshakeDriver) start(h handshakeEvents) (err error) {
	d.started = true
	if err = d.conn.Start(context.Background()); err != nil {
		return
	}
	err = d.drain(h)
	return
}

func (d *handshakeDriver) handle(h handshakeEvents, level tls.QUICEncryptionLevel, data []byte) (err error) {
	if err = d.conn.HandleData(level, data); err != nil {
		return
	}
	err = d.drain(h)
	return
}

// drain processes events until the driver has nothing more to say. Event
// data is only valid until the next call to NextEvent.
func (d *handshakeDriver) drain(h handshakeEvents) (err error) {
	for {
		event := d.conn.NextEvent()
		switch event.Kind {
		case tls.QUICNoEvent:
			return
		case tls.QUICSetReadSecret:
			err = h.installReadKey(event.Level, event.Suite, event.Data)
		case tls.QUICSetWriteSecret:
			err = h.installWriteKey(event.Level, event.Suite, event.Data)
		case tls.QUICWriteData:
			err = h.writeHandshake(event.Level, event.Data)
		case tls.QUICTransportParametersRequired:
			d.conn.SetTransportParameters(nil)
		case tls.QUICHandshakeDone:
			h.handshakeDone()
		default:
		}
		if err != nil {
			return
		}
	}
}

func (d *handshakeDriver) connectionState() tls.ConnectionState {
	return d.conn.ConnectionState()
}

func (d *handshakeDriver) close() (err error) {
	if d.closed {
		return
	}
	d.closed = true
	err = d.conn.Close()
	return
}
