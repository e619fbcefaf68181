package security

import (
	"crypto/tls"
	stderrors "errors"

	"github.com/brickingsoft/errors"
)

var (
	ErrWantRead  = errors.Define("want read")
	ErrWantWrite = errors.Define("want write")
)

var (
	ErrUnexpectedMessage = errors.Define("unexpected message")
	ErrBadRecordMAC      = errors.Define("bad record MAC")
	ErrRecordOverflow    = errors.Define("record overflow")
	ErrProtocolVersion   = errors.Define("protocol version not supported")
	ErrShortSend         = errors.Define("send accepted fewer bytes than produced")
	ErrSessionClosed     = errors.Define("session closed")
	ErrNoIO              = errors.Define("io callbacks not installed")
)

// IsWantRead reports whether the engine stopped because the IO had no
// ciphertext to offer.
func IsWantRead(err error) bool {
	return errors.Is(err, ErrWantRead)
}

func IsWantWrite(err error) bool {
	return errors.Is(err, ErrWantWrite)
}

// IsTransient reports whether err only asks the caller to retry.
func IsTransient(err error) bool {
	return IsWantRead(err) || IsWantWrite(err)
}

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "security"
	errMetaOpKey  = "op"
	errMetaAlert  = "alert"
)

// alertFor picks the alert sent to the peer when err ends the session.
func alertFor(err error) Alert {
	var alertErr tls.AlertError
	switch {
	case stderrors.As(err, &alertErr):
		return Alert(alertErr)
	case errors.Is(err, ErrBadRecordMAC):
		return alertBadRecordMAC
	case errors.Is(err, ErrRecordOverflow):
		return alertRecordOverflow
	case errors.Is(err, ErrProtocolVersion):
		return alertProtocolVersion
	case errors.Is(err, ErrUnexpectedMessage):
		return alertUnexpectedMessage
	default:
		return alertInternalError
	}
}
