package aiotls

import (
	stderrors "errors"

	"github.com/brickingsoft/aiotls/transport"
	"github.com/brickingsoft/errors"
)

type Kind int

const (
	KindNone Kind = iota
	KindTransient
	KindTransport
	KindProtocol
	KindContract
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindContract:
		return "contract"
	case KindClosed:
		return "closed"
	default:
		return "none"
	}
}

var (
	ErrPending         = transport.ErrPending
	ErrTransport       = errors.Define("transport failure")
	ErrProtocol        = errors.Define("protocol failure")
	ErrWriteInProgress = errors.Define("previous write is still draining")
	ErrReentrantCall   = errors.Define("engine is already running")
	ErrClosed          = errors.Define("adapter closed")
)

// OpError describes a failed adapter operation. It unwraps to its kind's
// sentinel and to the original cause.
type OpError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return "aiotls: " + e.Op + ": " + e.Kind.String()
	}
	return "aiotls: " + e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() []error {
	switch e.Kind {
	case KindTransport:
		return []error{ErrTransport, e.Err}
	case KindProtocol:
		return []error{ErrProtocol, e.Err}
	default:
		return []error{e.Err}
	}
}

// KindOf classifies err. Errors not produced by an adapter are KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if transport.IsPending(err) {
		return KindTransient
	}
	var opErr *OpError
	if stderrors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindNone
}

func IsPending(err error) bool {
	return transport.IsPending(err)
}

func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}

func IsProtocol(err error) bool {
	return KindOf(err) == KindProtocol
}

func IsContract(err error) bool {
	return KindOf(err) == KindContract
}

func IsClosed(err error) bool {
	return KindOf(err) == KindClosed
}

// IsTerminal reports whether the adapter that returned err is finished.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindProtocol, KindClosed:
		return true
	default:
		return false
	}
}

func opError(op string, kind Kind, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: err}
}
