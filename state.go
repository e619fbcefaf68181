package aiotls

type State int32

const (
	StateIdle State = iota
	StateHandshaking
	StateReadingTransport
	StateDecryptingRecord
	StateEncryptingRecord
	StateDrainingCiphertext
	StateShuttingDown
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateReadingTransport:
		return "reading_transport"
	case StateDecryptingRecord:
		return "decrypting_record"
	case StateEncryptingRecord:
		return "encrypting_record"
	case StateDrainingCiphertext:
		return "draining_ciphertext"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}
