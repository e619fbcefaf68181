package security

import (
	"crypto/cipher"
	"crypto/tls"
	"encoding/binary"

	"github.com/brickingsoft/errors"
)

const (
	maxPlaintext       = 16384       // maximum plaintext payload length
	maxCiphertextTLS13 = 16384 + 256 // maximum ciphertext length in TLS 1.3
	recordHeaderLen    = 5           // record header length
	minFragment        = 512
)

// legacy record version, fixed in TLS 1.3 records.
const recordVersion = tls.VersionTLS12

type RecordType uint8

const (
	RecordTypeChangeCipherSpec RecordType = 20
	RecordTypeAlert            RecordType = 21
	RecordTypeHandshake        RecordType = 22
	RecordTypeApplicationData  RecordType = 23
)

func (typ RecordType) valid() bool {
	return typ >= RecordTypeChangeCipherSpec && typ <= RecordTypeApplicationData
}

func appendRecordHeader(b []byte, typ RecordType, n int) []byte {
	return append(b, byte(typ), byte(recordVersion>>8), byte(recordVersion&0xff), byte(n>>8), byte(n))
}

type recordHeader struct {
	typ    RecordType
	length int
}

func parseRecordHeader(hdr []byte) (h recordHeader, err error) {
	h.typ = RecordType(hdr[0])
	if !h.typ.valid() {
		err = errors.New("unknown record type", errors.WithWrap(errors.From(ErrUnexpectedMessage)))
		return
	}
	if hdr[1] != 0x03 {
		err = errors.New("unsupported record version", errors.WithWrap(errors.From(ErrProtocolVersion)))
		return
	}
	h.length = int(binary.BigEndian.Uint16(hdr[3:5]))
	if h.length > maxCiphertextTLS13 {
		err = errors.From(ErrRecordOverflow)
		return
	}
	return
}

// recordCipher protects records in one direction at one encryption level.
// Nonces are derived from the static iv and a per-key sequence number.
type recordCipher struct {
	suite *cipherSuiteTLS13
	aead  cipher.AEAD
	iv    [aeadNonceLength]byte
	seq   uint64
	nonce [aeadNonceLength]byte
}

func newRecordCipher(suite *cipherSuiteTLS13, secret []byte) (rc *recordCipher, err error) {
	key, iv := suite.trafficKey(secret)
	aead, aeadErr := suite.aead(key)
	if aeadErr != nil {
		err = aeadErr
		return
	}
	rc = &recordCipher{suite: suite, aead: aead}
	copy(rc.iv[:], iv)
	return
}

func (rc *recordCipher) nextNonce() []byte {
	copy(rc.nonce[:], rc.iv[:])
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], rc.seq)
	for i, b := range seq {
		rc.nonce[aeadNonceLength-8+i] ^= b
	}
	rc.seq++
	return rc.nonce[:]
}

// seal appends one protected record carrying payload as typ.
func (rc *recordCipher) seal(out []byte, typ RecordType, payload []byte) []byte {
	n := len(payload) + 1 + rc.aead.Overhead()
	start := len(out)
	out = appendRecordHeader(out, RecordTypeApplicationData, n)
	inner := make([]byte, 0, len(payload)+1)
	inner = append(inner, payload...)
	inner = append(inner, byte(typ))
	head, tail := sliceForAppend(out, n)
	rc.aead.Seal(tail[:0], rc.nextNonce(), inner, head[start:start+recordHeaderLen])
	return head
}

// open authenticates and decrypts one record body in place, returning the
// inner content type and plaintext.
func (rc *recordCipher) open(header []byte, body []byte) (typ RecordType, plaintext []byte, err error) {
	if RecordType(header[0]) != RecordTypeApplicationData {
		err = errors.New("unprotected record after keys were installed", errors.WithWrap(errors.From(ErrUnexpectedMessage)))
		return
	}
	if len(body) < rc.aead.Overhead() {
		err = errors.From(ErrBadRecordMAC)
		return
	}
	inner, openErr := rc.aead.Open(body[:0], rc.nextNonce(), body, header)
	if openErr != nil {
		err = errors.From(ErrBadRecordMAC)
		return
	}
	i := len(inner) - 1
	for i >= 0 && inner[i] == 0 {
		i--
	}
	if i < 0 {
		err = errors.New("record without content type", errors.WithWrap(errors.From(ErrUnexpectedMessage)))
		return
	}
	typ = RecordType(inner[i])
	plaintext = inner[:i]
	if len(plaintext) > maxPlaintext {
		err = errors.From(ErrRecordOverflow)
		return
	}
	return
}
