package security

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"fmt"
	"hash"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

const (
	aeadNonceLength = 12
)

// cipherSuiteTLS13 is the record protection part of a TLS 1.3 cipher suite.
// Key exchange and authentication are negotiated by the handshake driver.
type cipherSuiteTLS13 struct {
	id     uint16
	keyLen int
	aead   func(key []byte) (cipher.AEAD, error)
	hash   func() hash.Hash
	hashID crypto.Hash
}

var cipherSuitesTLS13 = []*cipherSuiteTLS13{
	{tls.TLS_AES_128_GCM_SHA256, 16, aeadAESGCM, sha256.New, crypto.SHA256},
	{tls.TLS_CHACHA20_POLY1305_SHA256, chacha20poly1305.KeySize, chacha20poly1305.New, sha256.New, crypto.SHA256},
	{tls.TLS_AES_256_GCM_SHA384, 32, aeadAESGCM, sha512.New384, crypto.SHA384},
}

func cipherSuiteTLS13ById(id uint16) *cipherSuiteTLS13 {
	for _, suite := range cipherSuitesTLS13 {
		if suite.id == id {
			return suite
		}
	}
	return nil
}

func (suite *cipherSuiteTLS13) Name() string {
	return tls.CipherSuiteName(suite.id)
}

func aeadAESGCM(key []byte) (aead cipher.AEAD, err error) {
	block, blockErr := aes.NewCipher(key)
	if blockErr != nil {
		err = blockErr
		return
	}
	aead, err = cipher.NewGCM(block)
	return
}

// expandLabel implements HKDF-Expand-Label from RFC 8446, Section 7.1.
func (suite *cipherSuiteTLS13) expandLabel(secret []byte, label string, context []byte, length int) []byte {
	var hkdfLabel cryptobyte.Builder
	hkdfLabel.AddUint16(uint16(length))
	hkdfLabel.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte("tls13 "))
		b.AddBytes([]byte(label))
	})
	hkdfLabel.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(context)
	})
	hkdfLabelBytes, err := hkdfLabel.Bytes()
	if err != nil {
		panic(fmt.Errorf("failed to construct HKDF label: %s", err))
	}
	out := make([]byte, length)
	n, err := hkdf.Expand(suite.hash, secret, hkdfLabelBytes).Read(out)
	if err != nil || n != length {
		panic("security: HKDF-Expand-Label invocation failed unexpectedly")
	}
	return out
}

// trafficKey generates traffic keys according to RFC 8446, Section 7.3.
func (suite *cipherSuiteTLS13) trafficKey(trafficSecret []byte) (key, iv []byte) {
	key = suite.expandLabel(trafficSecret, "key", nil, suite.keyLen)
	iv = suite.expandLabel(trafficSecret, "iv", nil, aeadNonceLength)
	return
}

// sliceForAppend extends the input slice by n bytes. head is the full extended
// slice, while tail is the appended part. If the original slice has sufficient
// capacity no allocation is performed.
func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
