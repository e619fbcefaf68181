package security_test

import (
	"bytes"
	"crypto/tls"
	"io"
	"testing"

	"github.com/brickingsoft/aiotls/security"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/aiotls/security/securitytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIO struct {
	in       bytes.Buffer
	out      bytes.Buffer
	eof      bool
	maxRecv  int
	recvCall int
}

func (m *memIO) Recv(p []byte) (int, error) {
	m.recvCall++
	if m.in.Len() == 0 {
		if m.eof {
			return 0, io.EOF
		}
		return 0, security.ErrWouldBlock
	}
	if m.maxRecv > 0 && len(p) > m.maxRecv {
		p = p[:m.maxRecv]
	}
	return m.in.Read(p)
}

func (m *memIO) Send(p []byte) (int, error) {
	return m.out.Write(p)
}

func transfer(a, b *memIO) {
	_, _ = b.in.ReadFrom(&a.out)
	_, _ = a.in.ReadFrom(&b.out)
}

type pair struct {
	client, server     *security.Session
	clientIO, serverIO *memIO
}

func newPair(t *testing.T, options ...security.Option) *pair {
	t.Helper()
	cctx, sctx := securitytest.Contexts(t, options...)
	client, err := cctx.NewSession()
	require.NoError(t, err)
	server, err := sctx.NewSession()
	require.NoError(t, err)
	p := &pair{client: client, server: server, clientIO: &memIO{}, serverIO: &memIO{}}
	client.SetIO(p.clientIO)
	server.SetIO(p.serverIO)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return p
}

func (p *pair) handshake(t *testing.T) {
	t.Helper()
	for i := 0; i < 16; i++ {
		cErr := p.client.Handshake()
		sErr := p.server.Handshake()
		for _, err := range []error{cErr, sErr} {
			if err != nil && !security.IsWantRead(err) {
				t.Fatalf("handshake: %v", err)
			}
		}
		transfer(p.clientIO, p.serverIO)
		if p.client.HandshakeComplete() && p.server.HandshakeComplete() {
			return
		}
	}
	t.Fatal("handshake did not complete")
}

func readN(t *testing.T, s *security.Session, n int) []byte {
	t.Helper()
	got := make([]byte, 0, n)
	buf := make([]byte, 1500)
	for len(got) < n {
		rn, err := s.Read(buf)
		got = append(got, buf[:rn]...)
		if err != nil {
			require.True(t, security.IsWantRead(err), "unexpected read error: %v", err)
			break
		}
	}
	return got
}

func TestSession_Handshake(t *testing.T) {
	p := newPair(t)
	p.handshake(t)

	state := p.client.ConnectionState()
	assert.True(t, state.HandshakeComplete)
	assert.Equal(t, uint16(tls.VersionTLS13), state.Version)
	assert.Equal(t, securitytest.ServerName, p.server.ConnectionState().ServerName)
	assert.NotEmpty(t, state.PeerCertificates)
}

func TestSession_ReadWrite(t *testing.T) {
	p := newPair(t)
	p.handshake(t)

	payload := bytes.Repeat([]byte("aiotls"), 7000)
	n, err := p.client.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	transfer(p.clientIO, p.serverIO)

	assert.Equal(t, payload, readN(t, p.server, len(payload)))

	_, err = p.server.Read(make([]byte, 16))
	assert.True(t, security.IsWantRead(err))
	assert.True(t, errors.Is(err, security.ErrWantRead))

	reply := []byte("pong")
	_, err = p.server.Write(reply)
	require.NoError(t, err)
	transfer(p.clientIO, p.serverIO)
	assert.Equal(t, reply, readN(t, p.client, len(reply)))
}

func TestSession_ByteAtATime(t *testing.T) {
	p := newPair(t)
	p.handshake(t)

	payload := bytes.Repeat([]byte{0xa5}, 3000)
	_, err := p.client.Write(payload)
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 64)
	wire := p.clientIO.out.Bytes()
	for _, b := range wire {
		p.serverIO.in.WriteByte(b)
		for {
			n, readErr := p.server.Read(buf)
			got = append(got, buf[:n]...)
			if readErr != nil {
				require.True(t, security.IsWantRead(readErr))
				break
			}
		}
	}
	assert.Equal(t, payload, got)
}

func TestSession_MaxFragment(t *testing.T) {
	p := newPair(t, security.WithMaxFragment(512))
	p.handshake(t)

	_, err := p.client.Write(make([]byte, 2000))
	require.NoError(t, err)

	wire := p.clientIO.out.Bytes()
	records := 0
	for len(wire) >= 5 {
		length := int(wire[3])<<8 | int(wire[4])
		assert.Equal(t, byte(security.RecordTypeApplicationData), wire[0])
		wire = wire[5+length:]
		records++
	}
	assert.Empty(t, wire)
	assert.Equal(t, 4, records)
}

func TestSession_Shutdown(t *testing.T) {
	p := newPair(t)
	p.handshake(t)

	_, err := p.client.Write([]byte("last words"))
	require.NoError(t, err)
	require.NoError(t, p.client.Shutdown())
	transfer(p.clientIO, p.serverIO)

	assert.Equal(t, []byte("last words"), readN(t, p.server, 10))
	_, err = p.server.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, p.server.PeerClosed())

	_, err = p.client.Write([]byte("more"))
	assert.True(t, errors.Is(err, security.ErrSessionClosed))
	assert.NoError(t, p.client.Shutdown())
}

func TestSession_ShutdownBeforeHandshake(t *testing.T) {
	p := newPair(t)
	require.NoError(t, p.client.Shutdown())
	assert.Zero(t, p.clientIO.out.Len())
}

func TestSession_Tampered(t *testing.T) {
	p := newPair(t)
	p.handshake(t)

	_, err := p.client.Write([]byte("integrity"))
	require.NoError(t, err)
	wire := p.clientIO.out.Bytes()
	wire[len(wire)-1] ^= 0xff
	transfer(p.clientIO, p.serverIO)

	_, err = p.server.Read(make([]byte, 32))
	require.Error(t, err)
	assert.True(t, errors.Is(err, security.ErrBadRecordMAC))
	assert.False(t, security.IsTransient(err))
	assert.NotZero(t, p.serverIO.out.Len())

	_, again := p.server.Read(make([]byte, 32))
	assert.Equal(t, err, again)

	transfer(p.clientIO, p.serverIO)
	_, err = p.client.Read(make([]byte, 32))
	var remote *security.RemoteAlertError
	require.ErrorAs(t, err, &remote)
	var alert tls.AlertError
	require.ErrorAs(t, err, &alert)
	assert.Equal(t, tls.AlertError(20), alert)
}

func TestSession_UnexpectedEOF(t *testing.T) {
	p := newPair(t)
	require.True(t, security.IsWantRead(p.client.Handshake()))
	p.clientIO.eof = true
	err := p.client.Handshake()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSession_EOFAtRecordBoundary(t *testing.T) {
	p := newPair(t)
	p.handshake(t)
	p.serverIO.eof = true
	_, err := p.server.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_NoIO(t *testing.T) {
	cctx, _ := securitytest.Contexts(t)
	s, err := cctx.NewSession()
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, errors.Is(s.Handshake(), security.ErrNoIO))
}

func TestSession_Closed(t *testing.T) {
	p := newPair(t)
	require.NoError(t, p.client.Close())
	assert.True(t, errors.Is(p.client.Handshake(), security.ErrSessionClosed))
	assert.True(t, errors.Is(p.client.Shutdown(), security.ErrSessionClosed))
}
