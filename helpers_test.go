package aiotls_test

import (
	"testing"

	"github.com/brickingsoft/aiotls"
	"github.com/brickingsoft/aiotls/security/securitytest"
	"github.com/brickingsoft/aiotls/transport"
	"github.com/stretchr/testify/require"
)

type endpoints struct {
	client *aiotls.Adapter
	server *aiotls.Adapter
	ct     *transport.PipeEnd
	st     *transport.PipeEnd
}

func newEndpoints(t *testing.T, pipeOptions []transport.PipeOption, options ...aiotls.Option) *endpoints {
	t.Helper()
	csc, ssc := securitytest.Contexts(t)
	ct, st := transport.Pipe(pipeOptions...)
	client, err := aiotls.New(csc, ct, options...)
	require.NoError(t, err)
	server, err := aiotls.New(ssc, st, options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Release()
		server.Release()
	})
	return &endpoints{client: client, server: server, ct: ct, st: st}
}

// handshake polls both sides from one goroutine until both completed.
func (e *endpoints) handshake(t *testing.T) {
	t.Helper()
	var clientDone, serverDone bool
	for i := 0; i < 10000 && !(clientDone && serverDone); i++ {
		if !clientDone {
			err := e.client.PollHandshake(transport.NoopWaker)
			if err == nil {
				clientDone = true
			} else {
				require.True(t, aiotls.IsPending(err), "client: %v", err)
			}
		}
		if !serverDone {
			err := e.server.PollHandshake(transport.NoopWaker)
			if err == nil {
				serverDone = true
			} else {
				require.True(t, aiotls.IsPending(err), "server: %v", err)
			}
		}
	}
	require.True(t, clientDone && serverDone, "handshake did not finish")
}

// readN polls r until n plaintext bytes arrived.
func readN(t *testing.T, r *aiotls.Adapter, n int) []byte {
	t.Helper()
	got := make([]byte, 0, n)
	buf := make([]byte, 4096)
	for i := 0; i < 100000 && len(got) < n; i++ {
		rn, err := r.PollRead(transport.NoopWaker, buf)
		if err != nil {
			require.True(t, aiotls.IsPending(err), "read: %v", err)
			continue
		}
		got = append(got, buf[:rn]...)
	}
	require.Len(t, got, n)
	return got
}

func conns(t *testing.T, pipeOptions []transport.PipeOption, options ...aiotls.Option) (client *aiotls.Conn, server *aiotls.Conn) {
	t.Helper()
	csc, ssc := securitytest.Contexts(t)
	ct, st := transport.Pipe(pipeOptions...)
	ca, err := aiotls.New(csc, ct, options...)
	require.NoError(t, err)
	sa, err := aiotls.New(ssc, st, options...)
	require.NoError(t, err)
	client, server = aiotls.NewConn(ca), aiotls.NewConn(sa)
	t.Cleanup(func() {
		ca.Release()
		sa.Release()
	})
	return
}
