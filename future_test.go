package aiotls_test

import (
	"context"
	"testing"
	"time"

	"github.com/brickingsoft/aiotls"
	"github.com/brickingsoft/rxp"
	"github.com/brickingsoft/rxp/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result[T any] struct {
	value T
	err   error
}

func await[T any](t *testing.T, future async.Future[T]) (T, error) {
	t.Helper()
	ch := make(chan result[T], 1)
	future.OnComplete(func(ctx context.Context, value T, err error) {
		ch <- result[T]{value: value, err: err}
	})
	select {
	case r := <-ch:
		return r.value, r.err
	case <-time.After(10 * time.Second):
		t.Fatal("future did not complete")
		var zero T
		return zero, nil
	}
}

func TestConn_Futures(t *testing.T) {
	exec := rxp.New()
	defer exec.CloseGracefully()
	ctx := context.Background()
	client, server := conns(t, nil, aiotls.WithExecutors(exec))

	serverHandshake := server.HandshakeFuture(ctx)
	_, err := await(t, client.HandshakeFuture(ctx))
	require.NoError(t, err)
	_, err = await(t, serverHandshake)
	require.NoError(t, err)

	buf := make([]byte, 32)
	read := server.ReadFuture(ctx, buf)
	n, err := await(t, client.WriteFuture(ctx, []byte("hello future")))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	n, err = await(t, read)
	require.NoError(t, err)
	assert.Equal(t, "hello future", string(buf[:n]))

	_, err = await(t, client.CloseFuture(ctx))
	require.NoError(t, err)
	_, err = await(t, server.ReadFuture(ctx, buf))
	assert.Error(t, err)
}
