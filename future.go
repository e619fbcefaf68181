package aiotls

import (
	"context"

	"github.com/brickingsoft/rxp"
	"github.com/brickingsoft/rxp/async"
)

func (c *Conn) executors() rxp.Executors {
	if c.adapter.exec != nil {
		return c.adapter.exec
	}
	return Executors()
}

// submit runs fn on the conn's executors and settles the returned future
// with its result.
func submit[T any](ctx context.Context, c *Conn, fn func(ctx context.Context) (T, error)) (future async.Future[T]) {
	exec := c.executors()
	ctx = rxp.With(ctx, exec)
	promise, promiseErr := async.Make[T](ctx)
	if promiseErr != nil {
		future = async.FailedImmediately[T](ctx, promiseErr)
		return
	}
	execErr := exec.Execute(ctx, func() {
		result, err := fn(ctx)
		if err != nil {
			promise.Fail(err)
			return
		}
		promise.Succeed(result)
	})
	if execErr != nil {
		promise.Fail(execErr)
	}
	future = promise.Future()
	return
}

// HandshakeFuture
// 异步握手
func (c *Conn) HandshakeFuture(ctx context.Context) async.Future[async.Void] {
	return submit[async.Void](ctx, c, func(ctx context.Context) (async.Void, error) {
		return async.Void{}, c.HandshakeContext(ctx)
	})
}

// ReadFuture
// 异步读取，结果为读取的明文长度。
func (c *Conn) ReadFuture(ctx context.Context, b []byte) async.Future[int] {
	return submit[int](ctx, c, func(ctx context.Context) (int, error) {
		return c.ReadContext(ctx, b)
	})
}

// WriteFuture
// 异步写入，密文全部被传输层接收后完成。
func (c *Conn) WriteFuture(ctx context.Context, b []byte) async.Future[int] {
	return submit[int](ctx, c, func(ctx context.Context) (int, error) {
		return c.WriteContext(ctx, b)
	})
}

// CloseFuture
// 异步关闭
func (c *Conn) CloseFuture(ctx context.Context) async.Future[async.Void] {
	return submit[async.Void](ctx, c, func(ctx context.Context) (async.Void, error) {
		return async.Void{}, c.CloseContext(ctx)
	})
}
