package aiotls

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp"
)

var (
	executors     rxp.Executors = nil
	executorsOnce sync.Once
)

// Startup
// 启动执行器
//
// Conn 的 Future 系列方法在 rxp.Executors 上运行。
// 默认提供一个执行器，如果需要定制化，则使用 Startup 完成。
// 注意：必须在第一次使用 Future 之前调用，否则无效。
func Startup(options ...rxp.Option) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case error:
				err = errors.New("startup executors failed", errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithWrap(e))
			default:
				err = errors.New(fmt.Sprintf("startup executors failed: %+v", r), errors.WithMeta(errMetaPkgKey, errMetaPkgVal))
			}
		}
	}()
	executors = rxp.New(options...)
	return
}

// Shutdown
// 关闭执行器
//
// 非优雅的，即不会等待所有协程执行完毕。
func Shutdown() error {
	runtime.SetFinalizer(executors, nil)
	return Executors().Close()
}

// ShutdownGracefully
// 优雅的关闭执行器
//
// 它会等待所有 Future 执行完毕。
func ShutdownGracefully() error {
	runtime.SetFinalizer(executors, nil)
	return Executors().CloseGracefully()
}

// Executors
// 获取执行器
func Executors() rxp.Executors {
	executorsOnce.Do(func() {
		if executors == nil {
			executors = rxp.New()
			runtime.SetFinalizer(executors, rxp.Executors.CloseGracefully)
		}
	})
	return executors
}
