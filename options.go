package aiotls

import (
	"github.com/brickingsoft/aiotls/pkg/metrics"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp"
	"github.com/rs/zerolog"
)

const (
	DefaultReadChunkSize = 16*1024 + 256 + 5
	minReadChunkSize     = 5
)

type Options struct {
	Logger        zerolog.Logger
	Metrics       *metrics.Collector
	ReadChunkSize int
	Executors     rxp.Executors
}

type Option func(options *Options) (err error)

// WithLogger
// 设置日志。默认为 zerolog.Nop()。
func WithLogger(logger zerolog.Logger) Option {
	return func(options *Options) (err error) {
		options.Logger = logger
		return
	}
}

// WithMetrics
// 设置指标收集器。
func WithMetrics(collector *metrics.Collector) Option {
	return func(options *Options) (err error) {
		options.Metrics = collector
		return
	}
}

// WithReadChunkSize
// 设置单次从传输层读取密文的最大长度。
//
// 默认值为一个完整 TLS 1.3 记录的长度。
func WithReadChunkSize(size int) Option {
	return func(options *Options) (err error) {
		if size < minReadChunkSize {
			err = errors.New(
				"read chunk size is too small",
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			)
			return
		}
		options.ReadChunkSize = size
		return
	}
}

// WithExecutors
// 设置 Future 使用的执行器。默认使用 Executors()。
func WithExecutors(exec rxp.Executors) Option {
	return func(options *Options) (err error) {
		options.Executors = exec
		return
	}
}

const (
	errMetaPkgKey   = "pkg"
	errMetaPkgVal   = "aiotls"
	errMetaOpKey    = "op"
	errMetaOpDial   = "dial"
	errMetaOpWrap   = "wrap"
	errMetaOpListen = "listen"
)
