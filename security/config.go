package security

import (
	"crypto/tls"

	"github.com/brickingsoft/errors"
	"github.com/rs/zerolog"
)

type Method int

const (
	ClientMethod Method = iota
	ServerMethod
)

func (m Method) String() string {
	switch m {
	case ClientMethod:
		return "client"
	case ServerMethod:
		return "server"
	default:
		return "unknown"
	}
}

type Options struct {
	MaxFragment int
	Logger      zerolog.Logger
}

type Option func(options *Options) (err error)

// WithMaxFragment
// 设置单个记录的最大明文长度，取值范围为 [512, 16384]。
func WithMaxFragment(n int) Option {
	return func(options *Options) (err error) {
		if n < minFragment || n > maxPlaintext {
			err = errors.New(
				"invalid max fragment",
				errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			)
			return
		}
		options.MaxFragment = n
		return
	}
}

// WithLogger
// 设置会话日志，默认不输出。
func WithLogger(logger zerolog.Logger) Option {
	return func(options *Options) (err error) {
		options.Logger = logger
		return
	}
}

// Context is the shared, read-only configuration sessions are created from.
// It is safe for concurrent use.
type Context struct {
	method  Method
	config  *tls.Config
	options Options
}

var (
	ErrInvalidContext = errors.Define("invalid security context")
)

// NewContext
// 创建会话配置。
//
// 握手由 crypto/tls 的 QUIC 模式驱动，ClientHello 带有
// quic_transport_parameters 扩展，所以会话只能与同样基于本包的对端互通，
// 不能与标准 TLS 1.3 实现（crypto/tls.Conn、OpenSSL 等）握手。
func NewContext(method Method, config *tls.Config, options ...Option) (ctx *Context, err error) {
	if method != ClientMethod && method != ServerMethod {
		err = errors.From(ErrInvalidContext, errors.WithWrap(errors.New("unknown method")))
		return
	}
	if config == nil {
		err = errors.From(ErrInvalidContext, errors.WithWrap(errors.New("config is nil")))
		return
	}
	opts := Options{
		MaxFragment: maxPlaintext,
		Logger:      zerolog.Nop(),
	}
	for _, o := range options {
		if err = o(&opts); err != nil {
			err = errors.From(ErrInvalidContext, errors.WithWrap(err))
			return
		}
	}
	cfg := config.Clone()
	if cfg.MaxVersion != 0 && cfg.MaxVersion < tls.VersionTLS13 {
		err = errors.From(ErrInvalidContext, errors.WithWrap(errors.New("records are TLS 1.3 only")))
		return
	}
	cfg.MinVersion = tls.VersionTLS13
	switch method {
	case ClientMethod:
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			err = errors.From(ErrInvalidContext, errors.WithWrap(errors.New("client needs ServerName or InsecureSkipVerify")))
			return
		}
	case ServerMethod:
		if len(cfg.Certificates) == 0 && cfg.GetCertificate == nil && cfg.GetConfigForClient == nil {
			err = errors.From(ErrInvalidContext, errors.WithWrap(errors.New("server needs a certificate")))
			return
		}
	}
	ctx = &Context{
		method:  method,
		config:  cfg,
		options: opts,
	}
	return
}

func (ctx *Context) Method() Method {
	return ctx.method
}

func (ctx *Context) MaxFragment() int {
	return ctx.options.MaxFragment
}

// NewSession creates a session that shares this context's configuration.
// The session has no IO until SetIO is called.
func (ctx *Context) NewSession() (s *Session, err error) {
	var conn *tls.QUICConn
	quicConfig := &tls.QUICConfig{TLSConfig: ctx.config}
	if ctx.method == ClientMethod {
		conn = tls.QUICClient(quicConfig)
	} else {
		conn = tls.QUICServer(quicConfig)
	}
	s = &Session{
		ctx:    ctx,
		driver: newHandshakeDriver(conn),
		log:    ctx.options.Logger.With().Str("role", ctx.method.String()).Logger(),
	}
	return
}
