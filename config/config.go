// Package config loads TLS endpoint profiles from TOML or YAML files.
package config

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/brickingsoft/aiotls"
	"github.com/brickingsoft/aiotls/security"
	"github.com/brickingsoft/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

var (
	ErrUnknownFormat = errors.Define("unknown profile format")
	ErrInvalid       = errors.Define("invalid profile")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "config"
	errMetaKey    = "key"
)

// Profile describes one side of a TLS session. Paths are read when the
// security context is built.
type Profile struct {
	Role               string   `toml:"role" yaml:"role"`
	ServerName         string   `toml:"server_name" yaml:"server_name"`
	CertFile           string   `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string   `toml:"key_file" yaml:"key_file"`
	CAFile             string   `toml:"ca_file" yaml:"ca_file"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	ClientAuth         string   `toml:"client_auth" yaml:"client_auth"`
	NextProtos         []string `toml:"next_protos" yaml:"next_protos"`
	MaxFragment        int      `toml:"max_fragment" yaml:"max_fragment"`
	ReadBufferSize     int      `toml:"read_buffer_size" yaml:"read_buffer_size"`
}

// Load reads a profile, choosing the decoder by file extension.
func Load(path string) (profile Profile, err error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = FormatTOML
	case ".yaml", ".yml":
		format = FormatYAML
	default:
		err = errors.From(ErrUnknownFormat, errors.WithMeta("path", path))
		return
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		err = errors.New("read profile failed", errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithWrap(readErr))
		return
	}
	profile, err = Decode(data, format)
	if err != nil {
		return
	}
	profile.resolve(filepath.Dir(path))
	return
}

func Decode(data []byte, format Format) (profile Profile, err error) {
	var decodeErr error
	switch format {
	case FormatTOML:
		_, decodeErr = toml.Decode(string(data), &profile)
	case FormatYAML:
		decodeErr = yaml.Unmarshal(data, &profile)
	default:
		err = errors.From(ErrUnknownFormat, errors.WithMeta("format", string(format)))
		return
	}
	if decodeErr != nil {
		err = errors.New("decode profile failed", errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithWrap(decodeErr))
		return
	}
	err = profile.Validate()
	return
}

// resolve makes relative file paths relative to dir.
func (p *Profile) resolve(dir string) {
	for _, path := range []*string{&p.CertFile, &p.KeyFile, &p.CAFile} {
		if *path != "" && !filepath.IsAbs(*path) {
			*path = filepath.Join(dir, *path)
		}
	}
}

func (p *Profile) Validate() error {
	if _, err := p.method(); err != nil {
		return err
	}
	if _, err := p.clientAuth(); err != nil {
		return err
	}
	if (p.CertFile == "") != (p.KeyFile == "") {
		return errors.From(ErrInvalid, errors.WithMeta(errMetaKey, "cert_file"))
	}
	if p.MaxFragment < 0 || p.ReadBufferSize < 0 {
		return errors.From(ErrInvalid, errors.WithMeta(errMetaKey, "max_fragment"))
	}
	return nil
}

func (p *Profile) method() (security.Method, error) {
	switch strings.ToLower(strings.TrimSpace(p.Role)) {
	case "client":
		return security.ClientMethod, nil
	case "server":
		return security.ServerMethod, nil
	default:
		return 0, errors.From(ErrInvalid, errors.WithMeta(errMetaKey, "role"))
	}
}

func (p *Profile) clientAuth() (tls.ClientAuthType, error) {
	switch strings.ToLower(strings.TrimSpace(p.ClientAuth)) {
	case "", "none":
		return tls.NoClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "require":
		return tls.RequireAnyClientCert, nil
	case "verify_if_given":
		return tls.VerifyClientCertIfGiven, nil
	case "require_and_verify":
		return tls.RequireAndVerifyClientCert, nil
	default:
		return 0, errors.From(ErrInvalid, errors.WithMeta(errMetaKey, "client_auth"))
	}
}

// Context builds the security context the profile describes.
func (p *Profile) Context(options ...security.Option) (ctx *security.Context, err error) {
	if err = p.Validate(); err != nil {
		return
	}
	method, _ := p.method()
	clientAuth, _ := p.clientAuth()
	var certPEM, keyPEM, caPEM []byte
	if p.CertFile != "" {
		if certPEM, err = readFile(p.CertFile, "cert_file"); err != nil {
			return
		}
		if keyPEM, err = readFile(p.KeyFile, "key_file"); err != nil {
			return
		}
	}
	if p.CAFile != "" {
		if caPEM, err = readFile(p.CAFile, "ca_file"); err != nil {
			return
		}
	}
	var config *tls.Config
	if method == security.ServerMethod {
		config, err = security.ServerX509KeyPair(certPEM, keyPEM, caPEM, clientAuth)
	} else {
		config, err = security.ClientX509KeyPair(certPEM, keyPEM, caPEM, p.InsecureSkipVerify, p.ServerName)
	}
	if err != nil {
		return
	}
	config.NextProtos = p.NextProtos
	if p.MaxFragment > 0 {
		options = append(options, security.WithMaxFragment(p.MaxFragment))
	}
	ctx, err = security.NewContext(method, config, options...)
	return
}

// AdapterOptions returns the adapter options the profile sets.
func (p *Profile) AdapterOptions() (options []aiotls.Option) {
	if p.ReadBufferSize > 0 {
		options = append(options, aiotls.WithReadChunkSize(p.ReadBufferSize))
	}
	return
}

func readFile(path string, key string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(
			"read file failed",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaKey, key),
			errors.WithWrap(err),
		)
	}
	return data, nil
}
