package security

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/brickingsoft/errors"
)

func ServerX509KeyPair(certPEM []byte, keyPEM []byte, caPEM []byte, clientAuth tls.ClientAuthType) (config *tls.Config, err error) {
	cas, casErr := certPool(caPEM)
	if casErr != nil {
		err = casErr
		return
	}
	certificate, certificateErr := tls.X509KeyPair(certPEM, keyPEM)
	if certificateErr != nil {
		err = errors.New("load server key pair failed", errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithWrap(certificateErr))
		return
	}
	config = &tls.Config{
		ClientCAs:    cas,
		Certificates: []tls.Certificate{certificate},
		ClientAuth:   clientAuth,
		MinVersion:   tls.VersionTLS13,
	}
	return
}

// ClientX509KeyPair builds a client config. certPEM and keyPEM may be empty
// when the server does not ask for a client certificate.
func ClientX509KeyPair(certPEM []byte, keyPEM []byte, caPEM []byte, insecureSkipVerify bool, serverName string) (config *tls.Config, err error) {
	cas, casErr := certPool(caPEM)
	if casErr != nil {
		err = casErr
		return
	}
	config = &tls.Config{
		RootCAs:            cas,
		InsecureSkipVerify: insecureSkipVerify,
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS13,
	}
	if len(certPEM) > 0 || len(keyPEM) > 0 {
		certificate, certificateErr := tls.X509KeyPair(certPEM, keyPEM)
		if certificateErr != nil {
			err = errors.New("load client key pair failed", errors.WithMeta(errMetaPkgKey, errMetaPkgVal), errors.WithWrap(certificateErr))
			return
		}
		config.Certificates = []tls.Certificate{certificate}
	}
	return
}

func certPool(caPEM []byte) (cas *x509.CertPool, err error) {
	if len(caPEM) == 0 {
		return
	}
	cas = x509.NewCertPool()
	if ok := cas.AppendCertsFromPEM(caPEM); !ok {
		err = errors.New("append into cert pool failed", errors.WithMeta(errMetaPkgKey, errMetaPkgVal))
		return
	}
	return
}
