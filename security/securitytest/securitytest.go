// Package securitytest issues throwaway certificates and ready-made
// security contexts for tests.
package securitytest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brickingsoft/aiotls/security"
)

const ServerName = "aiotls.test"

type Authority struct {
	cert    *x509.Certificate
	key     *ecdsa.PrivateKey
	certPEM []byte
}

func NewAuthority(t testing.TB, commonName string) *Authority {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ca key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create ca cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}
	return &Authority{
		cert:    cert,
		key:     key,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

func (a *Authority) CertPEM() []byte {
	return a.certPEM
}

func (a *Authority) IssueServerCert(t testing.TB, dnsNames ...string) (certPEM []byte, keyPEM []byte) {
	t.Helper()
	commonName := ServerName
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else {
		dnsNames = []string{ServerName}
	}
	return a.issueCert(t, commonName, x509.ExtKeyUsageServerAuth, dnsNames)
}

func (a *Authority) IssueClientCert(t testing.TB, commonName string) (certPEM []byte, keyPEM []byte) {
	t.Helper()
	return a.issueCert(t, commonName, x509.ExtKeyUsageClientAuth, nil)
}

func (a *Authority) issueCert(t testing.TB, commonName string, usage x509.ExtKeyUsage, dnsNames []string) ([]byte, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     dnsNames,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("create signed cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// WriteFiles stores a PEM pair under dir and returns both paths.
func WriteFiles(t testing.TB, dir string, name string, certPEM []byte, keyPEM []byte) (string, string) {
	t.Helper()
	certPath := filepath.Join(dir, name+".crt")
	keyPath := filepath.Join(dir, name+".key")
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if len(keyPEM) > 0 {
		if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
			t.Fatalf("write key: %v", err)
		}
	}
	return certPath, keyPath
}

// Configs returns a verified client/server config pair for ServerName.
func Configs(t testing.TB) (client *tls.Config, server *tls.Config) {
	t.Helper()
	ca := NewAuthority(t, "aiotls test ca")
	certPEM, keyPEM := ca.IssueServerCert(t)
	var err error
	server, err = security.ServerX509KeyPair(certPEM, keyPEM, nil, tls.NoClientCert)
	if err != nil {
		t.Fatalf("server config: %v", err)
	}
	client, err = security.ClientX509KeyPair(nil, nil, ca.CertPEM(), false, ServerName)
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	return
}

// Contexts returns a client/server context pair that trust each other.
func Contexts(t testing.TB, options ...security.Option) (client *security.Context, server *security.Context) {
	t.Helper()
	clientConfig, serverConfig := Configs(t)
	var err error
	if client, err = security.NewContext(security.ClientMethod, clientConfig, options...); err != nil {
		t.Fatalf("client context: %v", err)
	}
	if server, err = security.NewContext(security.ServerMethod, serverConfig, options...); err != nil {
		t.Fatalf("server context: %v", err)
	}
	return
}
