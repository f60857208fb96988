package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSMaterial is the identity and trust store for secured associations.
// It is loaded once per process and read-only afterwards; the configs it
// hands out are independent clones.
type TLSMaterial struct {
	certificate tls.Certificate
	trusted     *x509.CertPool
	trustCount  int
}

// LoadTLSMaterial loads a PEM certificate/key pair and any number of PEM files
// holding certificates the peer may present (the trust store).
func LoadTLSMaterial(certFile, keyFile string, trustedFiles ...string) (*TLSMaterial, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load identity (%s, %s): %w", certFile, keyFile, err)
	}

	pool := x509.NewCertPool()
	count := 0
	for _, path := range trustedFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load trusted certificate (%s): %w", path, err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("load trusted certificate (%s): no PEM certificates found", path)
		}
		count++
	}

	return &TLSMaterial{certificate: cert, trusted: pool, trustCount: count}, nil
}

// TrustedFiles returns how many trust store files were loaded.
func (m *TLSMaterial) TrustedFiles() int {
	return m.trustCount
}

// ServerConfig builds the acceptor-side TLS configuration. With
// requireClientCert the peer must present a certificate signed by the trust store.
func (m *TLSMaterial) ServerConfig(requireClientCert bool) *tls.Config {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{m.certificate},
		MinVersion:   tls.VersionTLS12,
	}
	if m.trustCount > 0 {
		cfg.ClientCAs = m.trusted.Clone()
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	if requireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

// ClientConfig builds the requestor-side TLS configuration verifying the server
// against the trust store. serverName may be empty, in which case Dial derives
// it from the address.
func (m *TLSMaterial) ClientConfig(serverName string) *tls.Config {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{m.certificate},
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}
	if m.trustCount > 0 {
		cfg.RootCAs = m.trusted.Clone()
	}
	return cfg
}
