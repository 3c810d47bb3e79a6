package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TLSFiles names the PEM files for one end of a connection.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	// CAFile verifies the other end: client certificates on a server,
	// the server certificate on a client.
	CAFile            string
	RequireClientCert bool
}

// LoadServerTLSConfig builds a TLS 1.3 server config. With a CA file,
// presented client certificates are verified, and RequireClientCert makes
// them mandatory.
func LoadServerTLSConfig(files TLSFiles) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate and key: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		ClientAuth:   tls.NoClientCert,
	}
	if files.CAFile == "" {
		if files.RequireClientCert {
			return nil, errors.New("client certificates require a CA file")
		}
		return cfg, nil
	}

	pool, err := loadCertPool(files.CAFile)
	if err != nil {
		return nil, err
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.VerifyClientCertIfGiven
	if files.RequireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// LoadClientTLSConfig builds a TLS 1.3 client config. The certificate pair
// is optional and only sent when both files are set.
func LoadClientTLSConfig(files TLSFiles) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS13}

	if files.CertFile != "" || files.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate and key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if files.CAFile != "" {
		pool, err := loadCertPool(files.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", path)
	}
	return pool, nil
}

// PeerIdentity maps a verified client certificate to a client id (the
// Common Name) and the scopes listed in its Organizational Unit entries.
func PeerIdentity(cert *x509.Certificate) (clientID string, scopes []string, err error) {
	if cert == nil {
		return "", nil, errors.New("client certificate is nil")
	}
	clientID = strings.TrimSpace(cert.Subject.CommonName)
	if clientID == "" {
		return "", nil, errors.New("certificate Common Name is empty")
	}
	for _, ou := range cert.Subject.OrganizationalUnit {
		if ou = strings.TrimSpace(ou); ou != "" {
			scopes = append(scopes, ou)
		}
	}
	return clientID, scopes, nil
}
