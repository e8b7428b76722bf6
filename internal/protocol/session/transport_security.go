package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
	ErrTLSCABundle             = errors.New("session: parse tls ca bundle")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// ValidateClientTransport checks a gateway URL against the security mode.
// Production requires wss and certificate verification.
func (c Config) ValidateClientTransport(rawURL string) error {
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if mode == SecurityModeProduction {
		if u.Scheme != "wss" {
			return ErrTLSRequired
		}
		if c.TLS.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	return nil
}

// ClientTLSConfig builds the dialer TLS config. It returns nil when the
// system defaults apply.
func (c Config) ClientTLSConfig() (*tls.Config, error) {
	caPath := strings.TrimSpace(c.TLS.CAFile)
	serverName := strings.TrimSpace(c.TLS.ServerName)
	if caPath == "" && serverName == "" && !c.TLS.InsecureSkipVerify {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
	if caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("%w: %s", ErrTLSCABundle, caPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
