package harness

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"mqtt-test-harness/config"
)

const (
	// defaultKeepalive is used when Credentials.Keepalive is zero.
	defaultKeepalive = 60 * time.Second

	tlsMinVersion = tls.VersionTLS12
)

// Credentials is the mTLS material for one connection attempt.
type Credentials struct {
	CACert     string
	ClientCert string
	ClientKey  string
	Keepalive  time.Duration
}

// CredentialsFromConfig extracts connection credentials from the MQTT config.
func CredentialsFromConfig(cfg config.MQTTConfig) Credentials {
	return Credentials{
		CACert:     cfg.CACert,
		ClientCert: cfg.ClientCert,
		ClientKey:  cfg.ClientKey,
		Keepalive:  cfg.Keepalive.Duration(),
	}
}

func (c Credentials) keepalive() time.Duration {
	if c.Keepalive <= 0 {
		return defaultKeepalive
	}
	return c.Keepalive
}

// checkReadable verifies every certificate path names a readable regular file.
func (c Credentials) checkReadable() error {
	for _, file := range []struct {
		kind string
		path string
	}{
		{"ca certificate", c.CACert},
		{"client certificate", c.ClientCert},
		{"client key", c.ClientKey},
	} {
		if file.path == "" {
			return fmt.Errorf("%s path is empty", file.kind)
		}
		f, err := os.Open(file.path)
		if err != nil {
			return fmt.Errorf("%s: %w", file.kind, err)
		}
		info, err := f.Stat()
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", file.kind, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s: %s is a directory", file.kind, file.path)
		}
	}
	return nil
}

// newTLSConfig creates the mutual TLS configuration for the broker connection
func newTLSConfig(c Credentials) (*tls.Config, error) {
	if err := c.checkReadable(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(c.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
		MinVersion:   tlsMinVersion,
	}, nil
}
