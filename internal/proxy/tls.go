// internal/proxy/tls.go
package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/tycho01/parsz/internal/utils"
)

// BuildTLSConfig creates a tls.Config for fetches. The zero TLSConfig
// yields a verifying TLS 1.2+ configuration.
func BuildTLSConfig(config TLSConfig, logger utils.Logger) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: config.InsecureSkipVerify,
		ServerName:         config.ServerName,
	}

	if config.InsecureSkipVerify && logger != nil {
		logger.Warn("TLS certificate verification is disabled (insecure_skip_verify: true)")
	}

	if len(config.RootCAs) > 0 {
		rootCAs := x509.NewCertPool()
		for _, caFile := range config.RootCAs {
			caCert, err := os.ReadFile(caFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read root CA file %s: %w", caFile, err)
			}
			if !rootCAs.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to parse root CA certificate from %s", caFile)
			}
		}
		tlsConfig.RootCAs = rootCAs
	}

	if config.ClientCert != "" && config.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.ClientCert, config.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// ValidateTLSConfig checks that the referenced files exist and that client
// certificate and key come together.
func ValidateTLSConfig(config TLSConfig) error {
	if (config.ClientCert == "") != (config.ClientKey == "") {
		return fmt.Errorf("both client_cert and client_key must be provided for mutual TLS")
	}
	for _, f := range append([]string{config.ClientCert, config.ClientKey}, config.RootCAs...) {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", f)
		}
	}
	return nil
}

// ValidateConfig checks a pool configuration without building it.
func ValidateConfig(config ProxyConfig) error {
	if err := ValidateTLSConfig(config.TLS); err != nil {
		return err
	}
	if !config.Enabled {
		return nil
	}
	switch config.Rotation {
	case "", RotationRoundRobin, RotationRandom, RotationWeighted:
	default:
		return fmt.Errorf("unknown rotation %q", config.Rotation)
	}
	_, err := NewProxyManager(config, nil)
	return err
}
