package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var errInvalidPEM = errors.New("no PEM encoded certificates found")

// The certificate material shared by every TLS connection the pi command makes
// or accepts; each role derives its own tls.Config from it.
type tlsMaterial struct {
	certFile string
	keyFile  string
	caFiles  []string
}

// Reads the TLS file paths from the bound flags, expanding any leading ~.
func tlsMaterialFromFlags() (tlsMaterial, error) {
	var m tlsMaterial
	var err error
	if m.certFile, err = homedir.Expand(viper.GetString(TLSCertFlagName)); err != nil {
		return m, fmt.Errorf("invalid certificate path: %w", err)
	}
	if m.keyFile, err = homedir.Expand(viper.GetString(TLSKeyFlagName)); err != nil {
		return m, fmt.Errorf("invalid key path: %w", err)
	}
	for _, path := range viper.GetStringSlice(CACertFlagName) {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return m, fmt.Errorf("invalid CA certificate path: %w", err)
		}
		m.caFiles = append(m.caFiles, expanded)
	}
	return m, nil
}

func (m tlsMaterial) hasKeyPair() bool {
	return m.certFile != "" && m.keyFile != ""
}

// Returns the system pool extended with the CA files, or nil when there are
// none so that crypto/tls falls back to its defaults.
func (m tlsMaterial) caPool() (*x509.CertPool, error) {
	if len(m.caFiles) == 0 {
		return nil, nil
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("failed to load system certificates: %w", err)
	}
	for _, path := range m.caFiles {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA certificate %s: %w", path, errInvalidPEM)
		}
	}
	return pool, nil
}

func (m tlsMaterial) baseConfig() (*tls.Config, error) {
	config := &tls.Config{MinVersion: tls.VersionTLS12}
	if !m.hasKeyPair() {
		return config, nil
	}
	pair, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair %s/%s: %w", m.certFile, m.keyFile, err)
	}
	config.Certificates = append(config.Certificates, pair)
	return config, nil
}

// Builds the configuration presented by a listening PiService. The CA files,
// if any, verify client certificates; requireClientCert rejects clients that
// do not present one.
func (m tlsMaterial) serverConfig(requireClientCert bool) (*tls.Config, error) {
	logger.V(1).Info("Preparing server TLS configuration", "cert", m.certFile, "cacerts", m.caFiles, "requireClientCert", requireClientCert)
	config, err := m.baseConfig()
	if err != nil {
		return nil, err
	}
	if config.ClientCAs, err = m.caPool(); err != nil {
		return nil, err
	}
	switch {
	case requireClientCert:
		config.ClientAuth = tls.RequireAndVerifyClientCert
	case config.ClientCAs != nil:
		config.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		config.ClientAuth = tls.NoClientCert
	}
	return config, nil
}

// Builds the configuration used to dial a PiService or collector. The CA
// files, if any, verify the server; a non-empty serverName overrides the name
// checked against its certificate.
func (m tlsMaterial) clientConfig(serverName string, skipVerify bool) (*tls.Config, error) {
	logger.V(1).Info("Preparing client TLS configuration", "cert", m.certFile, "cacerts", m.caFiles, "serverName", serverName, "skipVerify", skipVerify)
	config, err := m.baseConfig()
	if err != nil {
		return nil, err
	}
	if config.RootCAs, err = m.caPool(); err != nil {
		return nil, err
	}
	config.ServerName = serverName
	config.InsecureSkipVerify = skipVerify //nolint:gosec // Deliberate user choice
	return config, nil
}
