// Package tls builds the server-side TLS configuration for the daemon,
// optionally generating a self-signed certificate on first start.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"
)

type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// CertFile and KeyFile take precedence over Dir.
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// Dir holds tls.crt and tls.key; with AutoGenerate they are created if missing.
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	// Hosts are the DNS names and IPs put in a generated certificate.
	Hosts      []string `mapstructure:"hosts"`
	MinVersion string   `mapstructure:"min_version"`
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("server.tls: cert_file and key_file must be set together")
	}
	if c.CertFile == "" && c.Dir == "" {
		return errors.New("server.tls: set cert_file/key_file or dir")
	}
	if _, err := parseVersion(c.MinVersion); err != nil {
		return err
	}
	return nil
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.3", "tls1.3", "TLS1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2", "TLS1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("server.tls: unsupported min_version %q", v)
}

// Setup returns nil when TLS is disabled. Certificates are re-read on every
// handshake so renewed files are picked up without a restart.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	minVer, _ := parseVersion(cfg.MinVersion)

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" {
		certPath = filepath.Join(cfg.Dir, CertFile)
		keyPath = filepath.Join(cfg.Dir, KeyFile)
		if cfg.AutoGenerate && !exists(certPath, keyPath) {
			if err := GenerateSelfSigned(cfg.Dir, cfg.Hosts); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: certificateFunc(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

func certificateFunc(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
