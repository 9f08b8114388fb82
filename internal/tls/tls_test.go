package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupDisabled(t *testing.T) {
	cfg, err := Setup(Config{})
	if err != nil || cfg != nil {
		t.Fatalf("disabled setup = %v, %v", cfg, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled ignores fields", cfg: Config{CertFile: "x"}},
		{name: "dir only", cfg: Config{Enabled: true, Dir: "/tmp/x"}},
		{name: "files", cfg: Config{Enabled: true, CertFile: "a", KeyFile: "b"}},
		{name: "cert without key", cfg: Config{Enabled: true, CertFile: "a"}, wantErr: true},
		{name: "nothing", cfg: Config{Enabled: true}, wantErr: true},
		{name: "bad version", cfg: Config{Enabled: true, Dir: "d", MinVersion: "1.0"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	cfg, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true, Hosts: []string{"minions.local", "127.0.0.1"}, MinVersion: "1.2"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("min version = %x", cfg.MinVersion)
	}
	cert, err := cfg.GetCertificate(nil)
	if err != nil {
		t.Fatalf("get certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := leaf.VerifyHostname("minions.local"); err != nil {
		t.Fatalf("dns name missing: %v", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Fatalf("ip missing: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, KeyFile))
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 && os.PathSeparator == '/' {
		t.Fatalf("key file is group/world readable: %v", perm)
	}

	ca, err := os.ReadFile(filepath.Join(dir, CACertFile))
	if err != nil {
		t.Fatalf("read ca: %v", err)
	}
	block, _ := pem.Decode(ca)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("ca file is not a certificate")
	}

	// second setup reuses the files
	before, _ := os.ReadFile(filepath.Join(dir, CertFile))
	if _, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true}); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, CertFile))
	if string(before) != string(after) {
		t.Fatalf("certificate regenerated although present")
	}
}

func TestSetupMissingFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := Setup(Config{Enabled: true, Dir: dir}); err == nil {
		t.Fatalf("expected error without certificates and auto_generate")
	}
}
