package minions

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/fordtom/minions/pkg/client"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Store.DSN = filepath.Join(t.TempDir(), "minions.db")
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Supervisor.RunCommand = []string{"/bin/sh", "-c"}
	cfg.Supervisor.GracePeriod = time.Second
	return cfg
}

func TestLockPath(t *testing.T) {
	cfg := &Config{}
	cfg.Store.DSN = "sqlite:///var/lib/minions/state.db?_pragma=foo"
	if got := LockPath(cfg); got != "/var/lib/minions/state.db.lock" {
		t.Fatalf("sqlite lock path = %q", got)
	}
	cfg.Store.DSN = "postgres://u:p@localhost/db"
	if got := LockPath(cfg); got != "" {
		t.Fatalf("postgres should not lock, got %q", got)
	}
	cfg.Server.LockFile = "/tmp/custom.lock"
	if got := LockPath(cfg); got != "/tmp/custom.lock" {
		t.Fatalf("explicit lock path = %q", got)
	}
}

func TestOpenRejectsSecondDaemonOnSameDatabase(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	d1, err := Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := Open(ctx, cfg, nil); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := d1.Close(ctx, false); err != nil {
		t.Fatalf("close: %v", err)
	}

	d2, err := Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = d2.Close(ctx, false)
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.RunCommand = nil
	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := Open(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestDaemonServeAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = d.Close(context.Background(), false) }()

	ln, err := d.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	for _, path := range []string{"/api/healthz", "/metrics"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}

func TestKindOfReExport(t *testing.T) {
	if got := KindOf(ErrAlreadyRunning); got != "AlreadyRunning" {
		t.Fatalf("kind = %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("nil kind = %q", got)
	}
}

func TestDaemonServesTLS(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Join(t.TempDir(), "tls")
	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.Dir = dir
	cfg.Server.TLS.AutoGenerate = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = d.Close(context.Background(), false) }()
	ln, err := d.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, ln) }()

	c := client.New(client.Config{
		BaseURL: "https://" + ln.Addr().String() + "/api",
		CACert:  filepath.Join(dir, "tls_ca.crt"),
	})
	procs, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list over tls: %v", err)
	}
	if len(procs) != 0 {
		t.Fatalf("expected empty list, got %d", len(procs))
	}

	plain := client.New(client.Config{BaseURL: "https://" + ln.Addr().String() + "/api"})
	if plain.IsReachable(ctx) {
		t.Fatalf("untrusted certificate should be rejected")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
}
