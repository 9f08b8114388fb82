package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "minions.toml")
	db := filepath.ToSlash(filepath.Join(dir, "serve.db"))
	body := strings.Join([]string{
		"[server]",
		`listen = "127.0.0.1:0"`,
		"[store]",
		`dsn = "` + db + `"`,
		"[log]",
		`level = "warn"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunServeStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "minions.pid")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, ServeFlags{ConfigPath: writeConfig(t, dir), PidFile: pidFile})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(pidFile); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("pid file never appeared")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatalf("runServe did not return")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed on exit")
	}
}

func TestRunServeBadConfig(t *testing.T) {
	if err := runServe(context.Background(), ServeFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")}); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestRootHasCommands(t *testing.T) {
	root := buildRoot(command{out: os.Stdout})
	want := []string{"serve", "list", "get", "create", "update", "delete", "start", "stop", "reconcile", "history", "resources", "ui"}
	for _, name := range want {
		c, _, err := root.Find([]string{name})
		if err != nil || c == root {
			t.Fatalf("command %q not registered", name)
		}
	}
}
