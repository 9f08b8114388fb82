package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
)

func TestWriteAndRemovePidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "minions.pid")

	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePidFile failed: %v", err)
	}
	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(b) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file = %q", b)
	}

	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("removePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("PID file was not removed")
	}
	// removing again or with no path is not an error
	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if err := removePidFile(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}

func TestChildArgsDropsDaemonize(t *testing.T) {
	got := childArgs([]string{"serve", "--daemonize", "--config", "a.toml", "--daemonize=true", "--pidfile", "x.pid"})
	want := []string{"serve", "--config", "a.toml", "--pidfile", "x.pid"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("childArgs = %v, want %v", got, want)
	}
}
