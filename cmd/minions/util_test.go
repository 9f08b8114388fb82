package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fordtom/minions/pkg/client"
)

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printJSON(&buf, map[string]int{"id": 7}); err != nil {
		t.Fatalf("printJSON: %v", err)
	}
	if got := buf.String(); got != "{\n  \"id\": 7\n}\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1", want: 1},
		{in: "42", want: 42},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseID(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parseID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInputOnlySendsGivenOptionals(t *testing.T) {
	f := InputFlags{FlakeURL: "github:me/bot", Name: "ignored", set: map[string]bool{"args": true}}
	in, err := f.input()
	if err != nil {
		t.Fatalf("input: %v", err)
	}
	if in.Name != nil {
		t.Fatalf("name should be absent, got %q", *in.Name)
	}
	if in.Args == nil || *in.Args != "" {
		t.Fatalf("args should be present and empty, got %v", in.Args)
	}
	if in.EnvVars != nil {
		t.Fatalf("env should be absent")
	}
}

func TestInputEnvFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.env")
	if err := os.WriteFile(good, []byte("A=1\nB=\"two words\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	in, err := InputFlags{FlakeURL: "x", EnvFile: good, set: map[string]bool{"env-file": true}}.input()
	if err != nil {
		t.Fatalf("input: %v", err)
	}
	if in.EnvVars == nil || !strings.Contains(*in.EnvVars, "two words") {
		t.Fatalf("env file not read: %v", in.EnvVars)
	}

	bad := filepath.Join(dir, "bad.env")
	if err := os.WriteFile(bad, []byte("not a pair\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (InputFlags{FlakeURL: "x", EnvFile: bad, set: map[string]bool{"env-file": true}}).input(); err == nil {
		t.Fatalf("expected error for env file without assignments")
	}

	mixed := filepath.Join(dir, "mixed.env")
	if err := os.WriteFile(mixed, []byte("junk line\nA=${HOME}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	in, err = InputFlags{FlakeURL: "x", EnvFile: mixed, set: map[string]bool{"env-file": true}}.input()
	if err != nil {
		t.Fatalf("env file with a junk line: %v", err)
	}
	if *in.EnvVars != "junk line\nA=${HOME}\n" {
		t.Fatalf("env file should be sent verbatim, got %q", *in.EnvVars)
	}
	if _, err := (InputFlags{FlakeURL: "x", set: map[string]bool{"env": true, "env-file": true}}).input(); err == nil {
		t.Fatalf("expected error when both --env and --env-file are set")
	}
}

func TestBaseURLFromListen(t *testing.T) {
	tests := []struct {
		listen, base string
		https        bool
		want         string
	}{
		{"127.0.0.1:3000", "/api", false, "http://127.0.0.1:3000/api"},
		{":8080", "/api/", false, "http://127.0.0.1:8080/api"},
		{"0.0.0.0:9000", "", false, "http://127.0.0.1:9000"},
		{"example.com:443", "/v1", true, "https://example.com:443/v1"},
		{"garbage", "/api", false, client.DefaultBaseURL},
	}
	for _, tt := range tests {
		if got := baseURLFromListen(tt.listen, tt.base, tt.https); got != tt.want {
			t.Fatalf("baseURLFromListen(%q, %q) = %q, want %q", tt.listen, tt.base, got, tt.want)
		}
	}
}
