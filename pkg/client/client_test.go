package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL})
	_, err := c.List(context.Background())
	var ae *APIError
	if !errors.As(err, &ae) || ae.Status != http.StatusBadGateway {
		t.Fatalf("expected APIError with 502, got %v", err)
	}
	if c.IsReachable(context.Background()) {
		t.Fatal("non-envelope server reported reachable")
	}

	dead := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if _, err := dead.List(context.Background()); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestDefaultConfig(t *testing.T) {
	c := New(Config{})
	if c.baseURL != DefaultBaseURL || c.client.Timeout != DefaultTimeout {
		t.Fatalf("defaults not applied: %s %v", c.baseURL, c.client.Timeout)
	}
	if DefaultConfig().BaseURL != DefaultBaseURL {
		t.Fatal("DefaultConfig base url")
	}
}
