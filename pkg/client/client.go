// Package client is a Go client for the minions REST API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:3000/api"
	DefaultTimeout = 30 * time.Second
)

// APIError is returned for every non-success envelope.
type APIError struct {
	Status  int
	Code    string // e.g. NotFound, AlreadyRunning
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

type Config struct {
	BaseURL string
	// Timeout bounds each request; stop can take the daemon's full grace period.
	Timeout time.Duration
	Logger  *slog.Logger
	// CACert is a PEM file trusted for https base URLs, e.g. the daemon's
	// generated tls_ca.crt.
	CACert string
	// Insecure skips certificate verification.
	Insecure bool
}

func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.CACert != "" || cfg.Insecure {
		tc, err := clientTLS(cfg)
		if err != nil {
			cfg.Logger.Error("TLS setup failed", "error", err)
		} else {
			hc.Transport = &http.Transport{Proxy: http.ProxyFromEnvironment, TLSClientConfig: tc}
		}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  hc,
		logger:  cfg.Logger,
	}
}

func clientTLS(cfg Config) (*tls.Config, error) {
	// #nosec G402 -- Insecure is an explicit opt-in
	tc := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.Insecure}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// IsReachable checks the daemon's health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	var out map[string]string
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	return true
}

func (c *Client) List(ctx context.Context) ([]Process, error) {
	var out []Process
	return out, c.do(ctx, http.MethodGet, "/processes", nil, &out)
}

func (c *Client) Get(ctx context.Context, id int64) (Process, error) {
	var out Process
	return out, c.do(ctx, http.MethodGet, processPath(id, ""), nil, &out)
}

func (c *Client) Create(ctx context.Context, in Input) (Process, error) {
	var out Process
	return out, c.do(ctx, http.MethodPost, "/processes", in, &out)
}

func (c *Client) Update(ctx context.Context, id int64, in Input) (Process, error) {
	var out Process
	return out, c.do(ctx, http.MethodPut, processPath(id, ""), in, &out)
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	var out struct {
		ID int64 `json:"id"`
	}
	return c.do(ctx, http.MethodDelete, processPath(id, ""), nil, &out)
}

func (c *Client) Start(ctx context.Context, id int64) (Process, error) {
	var out Process
	return out, c.do(ctx, http.MethodPost, processPath(id, "start"), nil, &out)
}

func (c *Client) Stop(ctx context.Context, id int64) (Process, error) {
	var out Process
	return out, c.do(ctx, http.MethodPost, processPath(id, "stop"), nil, &out)
}

// Reconcile returns the ids whose stale RUNNING state was cleared.
func (c *Client) Reconcile(ctx context.Context) ([]int64, error) {
	var out struct {
		Reconciled []int64 `json:"reconciled"`
	}
	err := c.do(ctx, http.MethodPost, "/processes/reconcile", nil, &out)
	return out.Reconciled, err
}

func (c *Client) History(ctx context.Context, id int64, limit int) ([]Event, error) {
	p := processPath(id, "history")
	if limit > 0 {
		p += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out []Event
	return out, c.do(ctx, http.MethodGet, p, nil, &out)
}

func (c *Client) Resources(ctx context.Context, id int64) (Resources, error) {
	var out Resources
	return out, c.do(ctx, http.MethodGet, processPath(id, "resources"), nil, &out)
}

func processPath(id int64, action string) string {
	p := "/processes/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("api request", "method", method, "path", path)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: "invalid response: " + err.Error()}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
