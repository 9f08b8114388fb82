// Package opensearch indexes minions lifecycle events in OpenSearch (or
// Elasticsearch) so they can be charted next to other service logs.
//
// Every event becomes one document in a single index, "minions-history"
// unless the DSN names another:
//
//	{
//	  "@timestamp": "2026-01-02T15:04:05.999999999Z",
//	  "type":       "start",
//	  "process_id": 3,
//	  "name":       "worker",
//	  "flake_url":  "github:o/r#worker",
//	  "pid":        4242,
//	  "status":     "RUNNING"
//	}
//
// The document id is derived from process id, event type and timestamp, so a
// retried send overwrites instead of duplicating. The sink is write-only: the
// manager reads history back from the SQL sink.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fordtom/minions/internal/history"
)

const DefaultIndex = "minions-history"

type document struct {
	Timestamp time.Time         `json:"@timestamp"`
	Type      history.EventType `json:"type"`
	ProcessID int64             `json:"process_id"`
	Name      string            `json:"name,omitempty"`
	FlakeURL  string            `json:"flake_url"`
	PID       *int              `json:"pid,omitempty"`
	Status    string            `json:"status"`
}

func newDocument(e history.Event) document {
	return document{
		Timestamp: e.OccurredAt.UTC(),
		Type:      e.Type,
		ProcessID: e.ProcessID,
		Name:      e.Name,
		FlakeURL:  e.FlakeURL,
		PID:       e.PID,
		Status:    e.Status,
	}
}

func (d document) id() string {
	return fmt.Sprintf("%d-%s-%d", d.ProcessID, d.Type, d.Timestamp.UnixNano())
}

type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

var _ history.Sink = (*Sink)(nil)

// New returns a sink writing to index on the cluster at baseURL. An empty
// index selects DefaultIndex.
func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *Sink) Index() string { return s.index }

// Send stores e with PUT /<index>/_doc/<id>.
func (s *Sink) Send(ctx context.Context, e history.Event) error {
	doc := newDocument(e)
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("opensearch: encode event: %w", err)
	}
	u := s.baseURL + "/" + url.PathEscape(s.index) + "/_doc/" + url.PathEscape(doc.id())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: index %s: %w", s.index, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch: index %s: status %d: %s", s.index, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
