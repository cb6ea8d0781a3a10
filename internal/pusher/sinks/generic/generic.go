// Package generic is a Pusher Sink that posts a language-neutral JSON
// envelope, for arbitrary downstream consumers (execution engines,
// dashboards, other services) rather than a chat-formatted message.
package generic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/signalforge/fusion/internal/httpclient"
	"github.com/signalforge/fusion/internal/model"
)

// SuccessPredicate decides whether an HTTP response counts as delivered.
type SuccessPredicate func(statusCode int, body []byte) bool

// DefaultSuccessPredicate accepts any 2xx response.
func DefaultSuccessPredicate(statusCode int, _ []byte) bool {
	return statusCode >= 200 && statusCode < 300
}

// Sink posts the FusedEvent as-is (JSON) to url.
type Sink struct {
	name      string
	url       string
	pool      *httpclient.Pool
	predicate SuccessPredicate
}

// New returns a generic JSON Sink named name, posting to url.
func New(name, url string, pool *httpclient.Pool, predicate SuccessPredicate) *Sink {
	if predicate == nil {
		predicate = DefaultSuccessPredicate
	}
	return &Sink{name: name, url: url, pool: pool, predicate: predicate}
}

func (s *Sink) Name() string { return s.name }

// Send implements pusher.Sink.
func (s *Sink) Send(ctx context.Context, fused model.FusedEvent) error {
	body, err := json.Marshal(fused)
	if err != nil {
		return fmt.Errorf("generic: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("generic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fused.IdempotencyKey)

	resp, err := s.pool.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("generic: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody := make([]byte, 4096)
	n, _ := resp.Body.Read(respBody)

	if !s.predicate(resp.StatusCode, respBody[:n]) {
		return fmt.Errorf("generic: send rejected, status %d", resp.StatusCode)
	}
	return nil
}
