// Package webhook is a Pusher Sink that posts a Markdown-formatted message
// to a chat webhook (the shape WeChat/Slack/Discord-style incoming
// webhooks expect), grounded on original_source/src/fusion/turbo_pusher.py's
// format_wechat_message.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/signalforge/fusion/internal/httpclient"
	"github.com/signalforge/fusion/internal/model"
)

// SuccessPredicate decides whether an HTTP response counts as delivered;
// spec.md §4.5 requires this to be configurable per sink rather than
// hard-coded to "status 200".
type SuccessPredicate func(statusCode int, body []byte) bool

// DefaultSuccessPredicate accepts any 2xx response.
func DefaultSuccessPredicate(statusCode int, _ []byte) bool {
	return statusCode >= 200 && statusCode < 300
}

// Sink posts Markdown payloads to url.
type Sink struct {
	name      string
	url       string
	pool      *httpclient.Pool
	predicate SuccessPredicate
}

// New returns a webhook Sink named name, posting to url.
func New(name, url string, pool *httpclient.Pool, predicate SuccessPredicate) *Sink {
	if predicate == nil {
		predicate = DefaultSuccessPredicate
	}
	return &Sink{name: name, url: url, pool: pool, predicate: predicate}
}

func (s *Sink) Name() string { return s.name }

// Send implements pusher.Sink.
func (s *Sink) Send(ctx context.Context, fused model.FusedEvent) error {
	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": formatMarkdown(fused),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.pool.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody := make([]byte, 4096)
	n, _ := resp.Body.Read(respBody)

	if !s.predicate(resp.StatusCode, respBody[:n]) {
		return fmt.Errorf("webhook: send rejected, status %d", resp.StatusCode)
	}
	return nil
}

func formatMarkdown(fused model.FusedEvent) string {
	sig, dec := fused.Signal, fused.Decision

	emoji := "📢"
	switch {
	case dec.Urgency == model.UrgencyImmediate || dec.Urgency == model.UrgencyHigh || sig.Tier == model.TierS:
		emoji = "🔥🔥🔥"
	case sig.TotalScore >= 60:
		emoji = "⚡⚡"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s new listing signal\n\n", emoji)
	fmt.Fprintf(&b, "**Exchange**: %s\n", strings.ToUpper(firstOr(sig.Exchanges, "N/A")))
	fmt.Fprintf(&b, "**Symbol**: %s\n", sig.Symbol)
	fmt.Fprintf(&b, "**Score**: %.0f | **Tier**: %s | **Action**: %s\n", sig.TotalScore, sig.Tier, dec.Action)

	if sig.IsSuperEvent {
		fmt.Fprintf(&b, "**Confirmed**: 🔥 %d exchanges / %d sources\n", len(sig.Exchanges), len(sig.Sources))
	}
	if dec.Reason != "" {
		fmt.Fprintf(&b, "**Decision**: %s (%s)\n", dec.Reason, dec.Strategy)
	}
	if sig.ContractAddress != "" {
		fmt.Fprintf(&b, "**Contract**: `%s` (%s)\n", shortAddress(sig.ContractAddress), sig.Chain)
	}
	fmt.Fprintf(&b, "\n%s", time.UnixMilli(dec.DecidedAt*1000).UTC().Format("15:04:05"))

	return b.String()
}

func firstOr(s []string, fallback string) string {
	if len(s) == 0 {
		return fallback
	}
	return s[0]
}

func shortAddress(addr string) string {
	if len(addr) <= 20 {
		return addr
	}
	return addr[:10] + "..." + addr[len(addr)-8:]
}
