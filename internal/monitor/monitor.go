// Package monitor defines the shared skeleton every source monitor
// (rest, ws, telegram, news, chain) implements: connect, parse via a
// data-driven ParserSpec, dedupe against KnownPairSet, emit a RawEvent,
// heartbeat, and recover. Adding a new exchange means supplying a new
// ParserSpec, not a new code path, per spec.md §4.1.
package monitor

import (
	"context"
	"time"

	"github.com/signalforge/fusion/internal/eventlog"
	"github.com/signalforge/fusion/internal/heartbeat"
	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/pairset"
)

// ParserSpec is the data-driven description of how to turn one raw
// response (a decoded JSON document, represented here as any) into
// candidate symbols. PathAccessor navigates to the list of candidate
// records; FilterPredicate decides whether a record represents a genuine
// new listing; SymbolAccessor pulls the raw symbol string out of a record;
// Normalizer, if set, cleans it up (strip suffixes, uppercase, etc).
type ParserSpec struct {
	Exchange        string
	PathAccessor    func(doc any) []any
	FilterPredicate func(record any) bool
	SymbolAccessor  func(record any) string
	Normalizer      func(symbol string) string
}

// Parse runs spec over doc, returning the normalized symbols of every
// record that passes FilterPredicate.
func (ps ParserSpec) Parse(doc any) []string {
	var out []string
	for _, record := range ps.PathAccessor(doc) {
		if !ps.FilterPredicate(record) {
			continue
		}
		symbol := ps.SymbolAccessor(record)
		if symbol == "" {
			continue
		}
		if ps.Normalizer != nil {
			symbol = ps.Normalizer(symbol)
		}
		out = append(out, symbol)
	}
	return out
}

// Emitter is the narrow surface monitors need from the pipeline: append a
// RawEvent to the raw stream and check/update KnownPairSet membership.
type Emitter struct {
	Log     eventlog.EventLog
	Pairs   *pairset.KnownPairSet
	Stream  string
	MaxLen  int64
}

// EmitIfNew dedupes (exchange, symbol) against KnownPairSet and, if new,
// marks it known and appends a RawEvent to the raw stream. Returns
// whether an event was actually emitted.
func (em Emitter) EmitIfNew(ctx context.Context, raw model.RawEvent) (bool, error) {
	known, err := em.Pairs.IsKnown(ctx, raw.Exchange, raw.Symbol)
	if err != nil {
		return false, err
	}
	if known {
		return false, nil
	}
	if err := em.Pairs.MarkKnown(ctx, raw.Exchange, raw.Symbol); err != nil {
		return false, err
	}

	fields := encodeRawEvent(raw)
	if _, err := em.Log.Append(ctx, em.Stream, fields, em.MaxLen); err != nil {
		return false, err
	}
	return true, nil
}

// Recovery classifies an HTTP status or transport error into the action
// spec.md §4.1's Recover step names.
type Recovery int

const (
	RecoveryContinue Recovery = iota
	RecoverySleepLong           // 429: sleep >= 60s
	RecoveryNextCycle            // network/timeout: just try again next cycle
	RecoveryBackoff              // 5xx: the REST monitor retries at its next normal poll; no extra backoff is applied
)

// ClassifyHTTPStatus implements the status-code half of spec.md §4.1's
// Recover step.
func ClassifyHTTPStatus(statusCode int) Recovery {
	switch {
	case statusCode == 429:
		return RecoverySleepLong
	case statusCode == 403 || statusCode == 451:
		return RecoveryContinue
	case statusCode >= 500:
		return RecoveryBackoff
	default:
		return RecoveryContinue
	}
}

// HeartbeatLoop is a small convenience wrapper every concrete monitor
// starts alongside its main loop.
func HeartbeatLoop(ctx context.Context, pub *heartbeat.Publisher) {
	pub.Run(ctx)
}

// ReconnectDelay returns the bounded WS reconnect delay with jitter, per
// spec.md §4.1 ("reconnect after a bounded delay, default 5s, with
// jitter").
func ReconnectDelay(base time.Duration, jitter func() time.Duration) time.Duration {
	if jitter == nil {
		return base
	}
	return base + jitter()
}
