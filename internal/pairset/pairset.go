// Package pairset tracks which (exchange, symbol) pairs are already known
// so monitors only emit RawEvents for genuinely new listings.
package pairset

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/signalforge/fusion/internal/eventlog"
)

// KnownPairSet is backed by the event log's set operations, with a
// read-through local cache so the hot path (IsKnown, called once per
// observed symbol per poll) doesn't round-trip to Redis for pairs already
// seen this process lifetime.
type KnownPairSet struct {
	log   eventlog.EventLog
	cache sync.Map // key: "exchange:symbol" -> struct{}
}

// New returns a KnownPairSet backed by log.
func New(log eventlog.EventLog) *KnownPairSet {
	return &KnownPairSet{log: log}
}

func key(exchange, symbol string) string {
	return strings.ToLower(exchange) + ":" + strings.ToUpper(symbol)
}

func setKey(exchange string) string {
	return fmt.Sprintf("pairset:%s", strings.ToLower(exchange))
}

// IsKnown reports whether (exchange, symbol) has been seen before, first
// consulting the local cache and falling back to the event log's set.
func (s *KnownPairSet) IsKnown(ctx context.Context, exchange, symbol string) (bool, error) {
	k := key(exchange, symbol)
	if _, ok := s.cache.Load(k); ok {
		return true, nil
	}

	known, err := s.log.SIsMember(ctx, setKey(exchange), strings.ToUpper(symbol))
	if err != nil {
		return false, err
	}
	if known {
		s.cache.Store(k, struct{}{})
	}
	return known, nil
}

// MarkKnown records that (exchange, symbol) has now been observed, so
// later polls don't re-trigger on it.
func (s *KnownPairSet) MarkKnown(ctx context.Context, exchange, symbol string) error {
	if err := s.log.SAdd(ctx, setKey(exchange), strings.ToUpper(symbol)); err != nil {
		return err
	}
	s.cache.Store(key(exchange, symbol), struct{}{})
	return nil
}

// Seed bulk-loads a known symbol list for exchange, used at startup to
// pre-populate the set from an exchange's full market listing so the
// first poll after a cold start doesn't treat every existing pair as new.
func (s *KnownPairSet) Seed(ctx context.Context, exchange string, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	upper := make([]string, len(symbols))
	for i, sym := range symbols {
		upper[i] = strings.ToUpper(sym)
	}
	if err := s.log.SAdd(ctx, setKey(exchange), upper...); err != nil {
		return err
	}
	for _, sym := range upper {
		s.cache.Store(key(exchange, sym), struct{}{})
	}
	return nil
}
