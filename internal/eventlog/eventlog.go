// Package eventlog is the durable append-only log abstraction every stage
// of the fusion pipeline reads from and writes to. Production wires
// eventlog/redisstream (Redis Streams + consumer groups); tests wire
// eventlog/memlog, a dependency-free fake with identical semantics.
package eventlog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by the auxiliary KV operations when a key is
// absent.
var ErrNotFound = errors.New("eventlog: key not found")

// Message is one entry read back from a stream, carrying the ID needed to
// Ack it.
type Message struct {
	ID     string
	Fields map[string]string
}

// EventLog is the contract spec.md §7 names: append/consume/ack on named
// streams, plus the small KV/set/hash capability set the pipeline's stateful
// components (KnownPairSet, CooldownStore, TriggerHistory, heartbeats) need.
// Every method takes a context so callers can bound blocking calls.
type EventLog interface {
	// Append adds fields as a new entry to stream, capped at maxLen entries
	// (approximate trim, mirroring Redis Streams' MAXLEN ~).
	Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error)

	// EnsureGroup creates a consumer group on stream starting from the
	// beginning of the log, and is a no-op if the group already exists.
	EnsureGroup(ctx context.Context, stream, group string) error

	// ReadGroup reads up to count new, unclaimed entries from stream for
	// consumer within group, blocking up to block for at least one entry.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error)

	// Ack acknowledges ids within group on stream, removing them from the
	// group's pending entries list.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Set writes key to value with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SIsMember reports whether member is in the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// HSet writes fields into the hash at key.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HGetAll reads every field of the hash at key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Close releases underlying resources (connections, background loops).
	Close() error
}
