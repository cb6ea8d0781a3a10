// Package memlog is an in-memory EventLog used by tests and by --dry-run
// so the whole pipeline can run without a Redis instance.
package memlog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/signalforge/fusion/internal/eventlog"
)

type entry struct {
	id     string
	fields map[string]string
}

type stream struct {
	entries []entry
	groups  map[string]*group
}

type group struct {
	cursor  int // index into stream.entries of the next unread entry
	pending map[string]entry
}

type kvEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// Log is a goroutine-safe in-memory EventLog.
type Log struct {
	mu      sync.Mutex
	streams map[string]*stream
	kv      map[string]kvEntry
	sets    map[string]map[string]struct{}
	hashes  map[string]map[string]string
	seq     int64
}

// New returns an empty in-memory log.
func New() *Log {
	return &Log{
		streams: map[string]*stream{},
		kv:      map[string]kvEntry{},
		sets:    map[string]map[string]struct{}{},
		hashes:  map[string]map[string]string{},
	}
}

func (l *Log) nextID() string {
	l.seq++
	return strconv.FormatInt(l.seq, 10)
}

func (l *Log) streamFor(name string) *stream {
	s, ok := l.streams[name]
	if !ok {
		s = &stream{groups: map[string]*group{}}
		l.streams[name] = s
	}
	return s
}

// Append implements eventlog.EventLog.
func (l *Log) Append(_ context.Context, streamName string, fields map[string]string, maxLen int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.streamFor(streamName)
	id := l.nextID()
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.entries = append(s.entries, entry{id: id, fields: copied})

	if maxLen > 0 && int64(len(s.entries)) > maxLen {
		trim := int64(len(s.entries)) - maxLen
		s.entries = s.entries[trim:]
		for _, g := range s.groups {
			g.cursor -= int(trim)
			if g.cursor < 0 {
				g.cursor = 0
			}
		}
	}
	return id, nil
}

// EnsureGroup implements eventlog.EventLog.
func (l *Log) EnsureGroup(_ context.Context, streamName, groupName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.streamFor(streamName)
	if _, ok := s.groups[groupName]; !ok {
		s.groups[groupName] = &group{pending: map[string]entry{}}
	}
	return nil
}

// ReadGroup implements eventlog.EventLog. block is best-effort: the fake
// polls once and returns immediately if nothing is available rather than
// actually sleeping, since tests drive it synchronously.
func (l *Log) ReadGroup(_ context.Context, streamName, groupName, _ string, count int64, _ time.Duration) ([]eventlog.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.streamFor(streamName)
	g, ok := s.groups[groupName]
	if !ok {
		return nil, fmt.Errorf("memlog: group %q not found on stream %q", groupName, streamName)
	}

	var out []eventlog.Message
	for g.cursor < len(s.entries) && int64(len(out)) < count {
		e := s.entries[g.cursor]
		g.cursor++
		g.pending[e.id] = e
		out = append(out, eventlog.Message{ID: e.id, Fields: e.fields})
	}
	return out, nil
}

// Ack implements eventlog.EventLog.
func (l *Log) Ack(_ context.Context, streamName, groupName string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.streamFor(streamName)
	g, ok := s.groups[groupName]
	if !ok {
		return fmt.Errorf("memlog: group %q not found on stream %q", groupName, streamName)
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

func (l *Log) expired(k string) bool {
	e, ok := l.kv[k]
	if !ok {
		return false
	}
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

// Set implements eventlog.EventLog.
func (l *Log) Set(_ context.Context, key, value string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	l.kv[key] = kvEntry{value: value, expires: expires}
	return nil
}

// Get implements eventlog.EventLog.
func (l *Log) Get(_ context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.expired(key) {
		delete(l.kv, key)
	}
	e, ok := l.kv[key]
	if !ok {
		return "", eventlog.ErrNotFound
	}
	return e.value, nil
}

// SAdd implements eventlog.EventLog.
func (l *Log) SAdd(_ context.Context, key string, members ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.sets[key]
	if !ok {
		set = map[string]struct{}{}
		l.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

// SIsMember implements eventlog.EventLog.
func (l *Log) SIsMember(_ context.Context, key, member string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.sets[key]
	if !ok {
		return false, nil
	}
	_, ok = set[member]
	return ok, nil
}

// HSet implements eventlog.EventLog.
func (l *Log) HSet(_ context.Context, key string, fields map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.hashes[key]
	if !ok {
		h = map[string]string{}
		l.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

// HGetAll implements eventlog.EventLog.
func (l *Log) HGetAll(_ context.Context, key string) (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

// Expire implements eventlog.EventLog. memlog has no background reaper;
// hash/set keys ignore TTL entirely since nothing in the pipeline depends
// on their expiry, only on kv Set/Get TTLs.
func (l *Log) Expire(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.kv[key]; ok {
		e.expires = time.Now().Add(ttl)
		l.kv[key] = e
	}
	return nil
}

// Close implements eventlog.EventLog.
func (l *Log) Close() error { return nil }

// StreamLen returns the current entry count of a stream, for tests that
// assert on MAXLEN trimming behavior.
func (l *Log) StreamLen(streamName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streamFor(streamName).entries)
}

// PendingCount returns the number of un-acked entries for a group, for
// tests asserting on redelivery behavior.
func (l *Log) PendingCount(streamName, groupName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.streamFor(streamName)
	g, ok := s.groups[groupName]
	if !ok {
		return 0
	}
	return len(g.pending)
}
