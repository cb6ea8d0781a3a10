// Package heartbeat publishes per-stage liveness records to the event log
// so an operator (or an external watchdog) can tell a stuck monitor from a
// quiet one: a stage that stops advancing its counters past its TTL is
// either dead or starved, not merely idle.
package heartbeat

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/eventlog"
)

const keyPrefix = "heartbeat:"

// Counters are the fields every stage reports, matching spec.md §6's
// per-stage heartbeat shape. Fields unused by a given stage stay zero.
type Counters struct {
	Scans      int64
	Events     int64
	Errors     int64
	Reconnects int64
}

// IncScans, IncEvents, IncErrors and IncReconnects are the increments a
// monitor calls as it processes work; all are safe for concurrent use.
func (c *Counters) IncScans(n int64)      { atomic.AddInt64(&c.Scans, n) }
func (c *Counters) IncEvents(n int64)     { atomic.AddInt64(&c.Events, n) }
func (c *Counters) IncErrors(n int64)     { atomic.AddInt64(&c.Errors, n) }
func (c *Counters) IncReconnects(n int64) { atomic.AddInt64(&c.Reconnects, n) }

// Publisher periodically writes a stage's counters to the event log as a
// hash, with a TTL so a stage that crashes without cleanup eventually
// disappears from the liveness view instead of reporting stale "alive".
type Publisher struct {
	stage    string
	log      eventlog.EventLog
	clock    clock.Clock
	interval time.Duration
	ttl      time.Duration
	logger   zerolog.Logger
	counters Counters
}

// New returns a Publisher for stage. interval is how often Run writes to
// the log; ttl must be >= 2*interval (enforced by internal/config.Validate,
// not re-checked here).
func New(stage string, log eventlog.EventLog, clk clock.Clock, interval, ttl time.Duration, logger zerolog.Logger) *Publisher {
	return &Publisher{
		stage:    stage,
		log:      log,
		clock:    clk,
		interval: interval,
		ttl:      ttl,
		logger:   logger.With().Str("component", "heartbeat").Str("stage", stage).Logger(),
	}
}

// Counters returns the live counters pointer so the owning stage can
// increment it as it processes work.
func (p *Publisher) Counters() *Counters { return &p.counters }

// Run publishes on interval until ctx is cancelled. It is meant to be
// started as its own goroutine alongside the stage's main loop.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publish(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("heartbeat publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context) error {
	key := keyPrefix + p.stage
	fields := map[string]string{
		"last_seen":  strconv.FormatInt(p.clock.NowMs(), 10),
		"scans":      strconv.FormatInt(atomic.LoadInt64(&p.counters.Scans), 10),
		"events":     strconv.FormatInt(atomic.LoadInt64(&p.counters.Events), 10),
		"errors":     strconv.FormatInt(atomic.LoadInt64(&p.counters.Errors), 10),
		"reconnects": strconv.FormatInt(atomic.LoadInt64(&p.counters.Reconnects), 10),
	}
	if err := p.log.HSet(ctx, key, fields); err != nil {
		return err
	}
	return p.log.Expire(ctx, key, p.ttl)
}

// Status is a point-in-time read of a stage's heartbeat, used by an
// operator-facing health check rather than the stage itself.
type Status struct {
	Stage      string
	LastSeenMs int64
	Scans      int64
	Events     int64
	Errors     int64
	Reconnects int64
	Stale      bool
}

// Read fetches stage's heartbeat from the log and reports whether it is
// older than ttl (and therefore stale).
func Read(ctx context.Context, log eventlog.EventLog, clk clock.Clock, stage string, ttl time.Duration) (Status, error) {
	fields, err := log.HGetAll(ctx, keyPrefix+stage)
	if err != nil {
		return Status{}, err
	}
	if len(fields) == 0 {
		return Status{Stage: stage, Stale: true}, nil
	}

	parse := func(k string) int64 {
		v, _ := strconv.ParseInt(fields[k], 10, 64)
		return v
	}

	lastSeen := parse("last_seen")
	stale := clk.NowMs()-lastSeen > ttl.Milliseconds()

	return Status{
		Stage:      stage,
		LastSeenMs: lastSeen,
		Scans:      parse("scans"),
		Events:     parse("events"),
		Errors:     parse("errors"),
		Reconnects: parse("reconnects"),
		Stale:      stale,
	}, nil
}
