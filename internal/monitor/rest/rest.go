// Package rest implements the REST-polling source monitor: periodic GET
// against an exchange's public listing endpoint, parsed via a data-driven
// monitor.ParserSpec, deduped against KnownPairSet, and emitted as
// RawEvents.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signalforge/fusion/internal/backpressure"
	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/extract"
	"github.com/signalforge/fusion/internal/heartbeat"
	"github.com/signalforge/fusion/internal/httpclient"
	"github.com/signalforge/fusion/internal/logging"
	"github.com/signalforge/fusion/internal/metrics"
	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/monitor"
)

// Config describes one exchange's REST source.
type Config struct {
	Exchange     string
	URL          string
	Parser       monitor.ParserSpec
	PollInterval time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration
	RequestTimeout time.Duration
}

// Monitor polls one exchange's REST endpoint on its own goroutine.
type Monitor struct {
	cfg       Config
	pool      *httpclient.Pool
	emitter   monitor.Emitter
	governor  *backpressure.Governor
	clock     clock.Clock
	heartbeat *heartbeat.Publisher
	logger    zerolog.Logger
}

// New returns a REST Monitor.
func New(cfg Config, pool *httpclient.Pool, emitter monitor.Emitter, governor *backpressure.Governor, clk clock.Clock, hb *heartbeat.Publisher, logger zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg,
		pool:      pool,
		emitter:   emitter,
		governor:  governor,
		clock:     clk,
		heartbeat: hb,
		logger:    logger.With().Str("component", "monitor.rest").Str("exchange", cfg.Exchange).Logger(),
	}
}

// Run polls until ctx is cancelled. A monitor never polls faster than its
// configured interval even if the previous response arrived late, per
// spec.md §4.1's tiered-poll-interval rule.
func (m *Monitor) Run(ctx context.Context) {
	defer logging.RecoverPanic(m.logger, "monitor.rest", map[string]any{"exchange": m.cfg.Exchange})

	interval := m.cfg.PollInterval
	for {
		cycleStart := time.Now()

		if err := m.poll(ctx); err != nil {
			m.heartbeat.Counters().IncErrors(1)
			metrics.IncMonitorError("rest_" + m.cfg.Exchange)
			m.logger.Warn().Err(err).Msg("poll cycle failed")
		}

		if m.governor != nil {
			interval = m.governor.Adjust(interval, m.cfg.MinInterval, m.cfg.MaxInterval)
		}

		elapsed := time.Since(cycleStart)
		wait := interval - elapsed
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (m *Monitor) poll(ctx context.Context) error {
	m.heartbeat.Counters().IncScans(1)

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("rest monitor %s: build request: %w", m.cfg.Exchange, err)
	}

	resp, err := m.pool.Do(reqCtx, req)
	if err != nil {
		// network/timeout: classified RecoveryNextCycle, nothing more to do.
		return fmt.Errorf("rest monitor %s: request failed: %w", m.cfg.Exchange, err)
	}
	defer resp.Body.Close()

	switch monitor.ClassifyHTTPStatus(resp.StatusCode) {
	case monitor.RecoverySleepLong:
		m.logger.Warn().Int("status", resp.StatusCode).Msg("rate limited, sleeping")
		select {
		case <-ctx.Done():
		case <-time.After(60 * time.Second):
		}
		return nil
	case monitor.RecoveryContinue:
		if resp.StatusCode != http.StatusOK {
			m.logger.Info().Int("status", resp.StatusCode).Msg("access denied or non-success, continuing at normal cadence")
			return nil
		}
	case monitor.RecoveryBackoff:
		return fmt.Errorf("rest monitor %s: server error %d", m.cfg.Exchange, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rest monitor %s: read body: %w", m.cfg.Exchange, err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("rest monitor %s: decode json: %w", m.cfg.Exchange, err)
	}

	symbols := m.cfg.Parser.Parse(doc)
	for _, symbol := range symbols {
		raw := model.RawEvent{
			EventID:    uuid.NewString(),
			SourceType: model.SourceREST,
			Source:     "rest_api_" + m.cfg.Exchange,
			Exchange:   m.cfg.Exchange,
			Symbol:     symbol,
			DetectedAt: m.clock.NowMs(),
		}
		if addr, chain, ok := extract.ContractAddress(symbol); ok {
			raw.ContractAddress = addr
			raw.Chain = string(chain)
		}

		emitted, err := m.emitter.EmitIfNew(ctx, raw)
		if err != nil {
			return fmt.Errorf("rest monitor %s: emit: %w", m.cfg.Exchange, err)
		}
		if emitted {
			m.heartbeat.Counters().IncEvents(1)
			metrics.IncMonitorEvent("rest_" + m.cfg.Exchange)
		}
	}

	return nil
}
