// Package news implements the RSS/Atom news-feed source monitor: periodic
// fetch-and-parse of a small set of feeds, deduped first by item GUID, since
// a news item has no exchange; each extracted symbol then still passes the
// shared Emitter's known-pair check under an empty exchange name.
package news

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/extract"
	"github.com/signalforge/fusion/internal/heartbeat"
	"github.com/signalforge/fusion/internal/httpclient"
	"github.com/signalforge/fusion/internal/logging"
	"github.com/signalforge/fusion/internal/metrics"
	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/monitor"
)

// Config describes the set of feeds this monitor polls.
type Config struct {
	FeedURLs      []string
	PollInterval  time.Duration
	RequestTimeout time.Duration
}

// Monitor polls a fixed list of RSS/Atom feeds on one goroutine.
type Monitor struct {
	cfg       Config
	parser    *gofeed.Parser
	emitter   monitor.Emitter
	clock     clock.Clock
	heartbeat *heartbeat.Publisher
	logger    zerolog.Logger
	seenGUIDs map[string]struct{}
}

// New returns a news Monitor. The gofeed.Parser is given the shared
// httpclient.Pool's raw client, so feed fetches share its connection reuse
// and timeout but bypass the pool's per-host/global rate limiters.
func New(cfg Config, pool *httpclient.Pool, emitter monitor.Emitter, clk clock.Clock, hb *heartbeat.Publisher, logger zerolog.Logger) *Monitor {
	fp := gofeed.NewParser()
	fp.Client = pool.RawClient()

	return &Monitor{
		cfg:       cfg,
		parser:    fp,
		emitter:   emitter,
		clock:     clk,
		heartbeat: hb,
		logger:    logger.With().Str("component", "monitor.news").Logger(),
		seenGUIDs: make(map[string]struct{}),
	}
}

// Run polls every feed once per interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	defer logging.RecoverPanic(m.logger, "monitor.news", nil)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m.pollAll(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) pollAll(ctx context.Context) {
	for _, url := range m.cfg.FeedURLs {
		if err := m.pollFeed(ctx, url); err != nil {
			m.heartbeat.Counters().IncErrors(1)
			metrics.IncMonitorError("news")
			m.logger.Warn().Err(err).Str("feed", url).Msg("feed poll failed")
		}
	}
}

func (m *Monitor) pollFeed(ctx context.Context, url string) error {
	m.heartbeat.Counters().IncScans(1)

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	feed, err := m.parser.ParseURLWithContext(url, fetchCtx)
	if err != nil {
		return err
	}

	for _, item := range feed.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			continue
		}
		if _, seen := m.seenGUIDs[guid]; seen {
			continue
		}
		m.seenGUIDs[guid] = struct{}{}

		text := item.Title + " " + item.Description
		symbols := extract.Symbols(text)
		if len(symbols) == 0 {
			continue
		}

		raw := model.RawEvent{
			EventID:    uuid.NewString(),
			SourceType: model.SourceNews,
			Source:     "news",
			Symbol:     symbols[0],
			Symbols:    symbols,
			RawText:    text,
			URL:        item.Link,
			Chain:      string(extract.InferChain(text)),
			DetectedAt: m.clock.NowMs(),
		}
		if addr, chain, ok := extract.ContractAddress(text); ok {
			raw.ContractAddress = addr
			raw.Chain = string(chain)
		}

		emitted, err := m.emitter.EmitIfNew(ctx, raw)
		if err != nil {
			return err
		}
		if emitted {
			m.heartbeat.Counters().IncEvents(1)
			metrics.IncMonitorEvent("news")
		}
	}

	return nil
}
