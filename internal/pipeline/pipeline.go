// Package pipeline wires the Event Aggregator, Alpha Scorer, and Smart
// Trigger Decider into the consumer-group loop that reads events:raw,
// advances each stage in sequence, and hands the result to the Pusher
// (appending the fused record to events:fused first, for durability and
// the dashboard's out-of-scope read access).
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalforge/fusion/internal/aggregator"
	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/decider"
	"github.com/signalforge/fusion/internal/eventlog"
	"github.com/signalforge/fusion/internal/extract"
	"github.com/signalforge/fusion/internal/heartbeat"
	"github.com/signalforge/fusion/internal/logging"
	"github.com/signalforge/fusion/internal/metrics"
	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/monitor"
	"github.com/signalforge/fusion/internal/pusher"
	"github.com/signalforge/fusion/internal/scorer"
)

// Config carries every knob the fusion stage needs, independent of how it
// is read from the process Config (kept separate so tests can build one
// by hand without internal/config).
type Config struct {
	RawStream   string
	FusedStream string
	Group       string
	Consumer    string
	MaxLen      int64
	ReadCount   int64
	ReadBlock   time.Duration

	Scorer scorer.Config
}

// Stage runs one aggregator shard's consume→aggregate→score→decide→push
// loop. Several Stages, each owning a disjoint shard, run concurrently to
// parallelize the fusion pipeline across symbols.
type Stage struct {
	cfg       Config
	log       eventlog.EventLog
	agg       *aggregator.Aggregator
	decider   *decider.Decider
	pusher    *pusher.Pusher
	clock     clock.Clock
	heartbeat *heartbeat.Publisher
	logger    zerolog.Logger
}

// NewStage builds one fusion Stage. decider and pusher are shared across
// all shards (decision cooldown state and delivery queues are process-wide,
// not per-shard), while the Aggregator is shard-owned.
func NewStage(cfg Config, log eventlog.EventLog, agg *aggregator.Aggregator, dec *decider.Decider, psh *pusher.Pusher, clk clock.Clock, hb *heartbeat.Publisher, logger zerolog.Logger) *Stage {
	return &Stage{
		cfg:       cfg,
		log:       log,
		agg:       agg,
		decider:   dec,
		pusher:    psh,
		clock:     clk,
		heartbeat: hb,
		logger:    logger.With().Str("component", "pipeline.stage").Logger(),
	}
}

// Run consumes events:raw under the fusion consumer group until ctx is
// cancelled. Every message is acked immediately after processing, win or
// lose. Run reads only new entries, so an entry left pending by a crash
// mid-message stays in the group's pending-entries list and is not read
// again here.
func (s *Stage) Run(ctx context.Context) error {
	defer logging.RecoverPanic(s.logger, "pipeline.stage", nil)

	if err := s.log.EnsureGroup(ctx, s.cfg.RawStream, s.cfg.Group); err != nil {
		return fmt.Errorf("pipeline: ensure group: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := s.log.ReadGroup(ctx, s.cfg.RawStream, s.cfg.Group, s.cfg.Consumer, s.cfg.ReadCount, s.cfg.ReadBlock)
		if err != nil {
			s.heartbeat.Counters().IncErrors(1)
			s.logger.Warn().Err(err).Msg("read group failed")
			continue
		}

		for _, msg := range msgs {
			s.handle(ctx, msg)
		}
	}
}

func (s *Stage) handle(ctx context.Context, msg eventlog.Message) {
	defer func() {
		if err := s.log.Ack(ctx, s.cfg.RawStream, s.cfg.Group, msg.ID); err != nil {
			s.logger.Warn().Err(err).Str("id", msg.ID).Msg("ack failed")
		}
	}()

	raw := monitor.DecodeRawEvent(msg.Fields)
	if !s.agg.Owns(aggregatorKey(raw)) {
		return
	}

	s.heartbeat.Counters().IncScans(1)
	metrics.IncScanned(s.cfg.Consumer)

	agg, fired := s.agg.Process(raw)
	metrics.SetAggregatorPending(s.cfg.Consumer, s.agg.Stats().Pending)
	if !fired {
		return
	}
	metrics.IncTriggered(s.cfg.Consumer)

	nowSeconds := s.clock.NowMs() / 1000
	var marketCtx model.MarketContext
	if agg.Market != nil {
		marketCtx = *agg.Market
	}
	sig, ok := scorer.Score(agg, marketCtx, nowSeconds, s.cfg.Scorer)
	if !ok {
		// NOISE tier: dropped per spec.md §4.3.
		return
	}

	decision := s.decider.Decide(sig, sig.KoreanArbitrage)
	metrics.IncDecision(string(decision.Action))

	fused := model.FusedEvent{
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", sig.Symbol, decision.Strategy, decision.DecidedAt),
		Signal:         sig,
		Decision:       decision,
	}

	if decision.Action == model.DecisionSkip {
		return
	}

	fields := encodeFusedEvent(fused)
	if _, err := s.log.Append(ctx, s.cfg.FusedStream, fields, s.cfg.MaxLen); err != nil {
		s.logger.Warn().Err(err).Msg("append fused event failed")
	}

	s.heartbeat.Counters().IncEvents(1)
	metrics.IncFused(s.cfg.Consumer)
	s.pusher.Submit(fused, func(context.Context) error { return nil })
}

// aggregatorKey mirrors the Aggregator's internal grouping key (symbol) so
// Stage can check shard ownership before doing any work.
func aggregatorKey(raw model.RawEvent) string {
	if raw.Symbol != "" {
		return strings.ToUpper(raw.Symbol)
	}
	if len(raw.Symbols) > 0 {
		return strings.ToUpper(raw.Symbols[0])
	}
	if symbols := extract.Symbols(raw.RawText); len(symbols) > 0 {
		return symbols[0]
	}
	return ""
}
