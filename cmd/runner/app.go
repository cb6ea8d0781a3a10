package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalforge/fusion/internal/aggregator"
	"github.com/signalforge/fusion/internal/backpressure"
	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/config"
	"github.com/signalforge/fusion/internal/decider"
	"github.com/signalforge/fusion/internal/eventlog"
	"github.com/signalforge/fusion/internal/eventlog/memlog"
	"github.com/signalforge/fusion/internal/eventlog/redisstream"
	"github.com/signalforge/fusion/internal/heartbeat"
	"github.com/signalforge/fusion/internal/httpclient"
	"github.com/signalforge/fusion/internal/logging"
	"github.com/signalforge/fusion/internal/metrics"
	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/monitor"
	"github.com/signalforge/fusion/internal/monitor/chain"
	"github.com/signalforge/fusion/internal/monitor/exchanges"
	"github.com/signalforge/fusion/internal/monitor/news"
	"github.com/signalforge/fusion/internal/monitor/rest"
	"github.com/signalforge/fusion/internal/monitor/telegram"
	"github.com/signalforge/fusion/internal/monitor/ws"
	"github.com/signalforge/fusion/internal/pairset"
	"github.com/signalforge/fusion/internal/pipeline"
	"github.com/signalforge/fusion/internal/pusher"
	"github.com/signalforge/fusion/internal/pusher/sinks/generic"
	"github.com/signalforge/fusion/internal/pusher/sinks/webhook"
	"github.com/signalforge/fusion/internal/resource"
	"github.com/signalforge/fusion/internal/scorer"
)

// app holds every long-lived collaborator the runner wires together.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	log    eventlog.EventLog
	pairs  *pairset.KnownPairSet
	pool   *httpclient.Pool

	only map[string]bool

	stages  []*pipeline.Stage
	pusherP *pusher.Pusher

	monitors []runnable
	hbs      []*heartbeat.Publisher
}

type runnable interface {
	Run(ctx context.Context)
}

// newApp loads configuration and constructs every collaborator but does
// not start any goroutines; that happens in Run.
func newApp(dryRun bool, only map[string]bool) (*app, error) {
	bootstrapLogger := logging.New(logging.Config{Level: "info", Format: "json"}, "fusion")

	cfg, err := config.Load(&bootstrapLogger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, "fusion")

	var log eventlog.EventLog
	if dryRun {
		logger.Info().Msg("dry-run: using in-memory event log")
		log = memlog.New()
	} else {
		log, err = redisstream.New(redisstream.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, fmt.Errorf("connect event log: %w", err)
		}
	}

	pairs := pairset.New(log)
	pool := httpclient.NewWithDNSCache(httpclient.Config{
		PerHostCap: cfg.HTTPPerHostCap,
		GlobalCap:  cfg.HTTPGlobalCap,
		Timeout:    cfg.HTTPTimeout,
	})

	a := &app{cfg: cfg, logger: logger, log: log, pairs: pairs, pool: pool, only: only}

	if err := a.buildPipeline(); err != nil {
		return nil, err
	}
	if err := a.buildMonitors(dryRun); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *app) wants(kind string) bool {
	return a.only == nil || a.only[kind]
}

func (a *app) buildPipeline() error {
	cfg := a.cfg
	clk := clock.Real{}

	sinks := []pusher.Sink{}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, webhook.New("webhook", cfg.WebhookURL, a.pool, webhook.DefaultSuccessPredicate))
	}
	if cfg.GenericSinkURL != "" {
		sinks = append(sinks, generic.New("generic", cfg.GenericSinkURL, a.pool, generic.DefaultSuccessPredicate))
	}

	a.pusherP = pusher.New(pusher.Config{
		Workers:       cfg.PusherWorkers,
		QueueCapacity: cfg.PusherQueueSize,
	}, sinks, a.logger)

	dec := decider.New(decider.Config{
		TierSSources:          cfg.TierSSources,
		Tier1Exchanges:        cfg.Tier1Exchanges,
		ScoreGate:             cfg.ScoreGate,
		MaxTriggersPerSymbol:  cfg.MaxTriggersPerSymbol,
		TriggerWindowSeconds:  int64(cfg.TriggerWindow.Seconds()),
		PositionSizeTierS1:    cfg.PositionSizeTierS1,
		PositionSizeKoreanArb: cfg.PositionSizeKoreanArb,
		PositionSizeMultiExch: cfg.PositionSizeMultiExch,
		PositionSizeHighScore: cfg.PositionSizeHighScore,
		PositionSizeDefault:   cfg.PositionSizeDefault,
		CooldownDefault:       int64(cfg.CooldownDefault.Seconds()),
		CooldownHighScore:     int64(cfg.CooldownHighScore.Seconds()),
		CooldownKoreanArb:     int64(cfg.CooldownKoreanArb.Seconds()),
	}, clk)

	scorerCfg := scorerConfigFrom(cfg)

	for shard := 0; shard < cfg.AggregatorShards; shard++ {
		agg := aggregator.New(aggregator.Config{
			TierSSources:      cfg.TierSSources,
			OfficialSources:   cfg.OfficialSources,
			Tier1Exchanges:    cfg.Tier1Exchanges,
			AggregationWindow: int64(cfg.AggregationWindow.Seconds()),
			MaxPendingEvents:  cfg.MaxPendingEvents,
			ShardIndex:        shard,
			ShardCount:        cfg.AggregatorShards,
		}, clk, a.logger)

		hb := heartbeat.New(fmt.Sprintf("fusion_shard_%d", shard), a.log, clk, cfg.HeartbeatInterval, cfg.HeartbeatTTL, a.logger)
		a.hbs = append(a.hbs, hb)

		stage := pipeline.NewStage(pipeline.Config{
			RawStream:   cfg.RawStream,
			FusedStream: cfg.FusedStream,
			// One group per shard: each shard reads every raw entry and
			// keeps the symbols it owns.
			Group:       fmt.Sprintf("%s_shard_%d", cfg.FusionGroup, shard),
			Consumer:    fmt.Sprintf("shard-%d", shard),
			MaxLen:      cfg.StreamMaxLen,
			ReadCount:   50,
			ReadBlock:   2 * time.Second,
			Scorer:      scorerCfg,
		}, a.log, agg, dec, a.pusherP, clk, hb, a.logger)

		a.stages = append(a.stages, stage)
	}

	return nil
}

func (a *app) buildMonitors(dryRun bool) error {
	cfg := a.cfg
	clk := clock.Real{}

	emitterFor := func(stream string) monitor.Emitter {
		return monitor.Emitter{Log: a.log, Pairs: a.pairs, Stream: stream, MaxLen: cfg.StreamMaxLen}
	}

	if a.wants("rest") {
		for exchange, spec := range exchanges.RESTParsers {
			hb := heartbeat.New("monitor_rest_"+exchange, a.log, clk, cfg.HeartbeatInterval, cfg.HeartbeatTTL, a.logger)
			a.hbs = append(a.hbs, hb)

			governor := backpressure.New(backpressure.Config{HighWater: 5000, LowWater: 500})
			m := rest.New(rest.Config{
				Exchange:       exchange,
				URL:            restURL(exchange),
				Parser:         spec,
				PollInterval:   cfg.PollInterval(exchange),
				MinInterval:    cfg.PollInterval(exchange),
				MaxInterval:    cfg.PollInterval(exchange) * 8,
				RequestTimeout: cfg.RESTPollTimeout,
			}, a.pool, emitterFor(cfg.RawStream), governor, clk, hb, a.logger)
			a.monitors = append(a.monitors, m)
		}
	}

	if a.wants("ws") {
		for exchange, spec := range exchanges.WSParsers {
			hb := heartbeat.New("monitor_ws_"+exchange, a.log, clk, cfg.HeartbeatInterval, cfg.HeartbeatTTL, a.logger)
			a.hbs = append(a.hbs, hb)

			m := ws.New(ws.Config{
				Exchange:      exchange,
				URL:           wsURL(exchange),
				Parser:        spec,
				ReconnectBase: cfg.WSReconnectDelay,
			}, emitterFor(cfg.RawStream), clk, hb, a.logger)
			a.monitors = append(a.monitors, m)
		}
	}

	if a.wants("telegram") && cfg.TelegramBotToken != "" {
		channels := make([]telegram.ChannelTag, 0, len(cfg.TelegramChannelIDs))
		for _, id := range cfg.TelegramChannelIDs {
			channels = append(channels, telegram.ChannelTag{ChatID: id, Source: "tg_alpha_intel"})
		}
		hb := heartbeat.New("monitor_telegram", a.log, clk, cfg.HeartbeatInterval, cfg.HeartbeatTTL, a.logger)
		a.hbs = append(a.hbs, hb)

		m, err := telegram.New(telegram.Config{
			Token:    cfg.TelegramBotToken,
			Channels: channels,
			Keywords: cfg.QuickFilterKeywords,
		}, emitterFor(cfg.RawStream), clk, hb, a.logger)
		if err != nil {
			if !dryRun {
				return fmt.Errorf("telegram monitor: %w", err)
			}
			a.logger.Warn().Err(err).Msg("telegram monitor disabled in dry-run (bad or missing token)")
		} else {
			a.monitors = append(a.monitors, m)
		}
	}

	if a.wants("news") && len(cfg.NewsFeedURLs) > 0 {
		hb := heartbeat.New("monitor_news", a.log, clk, cfg.HeartbeatInterval, cfg.HeartbeatTTL, a.logger)
		a.hbs = append(a.hbs, hb)

		m := news.New(news.Config{
			FeedURLs:       cfg.NewsFeedURLs,
			PollInterval:   2 * time.Minute,
			RequestTimeout: cfg.HTTPTimeout,
		}, a.pool, emitterFor(cfg.RawStream), clk, hb, a.logger)
		a.monitors = append(a.monitors, m)
	}

	if a.wants("chain") && cfg.ChainRPCURL != "" {
		hb := heartbeat.New("monitor_chain", a.log, clk, cfg.HeartbeatInterval, cfg.HeartbeatTTL, a.logger)
		a.hbs = append(a.hbs, hb)

		m, err := chain.New(chain.Config{
			Chain:        model.ChainEthereum,
			RPCURL:       cfg.ChainRPCURL,
			PollInterval: cfg.ChainPollInterval,
		}, emitterFor(cfg.RawStream), clk, hb, a.logger)
		if err != nil {
			if !dryRun {
				return fmt.Errorf("chain monitor: %w", err)
			}
			a.logger.Warn().Err(err).Msg("chain monitor disabled in dry-run (bad RPC URL)")
		} else {
			a.monitors = append(a.monitors, m)
		}
	}

	return nil
}

// Run starts every monitor, pipeline stage, and heartbeat publisher, then
// blocks until SIGINT/SIGTERM, at which point it cancels the shared
// context and waits up to ShutdownGracePeriod for everything to drain.
func (a *app) Run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info().
		Int("monitors", len(a.monitors)).
		Int("stages", len(a.stages)).
		Msg("starting fusion pipeline")

	a.pusherP.Start(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metrics.Serve(ctx, a.cfg.MetricsAddr, a.logger); err != nil {
			a.logger.Error().Err(err).Msg("metrics server exited")
		}
	}()

	res := resource.New(a.cfg.HeartbeatInterval, a.logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		res.Run(ctx)
	}()

	runAll := func(items []runnable) {
		for _, r := range items {
			wg.Add(1)
			go func(r runnable) {
				defer wg.Done()
				r.Run(ctx)
			}(r)
		}
	}

	for _, hb := range a.hbs {
		wg.Add(1)
		go func(hb *heartbeat.Publisher) {
			defer wg.Done()
			hb.Run(ctx)
		}(hb)
	}

	for _, s := range a.stages {
		wg.Add(1)
		go func(s *pipeline.Stage) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				a.logger.Error().Err(err).Msg("pipeline stage exited")
			}
		}(s)
	}

	runAll(a.monitors)

	<-ctx.Done()
	a.logger.Info().Dur("grace_period", a.cfg.ShutdownGracePeriod).Msg("shutdown signal received, draining")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		a.pusherP.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info().Msg("shutdown complete")
	case <-time.After(a.cfg.ShutdownGracePeriod):
		a.logger.Warn().Msg("shutdown grace period exceeded, exiting anyway")
	}

	return nil
}

// Close releases the event log connection. Called once, after Run returns.
func (a *app) Close() {
	if err := a.log.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("event log close failed")
	}
}

// restURL returns the canonical public market-listing endpoint for a
// known exchange. Unknown exchanges (should not occur, since the caller
// iterates exchanges.RESTParsers) fall back to an empty string.
func restURL(exchange string) string {
	urls := map[string]string{
		"binance":  "https://api.binance.com/api/v3/exchangeInfo",
		"okx":      "https://www.okx.com/api/v5/public/instruments?instType=SPOT",
		"bybit":    "https://api.bybit.com/v5/market/instruments-info?category=spot",
		"kucoin":   "https://api.kucoin.com/api/v2/symbols",
		"gate":     "https://api.gateio.ws/api/v4/spot/currency_pairs",
		"bitget":   "https://api.bitget.com/api/v2/spot/public/symbols",
		"htx":      "https://api.huobi.pro/v2/settings/common/symbols",
		"coinbase": "https://api.exchange.coinbase.com/products",
		"upbit":    "https://api.upbit.com/v1/market/all",
	}
	return urls[exchange]
}

// scorerConfigFrom maps the process Config's tier sets onto scorer.Config.
func scorerConfigFrom(cfg *config.Config) scorer.Config {
	return scorer.Config{
		TierSSources:             cfg.TierSSources,
		Tier1Exchanges:           cfg.Tier1Exchanges,
		KoreanExchanges:          cfg.KoreanExchanges,
		AggregationWindowSeconds: int64(cfg.AggregationWindow.Seconds()),
	}
}

func wsURL(exchange string) string {
	urls := map[string]string{
		"binance": "wss://stream.binance.com:9443/ws/!ticker@arr",
	}
	return urls[exchange]
}
