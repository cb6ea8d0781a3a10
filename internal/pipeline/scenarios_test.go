package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalforge/fusion/internal/aggregator"
	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/decider"
	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/scorer"
	"github.com/rs/zerolog"
)

// These exercise the full Aggregator -> Scorer -> Decider chain end to end,
// the way Stage.handle drives it, using the literal scenarios named in
// spec.md's testable-properties section as seeds. Cooldown and repeat-
// trigger rate-limit boundary behavior is covered more exhaustively at the
// decider unit level; here they're only checked insofar as the chain
// naturally produces them.

func scenarioAggregatorConfig() aggregator.Config {
	return aggregator.Config{
		TierSSources:      []string{"tg_alpha_intel", "tg_insider_leak", "formula_news", "listing_alpha", "cex_listing_intel"},
		OfficialSources:   []string{"tg_exchange_official", "rest_api_binance", "rest_api_okx", "rest_api_upbit", "rest_api_coinbase"},
		Tier1Exchanges:    []string{"binance", "coinbase", "upbit", "okx", "bybit"},
		AggregationWindow: 600,
		MaxPendingEvents:  500,
		ShardCount:        1,
	}
}

func scenarioScorerConfig() scorer.Config {
	return scorer.Config{
		TierSSources:             scenarioAggregatorConfig().TierSSources,
		Tier1Exchanges:           scenarioAggregatorConfig().Tier1Exchanges,
		KoreanExchanges:          []string{"upbit", "bithumb", "coinone", "korbit", "gopax"},
		AggregationWindowSeconds: 600,
	}
}

func scenarioDeciderConfig() decider.Config {
	return decider.Config{
		TierSSources:          scenarioAggregatorConfig().TierSSources,
		Tier1Exchanges:        scenarioAggregatorConfig().Tier1Exchanges,
		ScoreGate:             60,
		MaxTriggersPerSymbol:  2,
		TriggerWindowSeconds:  3600,
		PositionSizeTierS1:    0.7,
		PositionSizeKoreanArb: 0.5,
		PositionSizeMultiExch: 0.5,
		PositionSizeHighScore: 0.3,
		PositionSizeDefault:   0.2,
		CooldownDefault:       1800,
		CooldownHighScore:     900,
		CooldownKoreanArb:     300,
	}
}

func TestScenario1_TierSAlphaTriggersImmediateBuy(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := aggregator.New(scenarioAggregatorConfig(), clk, zerolog.Nop())
	dec := decider.New(scenarioDeciderConfig(), clk)

	raw := model.RawEvent{
		SourceType: model.SourceTelegram,
		Source:     "formula_news",
		Symbol:     "XYZ",
		Exchange:   "binance",
		RawText:    "XYZ will list on Binance",
		DetectedAt: 1000,
	}

	aggregated, fired := agg.Process(raw)
	require.True(t, fired)

	sig, ok := scorer.Score(aggregated, model.MarketContext{}, 1000, scenarioScorerConfig())
	require.True(t, ok)

	decision := dec.Decide(sig, nil)
	assert.Equal(t, model.DecisionBuy, decision.Action)
	assert.Equal(t, "XYZ", decision.Symbol)
	assert.Equal(t, "binance", decision.Exchange)
	assert.Equal(t, model.UrgencyImmediate, decision.Urgency)
	assert.Equal(t, 0.7, decision.PositionSize)
	assert.Equal(t, "alpha_tier1", decision.Strategy)
}

func TestScenario2_MultiExchangeCorroborationBuysOnHighestPriorityExchangeSeen(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := aggregator.New(scenarioAggregatorConfig(), clk, zerolog.Nop())
	dec := decider.New(scenarioDeciderConfig(), clk)

	first := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_gate", Symbol: "ABC", Exchange: "gate"}
	_, fired := agg.Process(first)
	assert.False(t, fired, "a single exchange sighting must not fire on its own")

	second := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_bybit", Symbol: "ABC", Exchange: "bybit"}
	aggregated, fired := agg.Process(second)
	require.True(t, fired, "a second corroborating exchange fires the multi-exchange condition")

	sig, ok := scorer.Score(aggregated, model.MarketContext{}, 1000, scenarioScorerConfig())
	require.True(t, ok)

	decision := dec.Decide(sig, nil)
	assert.Equal(t, model.DecisionBuy, decision.Action)
	assert.Equal(t, "bybit", decision.Exchange, "bybit outranks gate in the exchange priority order")
	assert.Equal(t, "multi_confirm", decision.Strategy)
	assert.Equal(t, 0.5, decision.PositionSize)
}

func TestScenario3_LowScoreSingleSourceWatchesWithoutCooldown(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := aggregator.New(scenarioAggregatorConfig(), clk, zerolog.Nop())
	dec := decider.New(scenarioDeciderConfig(), clk)

	raw := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_mexc", Symbol: "GHI", Exchange: "mexc"}

	// mexc is not Tier-1 and alone doesn't satisfy any trigger condition
	// until the aggregation window forces a scoring pass; here a single
	// rest_api source never qualifies on its own, so Process never fires,
	// and the scorer/decider aren't reached — which is itself the WATCH
	// outcome (no trigger, no decision, and definitely no cooldown).
	_, fired := agg.Process(raw)
	assert.False(t, fired)

	// Directly exercising the scorer/decider on an equivalent single-source
	// AggregatedEvent (as if a caller forced a scoring pass) confirms the
	// score lands below the gate and is never a BUY.
	forced := model.AggregatedEvent{
		Symbol:    "GHI",
		Exchange:  "mexc",
		Sources:   []string{"rest_api_mexc"},
		Exchanges: []string{"mexc"},
		FirstSeen: 1000,
	}
	sig, ok := scorer.Score(forced, model.MarketContext{}, 1000, scenarioScorerConfig())
	require.True(t, ok, "a lone rest_api source still scores above the NOISE floor")
	assert.Less(t, sig.TotalScore, 60.0)

	decision := dec.Decide(sig, nil)
	assert.Equal(t, model.DecisionWatch, decision.Action)
	assert.Zero(t, dec.Stats().CooldownCount, "a WATCH must never arm a cooldown")
}

func TestScenario7_KoreanExchangeCorroborationBuysOnBestForeignVenue(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := aggregator.New(scenarioAggregatorConfig(), clk, zerolog.Nop())
	dec := decider.New(scenarioDeciderConfig(), clk)

	first := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_upbit", Symbol: "SEI", Exchange: "upbit"}
	_, fired := agg.Process(first)
	assert.False(t, fired, "a single exchange sighting must not fire on its own")

	second := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_binance", Symbol: "SEI", Exchange: "binance"}
	aggregated, fired := agg.Process(second)
	require.True(t, fired, "the Binance sighting corroborates the Upbit one and fires")

	sig, ok := scorer.Score(aggregated, model.MarketContext{}, 1000, scenarioScorerConfig())
	require.True(t, ok)
	require.NotNil(t, sig.KoreanArbitrage, "upbit + binance should derive a Korean-arbitrage hint")

	decision := dec.Decide(sig, sig.KoreanArbitrage)
	assert.Equal(t, model.DecisionBuy, decision.Action)
	assert.Equal(t, "binance", decision.Exchange)
	assert.Equal(t, "korean_pump", decision.Strategy)
	assert.Equal(t, model.UrgencyHigh, decision.Urgency)
	assert.Equal(t, 0.5, decision.PositionSize)
}

func TestScenario6_WSConfirmationFollowUpDoesNotResetCooldown(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := aggregator.New(scenarioAggregatorConfig(), clk, zerolog.Nop())
	dec := decider.New(scenarioDeciderConfig(), clk)

	initial := model.RawEvent{
		SourceType: model.SourceTelegram,
		Source:     "formula_news",
		Symbol:     "XYZ",
		Exchange:   "binance",
	}
	aggregated, fired := agg.Process(initial)
	require.True(t, fired)
	sig, ok := scorer.Score(aggregated, model.MarketContext{}, 1000, scenarioScorerConfig())
	require.True(t, ok)
	firstDecision := dec.Decide(sig, nil)
	require.Equal(t, model.DecisionBuy, firstDecision.Action)
	cooldownAfterFirst := dec.Stats().CooldownCount

	clk.Advance(120 * time.Second)

	wsConfirm := model.RawEvent{
		SourceType: model.SourceWebSocket,
		Source:     "ws_binance",
		Symbol:     "XYZ",
		Exchange:   "binance",
	}
	aggregated2, fired := agg.Process(wsConfirm)
	require.True(t, fired, "the WS follow-up after an earlier fire must emit exactly one more event")
	assert.Equal(t, "trading_started", aggregated2.Status)
	assert.True(t, aggregated2.WSConfirmed)

	sig2, ok := scorer.Score(aggregated2, model.MarketContext{}, 1120, scenarioScorerConfig())
	require.True(t, ok)
	secondDecision := dec.Decide(sig2, nil)

	assert.Equal(t, model.DecisionSkip, secondDecision.Action, "still inside the cooldown window armed by the first BUY")
	assert.Contains(t, secondDecision.Reason, "cooldown")
	assert.Equal(t, cooldownAfterFirst, dec.Stats().CooldownCount, "the follow-up must not arm a second cooldown")
}
