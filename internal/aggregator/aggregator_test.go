package aggregator

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/model"
)

func testConfig() Config {
	return Config{
		TierSSources:      []string{"tg_alpha_intel", "tg_insider_leak"},
		OfficialSources:   []string{"tg_exchange_official"},
		Tier1Exchanges:    []string{"binance", "okx", "upbit"},
		AggregationWindow: 600,
		MaxPendingEvents:  500,
		ShardCount:        1,
	}
}

func newTestAggregator(cfg Config, clk clock.Clock) *Aggregator {
	return New(cfg, clk, zerolog.Nop())
}

func TestProcess_TierSImmediateTrigger(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := newTestAggregator(testConfig(), clk)

	raw := model.RawEvent{
		SourceType: model.SourceTelegram,
		Source:     "tg_alpha_intel",
		Symbol:     "PEPE",
		Exchange:   "binance",
	}

	result, fired := agg.Process(raw)
	require.True(t, fired)
	assert.Equal(t, "PEPE", result.Symbol)
	assert.Equal(t, "pending", result.Status)
	assert.Contains(t, result.TriggerReason, "Tier-S")
}

func TestProcess_OfficialPlusTier1Trigger(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := newTestAggregator(testConfig(), clk)

	raw := model.RawEvent{
		SourceType: model.SourceTelegram,
		Source:     "tg_exchange_official",
		Symbol:     "WIF",
		Exchange:   "binance",
	}

	result, fired := agg.Process(raw)
	require.True(t, fired)
	assert.Equal(t, "pending", result.Status)
	assert.Contains(t, result.TriggerReason, "Official")
}

func TestProcess_OfficialWithoutTier1DoesNotTrigger(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := newTestAggregator(testConfig(), clk)

	raw := model.RawEvent{
		SourceType: model.SourceTelegram,
		Source:     "tg_exchange_official",
		Symbol:     "WIF",
		Exchange:   "some_random_exchange",
	}

	_, fired := agg.Process(raw)
	assert.False(t, fired)
}

func TestProcess_MultiExchangeCorroborationTrigger(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := newTestAggregator(testConfig(), clk)

	first := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_gate", Symbol: "FOO", Exchange: "gate"}
	_, fired := agg.Process(first)
	assert.False(t, fired)

	second := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_bitget", Symbol: "FOO", Exchange: "bitget"}
	result, fired := agg.Process(second)
	require.True(t, fired)
	assert.Contains(t, result.TriggerReason, "multiple exchanges")
	assert.ElementsMatch(t, []string{"gate", "bitget"}, result.Exchanges)
}

func TestProcess_WSConfirmationAfterAlertTrigger(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := newTestAggregator(testConfig(), clk)

	rest := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_kucoin", Symbol: "BAR", Exchange: "kucoin"}
	_, fired := agg.Process(rest)
	assert.False(t, fired)

	ws := model.RawEvent{SourceType: model.SourceWebSocket, Source: "ws_kucoin", Symbol: "BAR", Exchange: "kucoin"}
	result, fired := agg.Process(ws)
	require.True(t, fired)
	assert.Equal(t, "trading_started", result.Status)
	assert.True(t, result.WSConfirmed)
}

func TestProcess_WSFollowUpAfterTriggerConfirmsOnce(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := newTestAggregator(testConfig(), clk)

	tierS := model.RawEvent{SourceType: model.SourceTelegram, Source: "tg_alpha_intel", Symbol: "BAZ", Exchange: "binance"}
	_, fired := agg.Process(tierS)
	require.True(t, fired)

	ws1 := model.RawEvent{SourceType: model.SourceWebSocket, Source: "ws_binance", Symbol: "BAZ", Exchange: "binance"}
	result, fired := agg.Process(ws1)
	require.True(t, fired)
	assert.Equal(t, "trading_started", result.Status)

	ws2 := model.RawEvent{SourceType: model.SourceWebSocket, Source: "ws_binance", Symbol: "BAZ", Exchange: "binance"}
	_, fired = agg.Process(ws2)
	assert.False(t, fired, "a second WS confirmation must not re-fire")
}

func TestProcess_NoSymbolDrops(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	agg := newTestAggregator(testConfig(), clk)

	raw := model.RawEvent{SourceType: model.SourceNews, Source: "news", RawText: "nothing tradable here"}
	_, fired := agg.Process(raw)
	assert.False(t, fired)
	assert.Zero(t, agg.Stats().Aggregated)
}

func TestCleanupExpired_DropsStaleGroupsWithoutFiring(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	cfg := testConfig()
	cfg.MaxPendingEvents = 1
	agg := newTestAggregator(cfg, clk)

	// Below Tier-S/official/multi-exchange thresholds, so this group sits
	// pending without ever firing.
	stale := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_gate", Symbol: "OLD", Exchange: "gate"}
	_, fired := agg.Process(stale)
	assert.False(t, fired)

	clk.Advance(700 * time.Second)

	fresh := model.RawEvent{SourceType: model.SourceREST, Source: "rest_api_bitget", Symbol: "NEW", Exchange: "bitget"}
	_, fired = agg.Process(fresh)
	assert.False(t, fired)

	stats := agg.Stats()
	assert.Equal(t, int64(1), stats.Expired)
	assert.Equal(t, 1, stats.Pending, "only the fresh group should remain")
}

func TestOwns_SingleShardAlwaysOwns(t *testing.T) {
	agg := newTestAggregator(testConfig(), clock.Real{})
	assert.True(t, agg.Owns("ANYTHING"))
}

func TestOwns_MultiShardIsDeterministicAndPartitions(t *testing.T) {
	cfg := testConfig()
	cfg.ShardCount = 4

	var shards []*Aggregator
	for i := 0; i < cfg.ShardCount; i++ {
		c := cfg
		c.ShardIndex = i
		shards = append(shards, newTestAggregator(c, clock.Real{}))
	}

	symbols := []string{"PEPE", "WIF", "BONK", "FLOKI", "SHIB", "DOGE"}
	for _, sym := range symbols {
		owners := 0
		for _, s := range shards {
			if s.Owns(sym) {
				owners++
			}
		}
		assert.Equal(t, 1, owners, "symbol %s must be owned by exactly one shard", sym)

		// Determinism: repeated calls agree.
		for _, s := range shards {
			assert.Equal(t, s.Owns(sym), s.Owns(sym))
		}
	}
}

func TestClassifySource(t *testing.T) {
	tests := []struct {
		name       string
		sourceType string
		source     string
		want       string
	}{
		{"alpha intel telegram", "telegram", "tg_alpha_intel", "tg_alpha_intel"},
		{"insider leak telegram", "telegram", "tg_insider_leak", "tg_alpha_intel"},
		{"official telegram", "telegram", "tg_exchange_official", "tg_exchange_official"},
		{"generic telegram", "telegram", "some_other_channel", "social_telegram"},
		{"rest api", "rest", "rest_api_binance", "rest_api_binance"},
		{"websocket", "websocket", "ws_okx", "ws_okx"},
		{"chain", "chain", "chain_contract", "chain_contract"},
		{"news", "news", "news", "news"},
		{"unknown", "carrier_pigeon", "whatever", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySource(tt.sourceType, tt.source))
		})
	}
}
