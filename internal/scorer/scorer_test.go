package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalforge/fusion/internal/model"
)

func testConfig() Config {
	return Config{
		TierSSources:             []string{"tg_alpha_intel", "tg_insider_leak"},
		Tier1Exchanges:           []string{"binance", "okx", "upbit", "coinbase", "bybit"},
		KoreanExchanges:          []string{"upbit", "bithumb", "coinone", "korbit", "gopax"},
		AggregationWindowSeconds: 600,
	}
}

func TestScore_TierSSourceReachesTierS(t *testing.T) {
	// Corroborated by a second Tier-S source and a second top-tier exchange,
	// matching the multi-source confirmation a real Tier-S alert arrives
	// with: src=95, exch=90, timing=100, bonus=10*(2-1)+5*(2-1)=15, so
	// total = (0.35*95 + 0.25*90 + 0.20*100 + 0.20*15) + 15 = 93.75.
	agg := model.AggregatedEvent{
		Symbol:    "PEPE",
		Sources:   []string{"tg_alpha_intel", "tg_insider_leak"},
		Exchanges: []string{"binance", "coinbase"},
		FirstSeen: 1000,
	}

	sig, ok := Score(agg, model.MarketContext{}, 1000, testConfig())
	require.True(t, ok)
	assert.Equal(t, model.TierS, sig.Tier)
	assert.Equal(t, model.ActionImmediateBuy, sig.Action)
}

func TestScore_UnknownSingleSourceIsNoise(t *testing.T) {
	agg := model.AggregatedEvent{
		Symbol:    "OBSCURE",
		Sources:   []string{"social_telegram"},
		Exchanges: []string{"some_unlisted_dex"},
		FirstSeen: 1000,
	}

	_, ok := Score(agg, model.MarketContext{}, 1600, testConfig())
	assert.False(t, ok, "a single weak social source past the aggregation window should drop as NOISE")
}

func TestScore_MultiSourceBonusLiftsTier(t *testing.T) {
	agg := model.AggregatedEvent{
		Symbol:    "WIF",
		Sources:   []string{"rest_api_gate", "rest_api_bitget", "rest_api_kucoin"},
		Exchanges: []string{"gate", "bitget", "kucoin"},
		FirstSeen: 1000,
	}

	sig, ok := Score(agg, model.MarketContext{}, 1000, testConfig())
	require.True(t, ok)
	// 3 sources, 3 exchanges: 10*(3-1) + 5*(3-1) = 30.
	assert.Equal(t, 30.0, sig.MultiSourceBonus)
}

func TestScore_TimingDecaysOverAggregationWindow(t *testing.T) {
	agg := model.AggregatedEvent{
		Symbol:    "BONK",
		Sources:   []string{"rest_api_binance"},
		Exchanges: []string{"binance"},
		FirstSeen: 0,
	}
	cfg := testConfig()

	fresh, ok := Score(agg, model.MarketContext{}, 0, cfg)
	require.True(t, ok)
	assert.Equal(t, 100.0, fresh.TimingScore)

	atWindow, ok := Score(agg, model.MarketContext{}, 600, cfg)
	require.True(t, ok)
	assert.Equal(t, 20.0, atWindow.TimingScore)

	assert.Greater(t, fresh.TotalScore, atWindow.TotalScore, "an older event must score lower than a fresh one, all else equal")
}

func TestScore_IsSuperEventRequiresTwoTier1Exchanges(t *testing.T) {
	cfg := testConfig()

	single := model.AggregatedEvent{Symbol: "FOO", Sources: []string{"tg_alpha_intel"}, Exchanges: []string{"binance"}, FirstSeen: 1000}
	sig, ok := Score(single, model.MarketContext{}, 1000, cfg)
	require.True(t, ok)
	assert.False(t, sig.IsSuperEvent)

	double := model.AggregatedEvent{Symbol: "FOO", Sources: []string{"tg_alpha_intel"}, Exchanges: []string{"binance", "okx"}, FirstSeen: 1000}
	sig, ok = Score(double, model.MarketContext{}, 1000, cfg)
	require.True(t, ok)
	assert.True(t, sig.IsSuperEvent)
}

func TestScore_ConfidenceClippedToUnitInterval(t *testing.T) {
	agg := model.AggregatedEvent{
		Symbol:    "PEPE",
		Sources:   []string{"tg_alpha_intel", "rest_api_binance", "rest_api_okx", "ws_binance", "chain_contract", "news"},
		Exchanges: []string{"binance", "okx", "bybit"},
		FirstSeen: 1000,
	}

	sig, ok := Score(agg, model.MarketContext{}, 1000, testConfig())
	require.True(t, ok)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
	assert.GreaterOrEqual(t, sig.Confidence, 0.0)
}

func TestScore_DerivesKoreanArbitrageFromExchangePresence(t *testing.T) {
	agg := model.AggregatedEvent{
		Symbol:    "SEI",
		Sources:   []string{"rest_api_upbit"},
		Exchanges: []string{"upbit", "binance"},
		FirstSeen: 1000,
	}

	sig, ok := Score(agg, model.MarketContext{}, 1000, testConfig())
	require.True(t, ok)
	require.NotNil(t, sig.KoreanArbitrage)
	assert.Equal(t, "binance", sig.KoreanArbitrage.BuyExchange)
}

func TestScore_NoKoreanArbitrageWithoutAKoreanExchange(t *testing.T) {
	agg := model.AggregatedEvent{
		Symbol:    "SEI",
		Sources:   []string{"rest_api_binance"},
		Exchanges: []string{"binance", "okx"},
		FirstSeen: 1000,
	}

	sig, ok := Score(agg, model.MarketContext{}, 1000, testConfig())
	require.True(t, ok)
	assert.Nil(t, sig.KoreanArbitrage)
}

func TestScore_ExplicitMarketContextOverridesDerivation(t *testing.T) {
	agg := model.AggregatedEvent{
		Symbol:    "SEI",
		Sources:   []string{"rest_api_upbit"},
		Exchanges: []string{"upbit", "binance"},
		FirstSeen: 1000,
	}
	ctx := model.MarketContext{
		KoreanArbitrage: &model.KoreanArbitrageHint{BuyExchange: "okx", SpreadPct: 4.2},
	}

	sig, ok := Score(agg, ctx, 1000, testConfig())
	require.True(t, ok)
	require.NotNil(t, sig.KoreanArbitrage)
	assert.Equal(t, "okx", sig.KoreanArbitrage.BuyExchange)
	assert.Equal(t, 4.2, sig.KoreanArbitrage.SpreadPct)
}

func TestTierFor_BoundaryTiers(t *testing.T) {
	tests := []struct {
		name       string
		total      float64
		wantTier   model.Tier
		wantAction model.SignalAction
		wantOK     bool
	}{
		{"at S floor", 90, model.TierS, model.ActionImmediateBuy, true},
		{"just below S", 89.99, model.TierA, model.ActionQuickBuy, true},
		{"at A floor", 75, model.TierA, model.ActionQuickBuy, true},
		{"at B floor", 60, model.TierB, model.ActionWatch, true},
		{"at C floor", 40, model.TierC, model.ActionWatch, true},
		{"just below C floor is noise", 39.99, model.TierNoise, model.ActionIgnore, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, action, ok := tierFor(tt.total)
			assert.Equal(t, tt.wantTier, tier)
			assert.Equal(t, tt.wantAction, action)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
