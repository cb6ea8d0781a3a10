package decider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/model"
)

func testConfig() Config {
	return Config{
		TierSSources:          []string{"tg_alpha_intel"},
		Tier1Exchanges:        []string{"binance", "okx", "upbit"},
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

func TestDecide_BelowScoreGateWatches(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	d := New(testConfig(), clk)

	sig := model.Signal{Symbol: "FOO", Exchanges: []string{"gate"}, Sources: []string{"rest_api_gate"}, TotalScore: 45}
	dec := d.Decide(sig, nil)

	assert.Equal(t, model.DecisionWatch, dec.Action)
	assert.Contains(t, dec.Reason, "< 60")
}

func TestDecide_TierSPlusTier1IsImmediateBuy(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	d := New(testConfig(), clk)

	sig := model.Signal{Symbol: "PEPE", Exchanges: []string{"binance"}, Sources: []string{"tg_alpha_intel"}, TotalScore: 95}
	dec := d.Decide(sig, nil)

	require.Equal(t, model.DecisionBuy, dec.Action)
	assert.Equal(t, model.UrgencyImmediate, dec.Urgency)
	assert.Equal(t, "alpha_tier1", dec.Strategy)
	assert.Equal(t, 0.7, dec.PositionSize)
}

func TestDecide_TierSWithoutTier1IsHighUrgencyAtReducedSize(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	d := New(testConfig(), clk)

	sig := model.Signal{Symbol: "PEPE", Exchanges: []string{"gate"}, Sources: []string{"tg_alpha_intel"}, TotalScore: 92}
	dec := d.Decide(sig, nil)

	require.Equal(t, model.DecisionBuy, dec.Action)
	assert.Equal(t, model.UrgencyHigh, dec.Urgency)
	assert.Equal(t, "alpha_only", dec.Strategy)
	assert.InDelta(t, 0.49, dec.PositionSize, 0.001)
}

func TestDecide_MultiExchangeCorroborationPicksPriorityExchange(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	d := New(testConfig(), clk)

	sig := model.Signal{
		Symbol:     "WIF",
		Exchanges:  []string{"kucoin", "okx", "gate"},
		Sources:    []string{"rest_api_kucoin", "rest_api_okx", "rest_api_gate"},
		TotalScore: 70,
	}
	dec := d.Decide(sig, nil)

	require.Equal(t, model.DecisionBuy, dec.Action)
	assert.Equal(t, "okx", dec.Exchange, "okx outranks kucoin/gate in the exchange priority order")
	assert.Equal(t, "multi_confirm", dec.Strategy)
	assert.Equal(t, 0.5, dec.PositionSize)
}

func TestDecide_HighScoreSingleSourceBuysAtReducedSize(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	d := New(testConfig(), clk)

	sig := model.Signal{Symbol: "BONK", Exchanges: []string{"gate"}, Sources: []string{"rest_api_gate"}, TotalScore: 85}
	dec := d.Decide(sig, nil)

	require.Equal(t, model.DecisionBuy, dec.Action)
	assert.Equal(t, "high_score", dec.Strategy)
	assert.Equal(t, 0.3, dec.PositionSize)
}

func TestDecide_ScorePassesGateDefaultSize(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	d := New(testConfig(), clk)

	sig := model.Signal{Symbol: "FLOKI", Exchanges: []string{"gate"}, Sources: []string{"rest_api_gate"}, TotalScore: 62}
	dec := d.Decide(sig, nil)

	require.Equal(t, model.DecisionBuy, dec.Action)
	assert.Equal(t, "score_pass", dec.Strategy)
	assert.Equal(t, 0.2, dec.PositionSize)
}

func TestDecide_KoreanArbitrageOverridesEverything(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	d := New(testConfig(), clk)

	sig := model.Signal{Symbol: "XRP", Exchanges: []string{"gate"}, Sources: []string{"rest_api_gate"}, TotalScore: 61}
	korean := &model.KoreanArbitrageHint{BuyExchange: "bithumb"}
	dec := d.Decide(sig, korean)

	require.Equal(t, model.DecisionBuy, dec.Action)
	assert.Equal(t, "korean_pump", dec.Strategy)
	assert.Equal(t, "bithumb", dec.Exchange)
	assert.Equal(t, 0.5, dec.PositionSize)
}

func TestDecide_CooldownSuppressesFollowingBuy(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	d := New(testConfig(), clk)

	sig := model.Signal{Symbol: "PEPE", Exchanges: []string{"binance"}, Sources: []string{"tg_alpha_intel"}, TotalScore: 95}
	first := d.Decide(sig, nil)
	require.Equal(t, model.DecisionBuy, first.Action)

	second := d.Decide(sig, nil)
	assert.Equal(t, model.DecisionSkip, second.Action)
	assert.Contains(t, second.Reason, "cooldown")
}

func TestDecide_CooldownExpiresAfterWindow(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	d := New(testConfig(), clk)

	sig := model.Signal{Symbol: "PEPE", Exchanges: []string{"binance"}, Sources: []string{"tg_alpha_intel"}, TotalScore: 95}
	first := d.Decide(sig, nil)
	require.Equal(t, model.DecisionBuy, first.Action)

	clk.Advance(901 * time.Second) // CooldownHighScore = 900s for IMMEDIATE urgency
	third := d.Decide(sig, nil)
	assert.Equal(t, model.DecisionBuy, third.Action)
}

func TestDecide_RepeatTriggerRateLimitSkipsAfterMax(t *testing.T) {
	clk := clock.NewFixed(time.Unix(1000, 0))
	cfg := testConfig()
	cfg.CooldownHighScore = 0 // isolate the rate limit from cooldown suppression
	cfg.CooldownDefault = 0
	cfg.CooldownKoreanArb = 0
	d := New(cfg, clk)

	sig := model.Signal{Symbol: "PEPE", Exchanges: []string{"binance"}, Sources: []string{"tg_alpha_intel"}, TotalScore: 95}

	first := d.Decide(sig, nil)
	require.Equal(t, model.DecisionBuy, first.Action)
	clk.Advance(1 * time.Second)

	second := d.Decide(sig, nil)
	require.Equal(t, model.DecisionBuy, second.Action)
	clk.Advance(1 * time.Second)

	third := d.Decide(sig, nil)
	assert.Equal(t, model.DecisionSkip, third.Action)
	assert.Contains(t, third.Reason, "rate-limited")
}

func TestBestExchange_FallsBackToFirstWhenNoneRanked(t *testing.T) {
	assert.Equal(t, "some_unlisted_dex", bestExchange([]string{"some_unlisted_dex"}))
}

func TestBestExchange_EmptyReturnsUnknown(t *testing.T) {
	assert.Equal(t, "unknown", bestExchange(nil))
}
