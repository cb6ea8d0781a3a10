// Package decider implements the Smart Trigger Decider: a stateful
// component (one instance per system) turning Signals into Decisions
// while enforcing cooldowns and per-symbol repeat-trigger limits.
package decider

import (
	"fmt"
	"strings"
	"sync"

	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/metrics"
	"github.com/signalforge/fusion/internal/model"
)

// exchangePriority is the best-exchange tie-break order for multi-exchange
// corroboration, per spec.md §4.4 and smart_trigger.py's _select_best_exchange.
var exchangePriority = []string{"binance", "okx", "bybit", "coinbase", "upbit", "gate", "kucoin"}

// Config carries every position-size, cooldown, and rate-limit constant
// spec.md §4.4 requires as configuration rather than hard-coded values.
type Config struct {
	TierSSources   []string
	Tier1Exchanges []string

	ScoreGate            float64
	MaxTriggersPerSymbol int
	TriggerWindowSeconds int64

	PositionSizeTierS1    float64
	PositionSizeKoreanArb float64
	PositionSizeMultiExch float64
	PositionSizeHighScore float64
	PositionSizeDefault   float64

	CooldownDefault   int64
	CooldownHighScore int64
	CooldownKoreanArb int64
}

// Decider is the stateful §4.4 component; safe for concurrent calls to
// Decide since its internal state is mutex-guarded.
type Decider struct {
	cfg   Config
	clock clock.Clock

	mu             sync.Mutex
	cooldownUntil  map[string]int64
	recentTriggers []model.TriggerRecord

	decisions int64
	buys      int64
	watches   int64
	skips     int64
}

// New returns a Decider with empty cooldown/history state.
func New(cfg Config, clk clock.Clock) *Decider {
	return &Decider{
		cfg:           cfg,
		clock:         clk,
		cooldownUntil: map[string]int64{},
	}
}

// Decide implements spec.md §4.4's four ordered checks: cooldown,
// repeat-trigger rate limit, score gate, then action selection. Korean
// arbitrage context, when korean is non-nil, is consulted by the action
// selection step.
func (d *Decider) Decide(sig model.Signal, korean *model.KoreanArbitrageHint) model.Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.decisions++
	now := d.clock.NowMs() / 1000

	if dec, skipped := d.checkCooldown(sig.Symbol, now); skipped {
		d.skips++
		return dec
	}

	if dec, skipped := d.checkRepeatTriggers(sig.Symbol, now); skipped {
		d.skips++
		return dec
	}

	if sig.TotalScore < d.cfg.ScoreGate {
		d.watches++
		return model.Decision{
			Symbol:    sig.Symbol,
			Exchange:  sig.Exchanges[0],
			Action:    model.DecisionWatch,
			Reason:    fmt.Sprintf("score %.0f < %.0f", sig.TotalScore, d.cfg.ScoreGate),
			Score:     sig.TotalScore,
			DecidedAt: now,
		}
	}

	decision := d.determineAction(sig, korean, now)

	if decision.Action == model.DecisionBuy {
		d.buys++
		d.recordTrigger(sig.Symbol, decision.Exchange, sig.TotalScore, decision.Reason, now)
		d.setCooldown(sig.Symbol, decision.Strategy, decision.Urgency, now)
		metrics.SetCooldownActive(len(d.cooldownUntil))
	} else {
		d.watches++
	}

	return decision
}

func (d *Decider) checkCooldown(symbol string, now int64) (model.Decision, bool) {
	until, ok := d.cooldownUntil[symbol]
	if !ok {
		return model.Decision{}, false
	}
	if now >= until {
		delete(d.cooldownUntil, symbol)
		return model.Decision{}, false
	}
	return model.Decision{
		Symbol:    symbol,
		Action:    model.DecisionSkip,
		Reason:    fmt.Sprintf("cooldown, remaining %ds", until-now),
		DecidedAt: now,
	}, true
}

func (d *Decider) checkRepeatTriggers(symbol string, now int64) (model.Decision, bool) {
	count := 0
	for _, t := range d.recentTriggers {
		if t.Symbol == symbol && now-t.Timestamp < d.cfg.TriggerWindowSeconds {
			count++
		}
	}
	if count >= d.cfg.MaxTriggersPerSymbol {
		return model.Decision{
			Symbol:    symbol,
			Action:    model.DecisionSkip,
			Reason:    fmt.Sprintf("rate-limited, %d triggers within window", count),
			DecidedAt: now,
		}, true
	}
	return model.Decision{}, false
}

func (d *Decider) determineAction(sig model.Signal, korean *model.KoreanArbitrageHint, now int64) model.Decision {
	exchange := "unknown"
	if len(sig.Exchanges) > 0 {
		exchange = sig.Exchanges[0]
	}

	if korean != nil {
		return model.Decision{
			Symbol:       sig.Symbol,
			Exchange:     korean.BuyExchange,
			Action:       model.DecisionBuy,
			Reason:       "Korean arbitrage opportunity",
			Urgency:      model.UrgencyHigh,
			PositionSize: d.cfg.PositionSizeKoreanArb,
			Strategy:     "korean_pump",
			Score:        sig.TotalScore,
			DecidedAt:    now,
		}
	}

	hasTierS := false
	for _, s := range sig.Sources {
		if containsFold(d.cfg.TierSSources, s) || strings.Contains(strings.ToLower(s), "alpha") {
			hasTierS = true
			break
		}
	}
	isTier1 := containsFold(d.cfg.Tier1Exchanges, exchange)

	switch {
	case hasTierS && isTier1:
		return model.Decision{
			Symbol: sig.Symbol, Exchange: exchange, Action: model.DecisionBuy,
			Reason: "Tier-S intel + Tier-1 exchange", Urgency: model.UrgencyImmediate,
			PositionSize: d.cfg.PositionSizeTierS1, Strategy: "alpha_tier1",
			Score: sig.TotalScore, DecidedAt: now,
		}
	case hasTierS:
		return model.Decision{
			Symbol: sig.Symbol, Exchange: exchange, Action: model.DecisionBuy,
			Reason: "Tier-S intel source", Urgency: model.UrgencyHigh,
			PositionSize: d.cfg.PositionSizeTierS1 * 0.7, Strategy: "alpha_only",
			Score: sig.TotalScore, DecidedAt: now,
		}
	case len(sig.Exchanges) >= 2:
		best := bestExchange(sig.Exchanges)
		return model.Decision{
			Symbol: sig.Symbol, Exchange: best, Action: model.DecisionBuy,
			Reason: fmt.Sprintf("%d exchanges confirmed", len(sig.Exchanges)), Urgency: model.UrgencyNormal,
			PositionSize: d.cfg.PositionSizeMultiExch, Strategy: "multi_confirm",
			Score: sig.TotalScore, DecidedAt: now,
		}
	case sig.TotalScore >= 80:
		return model.Decision{
			Symbol: sig.Symbol, Exchange: exchange, Action: model.DecisionBuy,
			Reason: fmt.Sprintf("high score %.0f", sig.TotalScore), Urgency: model.UrgencyNormal,
			PositionSize: d.cfg.PositionSizeHighScore, Strategy: "high_score",
			Score: sig.TotalScore, DecidedAt: now,
		}
	default:
		return model.Decision{
			Symbol: sig.Symbol, Exchange: exchange, Action: model.DecisionBuy,
			Reason: fmt.Sprintf("score %.0f passes gate", sig.TotalScore), Urgency: model.UrgencyLow,
			PositionSize: d.cfg.PositionSizeDefault, Strategy: "score_pass",
			Score: sig.TotalScore, DecidedAt: now,
		}
	}
}

func bestExchange(exchanges []string) string {
	lower := make([]string, len(exchanges))
	for i, e := range exchanges {
		lower[i] = strings.ToLower(e)
	}
	for _, p := range exchangePriority {
		for _, e := range lower {
			if e == p {
				return e
			}
		}
	}
	if len(exchanges) > 0 {
		return exchanges[0]
	}
	return "unknown"
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func (d *Decider) recordTrigger(symbol, exchange string, score float64, reason string, now int64) {
	d.recentTriggers = append(d.recentTriggers, model.TriggerRecord{
		Symbol: symbol, Exchange: exchange, Score: score, Timestamp: now, Reason: reason,
	})
	if len(d.recentTriggers) > 100 {
		d.recentTriggers = d.recentTriggers[len(d.recentTriggers)-100:]
	}
}

// setCooldown picks the cooldown duration per spec.md §4.4: Korean
// arbitrage gets the shortest window (these opportunities close fast and
// rearm quickly), IMMEDIATE/HIGH urgency gets the mid window, everything
// else the default.
func (d *Decider) setCooldown(symbol, strategy string, urgency model.Urgency, now int64) {
	var cooldown int64
	switch {
	case strategy == "korean_pump":
		cooldown = d.cfg.CooldownKoreanArb
	case urgency == model.UrgencyImmediate || urgency == model.UrgencyHigh:
		cooldown = d.cfg.CooldownHighScore
	default:
		cooldown = d.cfg.CooldownDefault
	}
	d.cooldownUntil[symbol] = now + cooldown
}

// Stats mirrors the original's get_stats() for heartbeat reporting.
type Stats struct {
	Decisions     int64
	Buy           int64
	Watch         int64
	Skip          int64
	CooldownCount int
	RecentCount   int
}

// Stats returns a snapshot of the Decider's counters.
func (d *Decider) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Decisions:     d.decisions,
		Buy:           d.buys,
		Watch:         d.watches,
		Skip:          d.skips,
		CooldownCount: len(d.cooldownUntil),
		RecentCount:   len(d.recentTriggers),
	}
}

// RecentTriggers returns up to limit of the most recent trigger records,
// newest first, mirroring the original's get_recent_triggers().
func (d *Decider) RecentTriggers(limit int) []model.TriggerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.recentTriggers)
	if limit > n {
		limit = n
	}
	out := make([]model.TriggerRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = d.recentTriggers[n-1-i]
	}
	return out
}
