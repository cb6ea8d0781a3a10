// Package scorer implements the Alpha Scorer: a pure function mapping an
// AggregatedEvent and market context to a Signal. It has no side effects
// and no state, so each pipeline Stage calls it directly without any
// synchronization of its own.
package scorer

import (
	"math"
	"strings"

	"github.com/signalforge/fusion/internal/model"
)

// Config carries the venue/source score tables and Tier-1/Tier-S/Korean
// sets the composite formula needs; all come from internal/config.
type Config struct {
	TierSSources             []string
	Tier1Exchanges           []string
	KoreanExchanges          []string
	AggregationWindowSeconds int64
}

// restAPITopVenues lists the venues whose rest_api_<exchange> tag scores 68
// rather than 58. The per-family source scores themselves are the switch
// in sourceScore below.
var restAPITopVenues = map[string]bool{
	"binance": true, "okx": true, "upbit": true, "coinbase": true,
}

func sourceScore(tags []string, tierSSources []string) float64 {
	best := 10.0 // unknown floor
	for _, tag := range tags {
		var s float64
		switch {
		case containsFold(tierSSources, tag) || strings.Contains(tag, "alpha") || strings.Contains(tag, "formula"):
			s = 95
		case tag == "tg_exchange_official":
			s = 80
		case strings.HasPrefix(tag, "rest_api_"):
			exchange := strings.TrimPrefix(tag, "rest_api_")
			if restAPITopVenues[exchange] {
				s = 68
			} else {
				s = 58
			}
		case strings.HasPrefix(tag, "ws_"):
			s = 50
		case tag == "social_telegram" || tag == "news":
			s = 38
		case tag == "chain_contract":
			s = 45
		default:
			s = 10
		}
		if s > best {
			best = s
		}
	}
	return best
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// exchangeScoreTable assigns a venue quality score per spec.md §4.3.
var exchangeScoreTable = map[string]float64{
	"binance": 90, "coinbase": 90, "upbit": 90,
	"okx": 75, "bybit": 75, "kraken": 75,
	"gate": 55, "kucoin": 55, "mexc": 55, "htx": 55, "bitget": 55,
}

func exchangeScore(exchanges []string) float64 {
	best := 30.0 // long-tail floor
	for _, e := range exchanges {
		if s, ok := exchangeScoreTable[strings.ToLower(e)]; ok && s > best {
			best = s
		}
	}
	return best
}

// timingScore decays linearly: 100 at age=0, 50 at age=window/2, 20 at
// age=window, per spec.md §4.3.
func timingScore(ageSeconds float64, windowSeconds float64) float64 {
	if windowSeconds <= 0 {
		return 20
	}
	half := windowSeconds / 2
	switch {
	case ageSeconds <= 0:
		return 100
	case ageSeconds <= half:
		// linear 100 -> 50 over [0, half]
		return 100 - (ageSeconds/half)*50
	case ageSeconds <= windowSeconds:
		// linear 50 -> 20 over [half, window]
		return 50 - ((ageSeconds-half)/half)*30
	default:
		return 20
	}
}

func multiSourceBonus(numSources, numExchanges int) float64 {
	bonus := 10*float64(numSources-1) + 5*float64(numExchanges-1)
	return math.Min(40, math.Max(0, bonus))
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// deriveKoreanArbitrage substitutes, in-scope, for the execution engine's
// market-context feed that model.AggregatedEvent.Market is documented as
// waiting on: it flags a Korean-premium opportunity whenever the fused
// event has been seen on both a configured Korean exchange and some other
// venue, and names the best-ranked non-Korean venue as the buy side. It
// cannot compute SpreadPct, since that needs real price data this repo
// never fetches; callers get a hint with BuyExchange set and SpreadPct 0.
func deriveKoreanArbitrage(agg model.AggregatedEvent, cfg Config) *model.KoreanArbitrageHint {
	if len(cfg.KoreanExchanges) == 0 {
		return nil
	}
	hasKorean := false
	best := ""
	bestScore := -1.0
	for _, e := range agg.Exchanges {
		if containsFold(cfg.KoreanExchanges, e) {
			hasKorean = true
			continue
		}
		lower := strings.ToLower(e)
		if s, ok := exchangeScoreTable[lower]; ok && s > bestScore {
			bestScore = s
			best = lower
		}
	}
	if !hasKorean || best == "" {
		return nil
	}
	return &model.KoreanArbitrageHint{BuyExchange: best}
}

func tierFor(total float64) (model.Tier, model.SignalAction, bool) {
	switch {
	case total >= 90:
		return model.TierS, model.ActionImmediateBuy, true
	case total >= 75:
		return model.TierA, model.ActionQuickBuy, true
	case total >= 60:
		return model.TierB, model.ActionWatch, true
	case total >= 40:
		return model.TierC, model.ActionWatch, true
	default:
		return model.TierNoise, model.ActionIgnore, false
	}
}

// Score implements spec.md §4.3. ok is false when the composite score is
// below the NOISE floor (total < 40), in which case callers must drop the
// event rather than emit a Signal.
func Score(agg model.AggregatedEvent, ctx model.MarketContext, nowSeconds int64, cfg Config) (model.Signal, bool) {
	age := float64(nowSeconds - agg.FirstSeen)

	src := sourceScore(agg.Sources, cfg.TierSSources)
	exch := exchangeScore(agg.Exchanges)
	timing := timingScore(age, float64(cfg.AggregationWindowSeconds))
	bonus := multiSourceBonus(len(agg.Sources), len(agg.Exchanges))

	// spec.md §4.3's composite literally lists the multi-source bonus
	// twice: once folded into the 0.35/0.25/0.20/0.20 weighted sum, once
	// added again raw on top ("... + 0.20·multi + bonus"). Without the
	// second, unweighted addition the weighted sum alone tops out at 100
	// and Tier S (total >= 90) is unreachable once any weight is spent on
	// sub-scores below their ceiling; the raw addition is also what lets
	// a well-corroborated event push total_score past 100, per the
	// field's documented "(bonuses can lift above 100)" range.
	weighted := 0.35*src + 0.25*exch + 0.20*timing + 0.20*bonus
	total := weighted + bonus

	tier, action, ok := tierFor(total)
	if !ok {
		return model.Signal{}, false
	}

	hint := ctx.KoreanArbitrage
	if hint == nil {
		hint = deriveKoreanArbitrage(agg, cfg)
	}

	confidence := clip(total/100, 0, 1) * (0.5 + 0.1*math.Min(5, float64(len(agg.Sources))))

	return model.Signal{
		Symbol:           agg.Symbol,
		Exchanges:        append([]string(nil), agg.Exchanges...),
		Sources:          append([]string(nil), agg.Sources...),
		SourceScore:      src,
		ExchangeScore:    exch,
		TimingScore:      timing,
		MultiSourceBonus: bonus,
		TotalScore:       total,
		Tier:             tier,
		Action:           action,
		Confidence:       confidence,
		ContractAddress:  agg.ContractAddress,
		Chain:            agg.Chain,
		LatencyMs:        int64(age * 1000),
		IsSuperEvent:     isSuperEvent(agg, cfg),
		Status:           agg.Status,
		WSConfirmed:      agg.WSConfirmed,
		KoreanArbitrage:  hint,
	}, true
}

// isSuperEvent promotes a fused event straight to CRITICAL priority when
// confirmed by two or more Tier-1 exchanges, per turbo_pusher.py's
// get_priority rule — a case spec.md §4.5's plain "tier == S" check alone
// would miss.
func isSuperEvent(agg model.AggregatedEvent, cfg Config) bool {
	count := 0
	for _, e := range agg.Exchanges {
		if containsFold(cfg.Tier1Exchanges, e) {
			count++
		}
	}
	return count >= 2
}
