// Package aggregator groups raw events from every source monitor into
// AggregatedEvents keyed by symbol (collecting every exchange the symbol is
// seen on), firing the first trigger
// condition that matches and tracking the one permitted WS-confirmation
// follow-up per spec.md §4.2.
package aggregator

import (
	"hash/fnv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/extract"
	"github.com/signalforge/fusion/internal/model"
)

// pending is the mutable, in-progress aggregation state for one
// symbol key (exchange holds the first exchange seen), mirroring the original's AggregatedEvent
// dataclass plus the triggered/ws_confirmed bookkeeping it needs between
// calls.
type pending struct {
	symbol    string
	exchange  string
	firstSeen int64

	sources      []string
	sourcesSeen  map[string]bool
	exchanges    []string
	exchangesSeen map[string]bool
	events       []model.RawEvent

	lastUpdated int64
	triggered   bool
	triggerReason string
	wsConfirmed bool

	contractAddress string
	chain           string
}

// Config is the subset of the pipeline's tier/exchange sets and window
// parameters the Aggregator needs; these come from internal/config so the
// sets are never hard-coded (spec.md §9's Open Question resolution).
type Config struct {
	TierSSources      []string
	OfficialSources   []string
	Tier1Exchanges    []string
	AggregationWindow int64 // seconds
	MaxPendingEvents  int
	ShardIndex        int
	ShardCount        int
}

// Aggregator holds one shard's worth of pending aggregation state. Running
// ShardCount Aggregator instances, each filtering incoming RawEvents to its
// own shard via Owns, gives every symbol key exactly one owner
// as spec.md §4.2's determinism rule requires.
type Aggregator struct {
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pending

	received   int64
	aggregated int64
	triggered  int64
	expired    int64
}

// New returns an Aggregator for one shard.
func New(cfg Config, clk clock.Clock, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		clock:   clk,
		log:     logger.With().Str("component", "aggregator").Int("shard", cfg.ShardIndex).Logger(),
		pending: map[string]*pending{},
	}
}

// Owns reports whether symbol's key hashes to this Aggregator's shard.
func (a *Aggregator) Owns(symbol string) bool {
	if a.cfg.ShardCount <= 1 {
		return true
	}
	return int(fnv32a(symbol)%uint32(a.cfg.ShardCount)) == a.cfg.ShardIndex
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// symbolOf resolves a RawEvent's symbol, falling back to the shared text
// extractor when the field is empty; returns "" when extraction fails too.
func symbolOf(e model.RawEvent) string {
	if e.Symbol != "" {
		return strings.ToUpper(e.Symbol)
	}
	if len(e.Symbols) > 0 {
		return strings.ToUpper(e.Symbols[0])
	}
	symbols := extract.Symbols(e.RawText)
	if len(symbols) > 0 {
		return symbols[0]
	}
	return ""
}

func exchangeOf(e model.RawEvent) string {
	if e.Exchange != "" {
		return strings.ToLower(e.Exchange)
	}
	return "unknown"
}

// Process feeds one RawEvent through classification, grouping, and trigger
// evaluation. It returns the resulting AggregatedEvent when a trigger
// condition fires (including the WS-confirmation follow-up), or ok=false
// when the event was absorbed without firing.
func (a *Aggregator) Process(e model.RawEvent) (agg model.AggregatedEvent, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.received++

	symbol := symbolOf(e)
	if symbol == "" {
		a.log.Debug().Str("source", e.Source).Msg("event has no extractable symbol, dropping")
		return model.AggregatedEvent{}, false
	}
	exchange := exchangeOf(e)
	k := symbol

	now := a.clock.NowMs() / 1000
	p, exists := a.pending[k]
	if !exists {
		p = &pending{
			symbol:        symbol,
			exchange:      exchange,
			firstSeen:     now,
			sourcesSeen:   map[string]bool{},
			exchangesSeen: map[string]bool{},
		}
		a.pending[k] = p
		a.aggregated++
	}

	tag := ClassifySource(string(e.SourceType), e.Source)
	if !p.sourcesSeen[tag] {
		p.sourcesSeen[tag] = true
		p.sources = append(p.sources, tag)
	}
	if !p.exchangesSeen[exchange] {
		p.exchangesSeen[exchange] = true
		p.exchanges = append(p.exchanges, exchange)
	}
	if len(p.events) < 10 {
		p.events = append(p.events, e)
	}
	if e.ContractAddress != "" && p.contractAddress == "" {
		p.contractAddress = e.ContractAddress
		p.chain = e.Chain
	}
	p.lastUpdated = now

	result, fired := a.checkTrigger(p, tag)

	if len(a.pending) > a.cfg.MaxPendingEvents {
		a.cleanupExpired(now)
	}

	return result, fired
}

// checkTrigger evaluates spec.md §4.2's four trigger conditions in order,
// following original_source/src/fusion/event_aggregator.py's exact
// ordering and the WS-confirmation-after-fire behavior where spec.md is
// silent on sequencing detail.
func (a *Aggregator) checkTrigger(p *pending, latestTag string) (model.AggregatedEvent, bool) {
	if p.triggered {
		if strings.HasPrefix(latestTag, "ws_") && !p.wsConfirmed {
			p.wsConfirmed = true
			return a.build(p, "trading_started"), true
		}
		return model.AggregatedEvent{}, false
	}

	// Condition 1: Tier-S immediate.
	for _, s := range p.sources {
		if IsTierS(s, a.cfg.TierSSources) {
			p.triggered = true
			p.triggerReason = "Tier-S alpha source"
			a.triggered++
			return a.build(p, "pending"), true
		}
	}

	// Condition 2: Official + Tier-1.
	hasOfficial := false
	for _, s := range p.sources {
		if IsOfficial(s, a.cfg.OfficialSources) {
			hasOfficial = true
			break
		}
	}
	if hasOfficial && IsTier1Exchange(p.exchange, a.cfg.Tier1Exchanges) {
		p.triggered = true
		p.triggerReason = "Official + Tier1 (" + p.exchange + ")"
		a.triggered++
		return a.build(p, "pending"), true
	}

	// Condition 3: multi-exchange corroboration.
	if len(p.exchanges) >= 2 {
		p.triggered = true
		p.triggerReason = "multiple exchanges confirmed"
		a.triggered++
		return a.build(p, "pending"), true
	}

	// Condition 4: WS confirmation after a prior (unfired) alert — only
	// fires when both a WS source and a non-WS source are present, i.e.
	// the WS data point corroborates an earlier non-WS sighting.
	hasWS, hasNonWS := false, false
	for _, s := range p.sources {
		if strings.HasPrefix(s, "ws_") {
			hasWS = true
		} else {
			hasNonWS = true
		}
	}
	if hasWS && hasNonWS {
		p.triggered = true
		p.wsConfirmed = true
		p.triggerReason = "WS confirmed after alert"
		a.triggered++
		return a.build(p, "trading_started"), true
	}

	return model.AggregatedEvent{}, false
}

// build assembles the public AggregatedEvent from the internal pending
// state. Market is left nil here, and nothing in this repository sets it:
// the pipeline then scores with an empty MarketContext and the scorer
// derives any Korean-arbitrage hint from Exchanges itself.
func (a *Aggregator) build(p *pending, status string) model.AggregatedEvent {
	return model.AggregatedEvent{
		Symbol:          p.symbol,
		Exchange:        p.exchange,
		Sources:         append([]string(nil), p.sources...),
		Exchanges:       append([]string(nil), p.exchanges...),
		Events:          append([]model.RawEvent(nil), p.events...),
		FirstSeen:       p.firstSeen,
		LastUpdated:     p.lastUpdated,
		TriggerReason:   p.triggerReason,
		Status:          status,
		WSConfirmed:     p.wsConfirmed,
		ContractAddress: p.contractAddress,
		Chain:           p.chain,
	}
}

// cleanupExpired drops pending groups whose last_updated predates the
// aggregation window. Expiry never emits a terminal event, matching
// spec.md §4.2. Caller holds a.mu.
func (a *Aggregator) cleanupExpired(now int64) {
	var expiredKeys []string
	for k, p := range a.pending {
		if now-p.lastUpdated > a.cfg.AggregationWindow {
			expiredKeys = append(expiredKeys, k)
		}
	}
	for _, k := range expiredKeys {
		delete(a.pending, k)
		a.expired++
	}
	if len(expiredKeys) > 0 {
		a.log.Debug().Int("count", len(expiredKeys)).Msg("expired pending aggregation groups")
	}
}

// Stats mirrors the original's get_stats() for heartbeat reporting.
type Stats struct {
	Received   int64
	Aggregated int64
	Triggered  int64
	Expired    int64
	Pending    int
}

// Stats returns a snapshot of this shard's counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Received:   a.received,
		Aggregated: a.aggregated,
		Triggered:  a.triggered,
		Expired:    a.expired,
		Pending:    len(a.pending),
	}
}
