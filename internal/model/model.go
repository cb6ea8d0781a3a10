// Package model defines the wire and in-memory shapes shared by every
// stage of the fusion pipeline: RawEvent on the way in, Signal and Decision
// in the middle, and FusedEvent on the way out.
package model

// SourceType is the closed taxonomy of where a RawEvent originated.
type SourceType string

const (
	SourceWebSocket    SourceType = "websocket"
	SourceREST         SourceType = "rest"
	SourceAnnouncement SourceType = "announcement"
	SourceTelegram     SourceType = "telegram"
	SourceNews         SourceType = "news"
	SourceChain        SourceType = "chain"
)

// ChainID is the closed set of chains the extractor can infer.
type ChainID string

const (
	ChainEthereum ChainID = "ethereum"
	ChainBSC      ChainID = "bsc"
	ChainBase     ChainID = "base"
	ChainArbitrum ChainID = "arbitrum"
	ChainPolygon  ChainID = "polygon"
	ChainSolana   ChainID = "solana"
)

// RawEvent is the normalized per-source observation appended to events:raw.
type RawEvent struct {
	EventID         string     `json:"event_id"`
	SourceType      SourceType `json:"source_type"`
	Source          string     `json:"source"`
	Exchange        string     `json:"exchange,omitempty"`
	Symbol          string     `json:"symbol,omitempty"`
	Symbols         []string   `json:"symbols,omitempty"`
	RawText         string     `json:"raw_text,omitempty"`
	URL             string     `json:"url,omitempty"`
	ContractAddress string     `json:"contract_address,omitempty"`
	Chain           string     `json:"chain,omitempty"`
	DetectedAt      int64      `json:"detected_at"`
}

// MarketContext carries the facts the Alpha Scorer needs beyond the
// aggregated event itself. Its only field is a Korean-arbitrage hint, as
// discovered by the (out of scope) execution engine.
type MarketContext struct {
	KoreanArbitrage *KoreanArbitrageHint `json:"korean_arbitrage,omitempty"`
}

// KoreanArbitrageHint flags that a Korean-exchange premium was observed for
// this symbol, and which exchange carries the best price to buy on.
type KoreanArbitrageHint struct {
	BuyExchange string  `json:"buy_exchange"`
	SpreadPct   float64 `json:"spread_pct"`
}

// AggregatedEvent is the Event Aggregator's output: a correlated group of
// RawEvents about the same symbol, across every exchange it was seen on,
// that satisfied a trigger condition. Status distinguishes the primary fire from the one permitted
// WS-confirmation follow-up.
type AggregatedEvent struct {
	Symbol          string         `json:"symbol"`
	Exchange        string         `json:"exchange"`
	Sources         []string       `json:"sources"`
	Exchanges       []string       `json:"exchanges"`
	Events          []RawEvent     `json:"events"`
	FirstSeen       int64          `json:"first_seen"`
	LastUpdated     int64          `json:"last_updated"`
	TriggerReason   string         `json:"trigger_reason"`
	Status          string         `json:"status"` // "pending" | "trading_started"
	WSConfirmed     bool           `json:"ws_confirmed"`
	ContractAddress string         `json:"contract_address,omitempty"`
	Chain           string         `json:"chain,omitempty"`
	Market          *MarketContext `json:"market,omitempty"`
}

// Tier is the Alpha Scorer's coarse quality bucket.
type Tier string

const (
	TierS     Tier = "S"
	TierA     Tier = "A"
	TierB     Tier = "B"
	TierC     Tier = "C"
	TierNoise Tier = "NOISE"
)

// SignalAction is the Alpha Scorer's recommended treatment; distinct from
// Decision.Action, which is the Smart Trigger's final word.
type SignalAction string

const (
	ActionImmediateBuy SignalAction = "IMMEDIATE_BUY"
	ActionQuickBuy     SignalAction = "QUICK_BUY"
	ActionWatch        SignalAction = "WATCH"
	ActionIgnore       SignalAction = "IGNORE"
)

// Signal is the scored output of the Alpha Scorer.
type Signal struct {
	Symbol           string               `json:"symbol"`
	Exchanges        []string             `json:"exchanges"`
	Sources          []string             `json:"sources"`
	SourceScore      float64              `json:"source_score"`
	ExchangeScore    float64              `json:"exchange_score"`
	TimingScore      float64              `json:"timing_score"`
	MultiSourceBonus float64              `json:"multi_source_bonus"`
	TotalScore       float64              `json:"total_score"`
	Tier             Tier                 `json:"tier"`
	Action           SignalAction         `json:"action"`
	Confidence       float64              `json:"confidence"`
	ContractAddress  string               `json:"contract_address,omitempty"`
	Chain            string               `json:"chain,omitempty"`
	LatencyMs        int64                `json:"latency_ms"`
	IsSuperEvent     bool                 `json:"is_super_event"`
	Status           string               `json:"status"`
	WSConfirmed      bool                 `json:"ws_confirmed"`
	KoreanArbitrage  *KoreanArbitrageHint `json:"korean_arbitrage,omitempty"`
}

// DecisionAction is the Smart Trigger Decider's final action.
type DecisionAction string

const (
	DecisionBuy   DecisionAction = "BUY"
	DecisionWatch DecisionAction = "WATCH"
	DecisionSkip  DecisionAction = "SKIP"
)

// Urgency drives Pusher priority ordering.
type Urgency string

const (
	UrgencyImmediate Urgency = "IMMEDIATE"
	UrgencyHigh      Urgency = "HIGH"
	UrgencyNormal    Urgency = "NORMAL"
	UrgencyLow       Urgency = "LOW"
)

// Decision is the Smart Trigger Decider's output.
type Decision struct {
	Symbol       string         `json:"symbol"`
	Exchange     string         `json:"exchange"`
	Action       DecisionAction `json:"action"`
	Reason       string         `json:"reason"`
	Urgency      Urgency        `json:"urgency"`
	PositionSize float64        `json:"position_size"`
	Strategy     string         `json:"strategy"`
	Score        float64        `json:"score"`
	DecidedAt    int64          `json:"decided_at"`
}

// TriggerRecord is one entry in the bounded trigger-history ring used by
// the repeat-trigger rate limit.
type TriggerRecord struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	Score     float64 `json:"score"`
	Timestamp int64   `json:"timestamp"`
	Reason    string  `json:"reason"`
}

// FusedEvent is the Decision merged with the Signal it was derived from,
// appended to events:fused for the Pusher to consume.
type FusedEvent struct {
	IdempotencyKey string   `json:"idempotency_key"`
	Signal         Signal   `json:"signal"`
	Decision       Decision `json:"decision"`
}
