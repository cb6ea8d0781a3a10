// Package exchanges is the data-driven table of per-exchange ParserSpecs:
// how to navigate each exchange's market-listing response to the record
// list, which records count as live/tradable, and where the symbol lives.
// Adding support for a new exchange means adding one entry here, never a
// new code path in internal/monitor/rest.
package exchanges

import (
	"strings"

	"github.com/signalforge/fusion/internal/monitor"
)

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// RESTParsers is the fixed per-exchange REST-listing parser table.
var RESTParsers = map[string]monitor.ParserSpec{
	"binance": {
		Exchange:     "binance",
		PathAccessor: func(doc any) []any { return asList(asMap(doc)["symbols"]) },
		FilterPredicate: func(r any) bool {
			return asString(asMap(r)["status"]) == "TRADING"
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["symbol"]) },
	},
	"okx": {
		Exchange:     "okx",
		PathAccessor: func(doc any) []any { return asList(asMap(doc)["data"]) },
		FilterPredicate: func(r any) bool {
			return asString(asMap(r)["state"]) == "live"
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["instId"]) },
	},
	"bybit": {
		Exchange: "bybit",
		PathAccessor: func(doc any) []any {
			result := asMap(asMap(doc)["result"])
			return asList(result["list"])
		},
		FilterPredicate: func(r any) bool {
			return asString(asMap(r)["status"]) == "Trading"
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["symbol"]) },
	},
	"kucoin": {
		Exchange:     "kucoin",
		PathAccessor: func(doc any) []any { return asList(asMap(doc)["data"]) },
		FilterPredicate: func(r any) bool {
			enabled, ok := asMap(r)["enableTrading"].(bool)
			return !ok || enabled
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["symbol"]) },
	},
	"gate": {
		Exchange: "gate",
		PathAccessor: func(doc any) []any {
			if l, ok := doc.([]any); ok {
				return l
			}
			return nil
		},
		FilterPredicate: func(r any) bool {
			return asString(asMap(r)["trade_status"]) == "tradable"
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["id"]) },
	},
	"bitget": {
		Exchange:     "bitget",
		PathAccessor: func(doc any) []any { return asList(asMap(doc)["data"]) },
		FilterPredicate: func(r any) bool {
			return asString(asMap(r)["status"]) == "online"
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["symbol"]) },
	},
	"htx": {
		Exchange:     "htx",
		PathAccessor: func(doc any) []any { return asList(asMap(doc)["data"]) },
		FilterPredicate: func(r any) bool {
			state := asString(asMap(r)["state"])
			return state == "online" || state == "pre-online"
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["symbol"]) },
		Normalizer:     strings.ToUpper,
	},
	"coinbase": {
		Exchange: "coinbase",
		PathAccessor: func(doc any) []any {
			if l, ok := doc.([]any); ok {
				return l
			}
			return nil
		},
		FilterPredicate: func(r any) bool {
			return asString(asMap(r)["status"]) == "online"
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["id"]) },
	},
	"upbit": {
		Exchange:     "upbit",
		PathAccessor: func(doc any) []any { return asList(doc) },
		FilterPredicate: func(r any) bool {
			return asMap(r)["market"] != nil
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["market"]) },
	},
}

// WSParsers pairs each exchange's WS monitor with its ticker-stream
// parser. No subscribe frame is defined here.
var WSParsers = map[string]monitor.ParserSpec{
	"binance": {
		Exchange:     "binance",
		PathAccessor: func(doc any) []any { return []any{doc} },
		FilterPredicate: func(r any) bool {
			return asString(asMap(r)["s"]) != ""
		},
		SymbolAccessor: func(r any) string { return asString(asMap(r)["s"]) },
	},
}
