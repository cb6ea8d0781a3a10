// Package extract holds the pure text-to-signal functions every monitor
// uses to pull candidate symbols, contract addresses, and chain hints out
// of raw announcement/telegram/news text. Nothing here touches the
// network or the event log; each function is a deterministic string-in,
// value-out transform so it is trivially unit testable.
package extract

import (
	"regexp"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/signalforge/fusion/internal/model"
)

// symbolPattern matches the three shapes spec.md names: $XXX, XXX/QUOTE,
// or a bare uppercase token.
var symbolPattern = regexp.MustCompile(`\$([A-Z]{2,10})\b|\b([A-Z]{2,10})/[A-Z]{2,10}\b|\b([A-Z]{2,10})\b`)

// evmAddressPattern matches a word-bounded EVM hex address.
var evmAddressPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)

// solanaAddressPattern matches a candidate base58 Solana address. It is
// intentionally broad (base58's own alphabet already excludes 0/O/I/l); the
// Solana-context keyword gate in ContractAddress is what suppresses false
// positives, not this regex.
var solanaAddressPattern = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)

// solanaContextKeywords gates Solana address candidates: without one of
// these words nearby, a bare base58-looking string is far more likely to be
// a tx hash, API key, or unrelated token than a mint address.
var solanaContextKeywords = []string{"solana", "spl", "pump.fun", "pumpfun", "raydium", "jupiter", "sol "}

// stopWords excludes common English words and non-ticker capitalized
// tokens that would otherwise look like valid 2-10 letter symbols.
var stopWords = map[string]bool{
	"THE": true, "AND": true, "FOR": true, "ARE": true, "NEW": true,
	"NOW": true, "WILL": true, "CAN": true, "ALL": true, "OUR": true,
	"YOU": true, "WITH": true, "FROM": true, "THIS": true, "THAT": true,
	"HAS": true, "HAVE": true, "BEEN": true, "WAS": true, "ITS": true,
	"NOT": true, "BUT": true, "GET": true, "OUT": true, "WAY": true,
	"USA": true, "USD": true, "API": true, "URL": true, "CEO": true,
	"CTO": true, "FAQ": true,
}

const maxSymbols = 5

// Symbols finds candidate uppercase tickers in text, filters them against
// the stop-list, dedupes while preserving first-seen order, and caps the
// result at five.
func Symbols(text string) []string {
	matches := symbolPattern.FindAllStringSubmatch(text, -1)

	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		var candidate string
		for _, g := range m[1:] {
			if g != "" {
				candidate = g
				break
			}
		}
		if candidate == "" || stopWords[candidate] || seen[candidate] {
			continue
		}
		seen[candidate] = true
		out = append(out, candidate)
		if len(out) >= maxSymbols {
			break
		}
	}
	return out
}

// ContractAddress scans text for an EVM or Solana contract address,
// returning the first match and its inferred chain. EVM addresses are
// checked first since they have a much lower false-positive rate than the
// base58 pattern; a Solana candidate is only accepted when a context
// keyword is present in text.
func ContractAddress(text string) (address string, chain model.ChainID, ok bool) {
	if m := evmAddressPattern.FindString(text); m != "" {
		return m, InferChain(text), true
	}

	if hasSolanaContext(text) {
		for _, candidate := range solanaAddressPattern.FindAllString(text, -1) {
			if isValidBase58(candidate) {
				return candidate, model.ChainSolana, true
			}
		}
	}

	return "", "", false
}

func hasSolanaContext(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range solanaContextKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isValidBase58(s string) bool {
	_, err := base58.Decode(s)
	return err == nil
}

// chainKeywords is checked in order so more specific chains (bsc, base,
// arbitrum, polygon, solana) win over the ethereum default.
var chainKeywords = []struct {
	chain    model.ChainID
	keywords []string
}{
	{model.ChainBSC, []string{"bsc", "bnb chain", "binance smart chain"}},
	{model.ChainBase, []string{"base chain", " base "}},
	{model.ChainArbitrum, []string{"arbitrum"}},
	{model.ChainPolygon, []string{"polygon", "matic"}},
	{model.ChainSolana, []string{"solana"}},
}

// InferChain scans text for chain keywords, defaulting to Ethereum (the
// EVM default) when nothing more specific matches.
func InferChain(text string) model.ChainID {
	lower := " " + strings.ToLower(text) + " "
	for _, ck := range chainKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(lower, kw) {
				return ck.chain
			}
		}
	}
	return model.ChainEthereum
}
