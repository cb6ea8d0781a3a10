package aggregator

import "strings"

// ClassifySource maps a RawEvent's (sourceType, source) pair onto the
// closed tag taxonomy of spec.md §4.2. Downstream scoring reasons about
// these tags, never about raw source strings, so a new monitor only needs
// to slot into this function to be scored correctly.
func ClassifySource(sourceType, source string) string {
	source = strings.ToLower(source)

	switch {
	case strings.Contains(source, "alpha_intel") || strings.Contains(source, "insider") || strings.Contains(source, "formula"):
		return "tg_alpha_intel"
	case strings.Contains(source, "official"):
		return "tg_exchange_official"
	case sourceType == "telegram":
		return "social_telegram"
	case sourceType == "rest":
		return "rest_api_" + exchangeSuffix(source)
	case sourceType == "websocket":
		return "ws_" + exchangeSuffix(source)
	case sourceType == "chain":
		return "chain_contract"
	case sourceType == "news":
		return "news"
	default:
		return "unknown"
	}
}

// exchangeSuffix pulls the exchange name out of a "rest_api_binance" /
// "ws_upbit" style source string, falling back to the raw string when
// there's no recognizable prefix to strip.
func exchangeSuffix(source string) string {
	for _, prefix := range []string{"rest_api_", "ws_"} {
		if strings.HasPrefix(source, prefix) {
			return strings.TrimPrefix(source, prefix)
		}
	}
	return source
}

// IsTierS reports whether tag is in the configured Tier-S source set.
func IsTierS(tag string, tierSSources []string) bool {
	for _, s := range tierSSources {
		if strings.EqualFold(tag, s) {
			return true
		}
	}
	return false
}

// IsOfficial reports whether tag is in the configured official-source set.
func IsOfficial(tag string, officialSources []string) bool {
	for _, s := range officialSources {
		if strings.EqualFold(tag, s) {
			return true
		}
	}
	return false
}

// IsTier1Exchange reports whether exchange is in the configured Tier-1
// exchange set.
func IsTier1Exchange(exchange string, tier1 []string) bool {
	for _, e := range tier1 {
		if strings.EqualFold(exchange, e) {
			return true
		}
	}
	return false
}
