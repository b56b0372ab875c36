// Package cost resolves the femto-USD cost of a single request from its
// token usage, a provider cost multiplier, and an opaque price record. One
// femto-USD is 1e-15 USD; storing cost as an integer count of femto-USD
// avoids floating point drift when millions of tiny per-token charges are
// summed in reports.
package cost

import (
	"encoding/json"
	"math"
)

// Usage mirrors the Cost Usage data model: non-negative token counts, with
// cache-creation tokens split into the 5-minute and 1-hour TTL buckets
// Anthropic-style providers bill separately (the 1h bucket is priced higher).
type Usage struct {
	InputTokens                   int64
	OutputTokens                  int64
	CacheReadInputTokens          int64
	CacheCreationInputTokens5m    int64
	CacheCreationInputTokens1h    int64
}

// IsZero reports whether every counted field is zero, in which case the
// resolver must return "no cost" rather than a priced zero.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 &&
		u.CacheReadInputTokens == 0 &&
		u.CacheCreationInputTokens5m == 0 && u.CacheCreationInputTokens1h == 0
}

// Price holds per-million-token USD rates. It is the concrete shape behind
// the opaque price_json column: a price record stores one of these as JSON,
// and the catalog/admin surface never interprets it beyond passing it here.
type Price struct {
	InputPerMTok           float64 `json:"input_per_mtok"`
	OutputPerMTok          float64 `json:"output_per_mtok"`
	CacheReadPerMTok       float64 `json:"cache_read_per_mtok"`
	CacheCreation5mPerMTok float64 `json:"cache_creation_5m_per_mtok"`
	CacheCreation1hPerMTok float64 `json:"cache_creation_1h_per_mtok"`
}

// ParsePrice decodes a stored price_json blob. An empty string is not an
// error; it simply yields ok=false so the caller treats it as "no price".
func ParsePrice(priceJSON string) (Price, bool) {
	if priceJSON == "" {
		return Price{}, false
	}
	var p Price
	if err := json.Unmarshal([]byte(priceJSON), &p); err != nil {
		return Price{}, false
	}
	return p, true
}

const femtoPerUSD = 1e15

// Calculate computes the femto-USD cost of usage against price, scaled by
// multiplier. It returns ok=false when usage is entirely zero or no price is
// available — both cases mean "no cost should be recorded", not "zero cost".
func Calculate(usage Usage, priceJSON string, multiplier float64) (femto int64, ok bool) {
	if usage.IsZero() {
		return 0, false
	}
	price, havePrice := ParsePrice(priceJSON)
	if !havePrice {
		return 0, false
	}
	if multiplier <= 0 {
		multiplier = 1.0
	}

	usd := perM(usage.InputTokens, price.InputPerMTok) +
		perM(usage.OutputTokens, price.OutputPerMTok) +
		perM(usage.CacheReadInputTokens, price.CacheReadPerMTok) +
		perM(usage.CacheCreationInputTokens5m, price.CacheCreation5mPerMTok) +
		perM(usage.CacheCreationInputTokens1h, price.CacheCreation1hPerMTok)

	usd *= multiplier
	return bankersRoundFemto(usd), true
}

func perM(tokens int64, ratePerMTok float64) float64 {
	return float64(tokens) / 1_000_000.0 * ratePerMTok
}

// bankersRoundFemto converts a USD amount to femto-USD, rounding to the
// nearest integer with ties resolved to even (banker's rounding), matching
// the original resolver's rounding behavior so repeated small charges don't
// accumulate a systematic upward bias.
func bankersRoundFemto(usd float64) int64 {
	scaled := usd * femtoPerUSD
	floor := math.Floor(scaled)
	diff := scaled - floor
	switch {
	case diff < 0.5:
		return int64(floor)
	case diff > 0.5:
		return int64(floor) + 1
	default:
		if math.Mod(floor, 2) == 0 {
			return int64(floor)
		}
		return int64(floor) + 1
	}
}

// ResolveAlias resolves a requested model name to a priced canonical model
// name using a configured alias map. It returns the original name unchanged
// if no alias applies, so callers can use the result directly as a lookup
// key regardless of whether resolution occurred.
func ResolveAlias(aliases map[string]string, requestedModel string) string {
	if canonical, ok := aliases[requestedModel]; ok {
		return canonical
	}
	return requestedModel
}
