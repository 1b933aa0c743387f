package models

import "time"

// MarketSnapshot is one normalized perpetual market as reported by a single
// exchange during one polling cycle. Snapshots are rebuilt every cycle and
// never persisted.
type MarketSnapshot struct {
	Exchange     string    `json:"exchange"`
	Symbol       string    `json:"symbol"`
	Volume24h    float64   `json:"volume_24h"`
	FundingRate  float64   `json:"funding_rate"`
	OpenInterest float64   `json:"open_interest"`
	LastPrice    float64   `json:"last_price"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// CommonPairSet holds the symbols listed on every enabled exchange at the
// time it was computed. Key is the sorted enabled-exchange names joined with
// commas, so a configuration change invalidates a cached set.
type CommonPairSet struct {
	Pairs      []string  `json:"pairs"`
	Key        string    `json:"key"`
	Exchanges  []string  `json:"exchanges"`
	ComputedAt time.Time `json:"computed_at"`
}

// Contains reports whether the normalized symbol is part of the set.
func (s *CommonPairSet) Contains(symbol string) bool {
	for _, p := range s.Pairs {
		if p == symbol {
			return true
		}
	}
	return false
}

// DivergenceResult is one funding-rate divergence ranking entry for a pair of
// exchanges quoting the same symbol.
type DivergenceResult struct {
	Symbol       string  `json:"symbol"`
	ExchangeA    string  `json:"exchange_a"`
	FundingRateA float64 `json:"funding_rate_a"`
	ExchangeB    string  `json:"exchange_b"`
	FundingRateB float64 `json:"funding_rate_b"`
	FundingDiff  float64 `json:"funding_diff"`
	VolumeUSD    float64 `json:"volume_usd"`
}

// RatioResult is one open-interest-to-volume ranking entry for the configured
// base exchange.
type RatioResult struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Volume24h    float64 `json:"volume_24h"`
	OpenInterest float64 `json:"open_interest"`
	OIRatio      float64 `json:"oi_ratio"`
	FundingRate  float64 `json:"funding_rate"`
}
