// Package analysis ranks normalized market snapshots. Both entry points are
// pure: identical inputs produce identical output and no external calls are
// made.
package analysis

import (
	"math"
	"sort"
	"strings"

	"perpscan/internal/models"
)

// DivergenceParams tune the funding-rate divergence ranking.
type DivergenceParams struct {
	MinVolumeUSD float64
	TopN         int
}

// RatioParams tune the open-interest-to-volume ranking.
type RatioParams struct {
	BaseExchange string
	MinVolumeUSD float64
	MaxVolumeUSD float64
	MaxOIRatio   float64
	TopN         int
}

// TopFundingDivergence ranks every symbol quoted on at least two exchanges by
// the absolute funding-rate difference of each unordered exchange pair.
// Entries where the lesser of the two volumes is below MinVolumeUSD are
// discarded. Output is sorted by descending divergence, ties broken by
// symbol ascending, truncated to TopN.
func TopFundingDivergence(snapshotsByExchange map[string][]models.MarketSnapshot, params DivergenceParams) []models.DivergenceResult {
	exchanges := sortedExchangeNames(snapshotsByExchange)

	bySymbol := make(map[string][]models.MarketSnapshot)
	for _, name := range exchanges {
		for _, snap := range snapshotsByExchange[name] {
			bySymbol[snap.Symbol] = append(bySymbol[snap.Symbol], snap)
		}
	}

	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var results []models.DivergenceResult
	for _, sym := range symbols {
		quotes := bySymbol[sym]
		for i := 0; i < len(quotes); i++ {
			for j := i + 1; j < len(quotes); j++ {
				a, b := quotes[i], quotes[j]
				if math.Min(a.Volume24h, b.Volume24h) < params.MinVolumeUSD {
					continue
				}
				results = append(results, models.DivergenceResult{
					Symbol:       sym,
					ExchangeA:    a.Exchange,
					FundingRateA: a.FundingRate,
					ExchangeB:    b.Exchange,
					FundingRateB: b.FundingRate,
					FundingDiff:  math.Abs(a.FundingRate - b.FundingRate),
					VolumeUSD:    math.Min(a.Volume24h, b.Volume24h),
				})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FundingDiff != results[j].FundingDiff {
			return results[i].FundingDiff > results[j].FundingDiff
		}
		return results[i].Symbol < results[j].Symbol
	})

	if params.TopN > 0 && len(results) > params.TopN {
		results = results[:params.TopN]
	}
	return results
}

// LowOIRatio ranks the base exchange's markets by open interest over 24h
// volume, ascending: a low ratio on healthy volume reads as a liquidity
// opportunity. Markets outside [MinVolumeUSD, MaxVolumeUSD], with zero
// volume (undefined ratio), or above MaxOIRatio are excluded. Ties are
// broken by symbol ascending, output truncated to TopN.
func LowOIRatio(snapshotsByExchange map[string][]models.MarketSnapshot, params RatioParams) []models.RatioResult {
	var base []models.MarketSnapshot
	for name, snaps := range snapshotsByExchange {
		if strings.EqualFold(name, params.BaseExchange) {
			base = snaps
			break
		}
	}

	results := make([]models.RatioResult, 0, len(base))
	for _, snap := range base {
		if snap.Volume24h == 0 {
			continue
		}
		if snap.Volume24h < params.MinVolumeUSD || snap.Volume24h > params.MaxVolumeUSD {
			continue
		}
		ratio := snap.OpenInterest / snap.Volume24h
		if params.MaxOIRatio > 0 && ratio > params.MaxOIRatio {
			continue
		}
		results = append(results, models.RatioResult{
			Symbol:       snap.Symbol,
			Exchange:     snap.Exchange,
			Volume24h:    snap.Volume24h,
			OpenInterest: snap.OpenInterest,
			OIRatio:      ratio,
			FundingRate:  snap.FundingRate,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].OIRatio != results[j].OIRatio {
			return results[i].OIRatio < results[j].OIRatio
		}
		return results[i].Symbol < results[j].Symbol
	})

	if params.TopN > 0 && len(results) > params.TopN {
		results = results[:params.TopN]
	}
	return results
}

// FilterToPairs restricts every exchange's snapshots to the resolved common
// pair set.
func FilterToPairs(snapshotsByExchange map[string][]models.MarketSnapshot, set *models.CommonPairSet) map[string][]models.MarketSnapshot {
	allowed := make(map[string]struct{}, len(set.Pairs))
	for _, p := range set.Pairs {
		allowed[p] = struct{}{}
	}

	out := make(map[string][]models.MarketSnapshot, len(snapshotsByExchange))
	for name, snaps := range snapshotsByExchange {
		kept := make([]models.MarketSnapshot, 0, len(snaps))
		for _, snap := range snaps {
			if _, ok := allowed[snap.Symbol]; ok {
				kept = append(kept, snap)
			}
		}
		out[name] = kept
	}
	return out
}

func sortedExchangeNames(snapshotsByExchange map[string][]models.MarketSnapshot) []string {
	names := make([]string, 0, len(snapshotsByExchange))
	for name := range snapshotsByExchange {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
