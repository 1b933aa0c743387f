package pairs

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"perpscan/config"
	"perpscan/internal/models"
	"perpscan/logger"
)

// MinExchanges is the smallest number of successfully reporting exchanges a
// cross-exchange comparison needs.
const MinExchanges = 2

const dailyMaxAge = 24 * time.Hour

// InsufficientExchangesError aborts a cycle when fewer than MinExchanges
// exchanges reported successfully.
type InsufficientExchangesError struct {
	Successful int
}

func (e *InsufficientExchangesError) Error() string {
	return fmt.Sprintf("need at least %d exchanges for pair resolution, got %d", MinExchanges, e.Successful)
}

// Key derives the cache key from exchange names: sorted and comma joined, so
// the key is independent of enumeration order and changes whenever the
// enabled set changes.
func Key(names []string) string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Resolve intersects the symbol sets of all reporting exchanges. The check
// against MinExchanges applies to exchanges that actually reported, not to
// the configured set.
func Resolve(snapshotsByExchange map[string][]models.MarketSnapshot, now time.Time) (*models.CommonPairSet, error) {
	if len(snapshotsByExchange) < MinExchanges {
		return nil, &InsufficientExchangesError{Successful: len(snapshotsByExchange)}
	}

	names := make([]string, 0, len(snapshotsByExchange))
	for name := range snapshotsByExchange {
		names = append(names, name)
	}
	sort.Strings(names)

	common := make(map[string]struct{})
	for i, name := range names {
		symbols := make(map[string]struct{}, len(snapshotsByExchange[name]))
		for _, snap := range snapshotsByExchange[name] {
			symbols[snap.Symbol] = struct{}{}
		}
		if i == 0 {
			common = symbols
			continue
		}
		for sym := range common {
			if _, ok := symbols[sym]; !ok {
				delete(common, sym)
			}
		}
	}

	pairs := make([]string, 0, len(common))
	for sym := range common {
		pairs = append(pairs, sym)
	}
	sort.Strings(pairs)

	return &models.CommonPairSet{
		Pairs:      pairs,
		Key:        Key(names),
		Exchanges:  names,
		ComputedAt: now.UTC(),
	}, nil
}

// Resolver mediates between the cached pair set and fresh resolution
// according to the configured refresh cadence.
type Resolver struct {
	cache   *Cache
	cadence string
	log     *logger.Entry
}

func NewResolver(cache *Cache, cadence string) *Resolver {
	return &Resolver{
		cache:   cache,
		cadence: cadence,
		log:     logger.GetLogger().WithComponent("pair_resolver"),
	}
}

// Load returns the cached pair set when its key matches and it is still
// fresh for the cadence. A cache miss of any kind (absent, unreadable, key
// mismatch, stale) returns false and the caller recomputes.
func (r *Resolver) Load(key string, now time.Time) (*models.CommonPairSet, bool) {
	set, err := r.cache.Load()
	if err != nil {
		r.log.WithError(err).Debug("pair cache unavailable, forcing recomputation")
		return nil, false
	}
	if set.Key != key {
		r.log.WithFields(logger.Fields{
			"cached_key": set.Key,
			"want_key":   key,
		}).Info("pair cache key mismatch, forcing recomputation")
		return nil, false
	}
	if r.cadence == config.CadenceDaily && now.UTC().Sub(set.ComputedAt) >= dailyMaxAge {
		r.log.WithFields(logger.Fields{"computed_at": set.ComputedAt}).Info("pair cache stale, forcing recomputation")
		return nil, false
	}
	return set, true
}

// Store resolves a fresh pair set from the given snapshots and persists it.
// A cache write failure is logged but does not fail resolution; the set is
// still usable for the current cycle.
func (r *Resolver) Store(snapshotsByExchange map[string][]models.MarketSnapshot, now time.Time) (*models.CommonPairSet, error) {
	set, err := Resolve(snapshotsByExchange, now)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Save(set); err != nil {
		r.log.WithError(err).Warn("failed to persist pair set")
	}
	r.log.WithFields(logger.Fields{
		"pairs":     len(set.Pairs),
		"exchanges": set.Exchanges,
	}).Info("resolved common pairs")
	return set, nil
}
