package pairs

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"perpscan/config"
	"perpscan/internal/models"
)

func marketSnaps(exchange string, symbols ...string) []models.MarketSnapshot {
	snaps := make([]models.MarketSnapshot, 0, len(symbols))
	for _, s := range symbols {
		snaps = append(snaps, models.MarketSnapshot{Exchange: exchange, Symbol: s})
	}
	return snaps
}

func TestResolveIntersection(t *testing.T) {
	now := time.Now()
	snapshots := map[string][]models.MarketSnapshot{
		"lighter":  marketSnaps("lighter", "BTC-USD", "ETH-USD", "DOGE-USD"),
		"extended": marketSnaps("extended", "ETH-USD", "BTC-USD", "SOL-USD"),
		"bybit":    marketSnaps("bybit", "BTC-USD", "SOL-USD", "ETH-USD"),
	}

	set, err := Resolve(snapshots, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !reflect.DeepEqual(set.Pairs, []string{"BTC-USD", "ETH-USD"}) {
		t.Errorf("unexpected pairs: %v", set.Pairs)
	}
	if set.Key != "bybit,extended,lighter" {
		t.Errorf("key not sorted: %s", set.Key)
	}
	if !reflect.DeepEqual(set.Exchanges, []string{"bybit", "extended", "lighter"}) {
		t.Errorf("exchanges not sorted: %v", set.Exchanges)
	}
}

func TestResolveInsufficientExchanges(t *testing.T) {
	snapshots := map[string][]models.MarketSnapshot{
		"extended": marketSnaps("extended", "BTC-USD"),
	}

	_, err := Resolve(snapshots, time.Now())
	if err == nil {
		t.Fatal("expected error with a single exchange")
	}
	var insufficient *InsufficientExchangesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientExchangesError, got %T", err)
	}
	if insufficient.Successful != 1 {
		t.Errorf("unexpected count: %d", insufficient.Successful)
	}
}

func TestKeyOrderIndependent(t *testing.T) {
	a := Key([]string{"lighter", "extended"})
	b := Key([]string{"extended", "lighter"})
	if a != b {
		t.Errorf("keys differ by enumeration order: %s vs %s", a, b)
	}
	if a != "extended,lighter" {
		t.Errorf("unexpected key: %s", a)
	}
}

func newTestResolver(t *testing.T, cadence string) *Resolver {
	t.Helper()
	return NewResolver(NewCache(filepath.Join(t.TempDir(), "pairs.json")), cadence)
}

func TestResolverReusesFreshCache(t *testing.T) {
	r := newTestResolver(t, config.CadenceDaily)
	computed := time.Now()

	snapshots := map[string][]models.MarketSnapshot{
		"extended": marketSnaps("extended", "BTC-USD", "ETH-USD"),
		"lighter":  marketSnaps("lighter", "BTC-USD", "ETH-USD"),
	}
	stored, err := r.Store(snapshots, computed)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// 10 hours later the daily set is still considered fresh.
	set, ok := r.Load(stored.Key, computed.Add(10*time.Hour))
	if !ok {
		t.Fatal("expected cache hit at 10h age")
	}
	if !reflect.DeepEqual(set.Pairs, stored.Pairs) {
		t.Errorf("cached pairs differ: %v", set.Pairs)
	}
}

func TestResolverExpiresDailyCache(t *testing.T) {
	r := newTestResolver(t, config.CadenceDaily)
	computed := time.Now()

	snapshots := map[string][]models.MarketSnapshot{
		"extended": marketSnaps("extended", "BTC-USD"),
		"lighter":  marketSnaps("lighter", "BTC-USD"),
	}
	stored, err := r.Store(snapshots, computed)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if _, ok := r.Load(stored.Key, computed.Add(25*time.Hour)); ok {
		t.Fatal("expected cache miss at 25h age with daily cadence")
	}
}

func TestResolverStartupCadenceIgnoresAge(t *testing.T) {
	r := newTestResolver(t, config.CadenceStartup)
	computed := time.Now()

	snapshots := map[string][]models.MarketSnapshot{
		"extended": marketSnaps("extended", "BTC-USD"),
		"lighter":  marketSnaps("lighter", "BTC-USD"),
	}
	stored, err := r.Store(snapshots, computed)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if _, ok := r.Load(stored.Key, computed.Add(48*time.Hour)); !ok {
		t.Fatal("startup cadence should not expire the cache by age")
	}
}

func TestResolverKeyMismatchForcesRecompute(t *testing.T) {
	r := newTestResolver(t, config.CadenceDaily)

	snapshots := map[string][]models.MarketSnapshot{
		"extended": marketSnaps("extended", "BTC-USD"),
		"lighter":  marketSnaps("lighter", "BTC-USD"),
	}
	if _, err := r.Store(snapshots, time.Now()); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// A different enabled set must not reuse the persisted pairs.
	if _, ok := r.Load("bybit,extended,lighter", time.Now()); ok {
		t.Fatal("expected cache miss on key mismatch")
	}
}

func TestResolverLoadWithoutCacheFile(t *testing.T) {
	r := newTestResolver(t, config.CadenceDaily)
	if _, ok := r.Load("extended,lighter", time.Now()); ok {
		t.Fatal("expected cache miss when no file exists")
	}
}
