package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"perpscan/config"
	"perpscan/internal/exchange"
	"perpscan/internal/models"
	"perpscan/internal/notify"
	"perpscan/internal/pairs"
)

// stubAdapter serves canned snapshots or a canned failure.
type stubAdapter struct {
	name  string
	snaps []models.MarketSnapshot
	err   error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) FetchMarkets(ctx context.Context) ([]models.MarketSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snaps, nil
}

func (s *stubAdapter) NormalizeSymbol(raw string) string { return raw }

type capturedEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type capturedPayload struct {
	Embeds []capturedEmbed `json:"embeds"`
}

func testConfig() *config.Config {
	return &config.Config{
		Exchanges: []config.ExchangeConfig{
			{Name: "extended", Type: "extended", Enabled: true},
			{Name: "lighter", Type: "lighter", Enabled: true},
		},
		Schedule: config.ScheduleConfig{
			CommonPairsUpdate: config.CadenceDaily,
			NotificationTime:  "45 * * * *",
		},
		Analysis: config.AnalysisConfig{
			FRDivergence: config.FRDivergenceConfig{MinVolumeUSD: 1_000_000, TopN: 5},
			OIRatio: config.OIRatioConfig{
				MinVolumeUSD: 10_000_000,
				MaxVolumeUSD: 30_000_000,
				MaxOIRatio:   1.0,
				TopN:         3,
				BaseExchange: "extended",
			},
		},
	}
}

func marketSnap(exchange, symbol string, volume, fr, oi float64) models.MarketSnapshot {
	return models.MarketSnapshot{
		Exchange:     exchange,
		Symbol:       symbol,
		Volume24h:    volume,
		FundingRate:  fr,
		OpenInterest: oi,
		LastPrice:    1,
	}
}

func newTestOrchestrator(t *testing.T, adapters []exchange.Adapter) (*Orchestrator, *atomic.Int32, chan capturedPayload) {
	t.Helper()

	var calls atomic.Int32
	payloads := make(chan capturedPayload, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var p capturedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("malformed webhook payload: %v", err)
		}
		payloads <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	resolver := pairs.NewResolver(pairs.NewCache(filepath.Join(t.TempDir(), "pairs.json")), config.CadenceDaily)
	orch := NewOrchestrator(testConfig(), adapters, resolver, notify.NewNotifier(srv.URL))
	return orch, &calls, payloads
}

func TestRunCycle(t *testing.T) {
	adapters := []exchange.Adapter{
		&stubAdapter{name: "extended", snaps: []models.MarketSnapshot{
			marketSnap("extended", "BTC-USD", 20_000_000, 0.0001, 4_000_000),
			marketSnap("extended", "ETH-USD", 15_000_000, 0.0002, 3_000_000),
		}},
		&stubAdapter{name: "lighter", snaps: []models.MarketSnapshot{
			marketSnap("lighter", "BTC-USD", 18_000_000, -0.0299, 5_000_000),
			marketSnap("lighter", "ETH-USD", 12_000_000, 0.0003, 2_000_000),
		}},
	}
	orch, calls, payloads := newTestOrchestrator(t, adapters)

	if err := orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 webhook delivery, got %d", calls.Load())
	}

	p := <-payloads
	if len(p.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(p.Embeds))
	}
	if !strings.Contains(p.Embeds[0].Description, "extended") {
		t.Errorf("alert should name the exchanges: %s", p.Embeds[0].Description)
	}
	if orch.State() != StateIdle {
		t.Errorf("expected idle state after cycle, got %s", orch.State())
	}
}

func TestRunCycleToleratesOneFailingExchange(t *testing.T) {
	adapters := []exchange.Adapter{
		&stubAdapter{name: "extended", snaps: []models.MarketSnapshot{
			marketSnap("extended", "BTC-USD", 20_000_000, 0.001, 4_000_000),
		}},
		&stubAdapter{name: "lighter", snaps: []models.MarketSnapshot{
			marketSnap("lighter", "BTC-USD", 18_000_000, -0.001, 5_000_000),
		}},
		&stubAdapter{name: "bybit", err: errors.New("connection refused")},
	}
	orch, calls, _ := newTestOrchestrator(t, adapters)

	if err := orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle should survive a single exchange failure: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected the alert to go out, got %d deliveries", calls.Load())
	}
}

func TestRunCycleAbortsBelowMinimumExchanges(t *testing.T) {
	adapters := []exchange.Adapter{
		&stubAdapter{name: "extended", snaps: []models.MarketSnapshot{
			marketSnap("extended", "BTC-USD", 20_000_000, 0.001, 4_000_000),
		}},
		&stubAdapter{name: "lighter", err: errors.New("timeout")},
	}
	orch, _, payloads := newTestOrchestrator(t, adapters)

	if err := orch.RunCycle(context.Background()); err == nil {
		t.Fatal("expected cycle to abort with one reporting exchange")
	}

	p := <-payloads
	if len(p.Embeds) != 1 {
		t.Fatalf("expected an error embed, got %d embeds", len(p.Embeds))
	}
	if p.Embeds[0].Color != 0xe74c3c {
		t.Errorf("abort notification should use the error color, got %#x", p.Embeds[0].Color)
	}
}

// gatedAdapter blocks inside FetchMarkets until released, and counts calls.
type gatedAdapter struct {
	name    string
	snaps   []models.MarketSnapshot
	entered chan struct{}
	release chan struct{}
	fetches atomic.Int32
}

func (g *gatedAdapter) Name() string { return g.name }

func (g *gatedAdapter) FetchMarkets(ctx context.Context) ([]models.MarketSnapshot, error) {
	g.fetches.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return g.snaps, nil
}

func (g *gatedAdapter) NormalizeSymbol(raw string) string { return raw }

func TestRefreshPairsSkippedDuringCycle(t *testing.T) {
	release := make(chan struct{})
	extended := &gatedAdapter{
		name:    "extended",
		snaps:   []models.MarketSnapshot{marketSnap("extended", "BTC-USD", 20_000_000, 0.001, 4_000_000)},
		entered: make(chan struct{}, 2),
		release: release,
	}
	lighter := &gatedAdapter{
		name:    "lighter",
		snaps:   []models.MarketSnapshot{marketSnap("lighter", "BTC-USD", 18_000_000, -0.001, 5_000_000)},
		entered: make(chan struct{}, 2),
		release: release,
	}
	orch, calls, _ := newTestOrchestrator(t, []exchange.Adapter{extended, lighter})

	cycleDone := make(chan error, 1)
	go func() {
		cycleDone <- orch.RunCycle(context.Background())
	}()

	// Both adapters are parked inside the fetch step, so the cycle holds
	// the cycle mutex.
	<-extended.entered
	<-lighter.entered

	if err := orch.refreshPairs(context.Background()); err != nil {
		t.Fatalf("refreshPairs should be dropped, not fail: %v", err)
	}
	if extended.fetches.Load() != 1 || lighter.fetches.Load() != 1 {
		t.Fatalf("refresh must not fetch while a cycle is running: extended=%d lighter=%d",
			extended.fetches.Load(), lighter.fetches.Load())
	}

	close(release)
	if err := <-cycleDone; err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 alert delivery, got %d", calls.Load())
	}
}

func TestRunCycleReusesCachedPairs(t *testing.T) {
	adapters := []exchange.Adapter{
		&stubAdapter{name: "extended", snaps: []models.MarketSnapshot{
			marketSnap("extended", "BTC-USD", 20_000_000, 0.001, 4_000_000),
		}},
		&stubAdapter{name: "lighter", snaps: []models.MarketSnapshot{
			marketSnap("lighter", "BTC-USD", 18_000_000, -0.001, 5_000_000),
		}},
	}
	orch, calls, _ := newTestOrchestrator(t, adapters)

	if err := orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
	if err := orch.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 alert deliveries, got %d", calls.Load())
	}
}
