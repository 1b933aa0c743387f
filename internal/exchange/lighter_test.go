package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func lighterTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/orderBookDetails":
			w.Write([]byte(`{
  "code": 200,
  "order_book_details": [
    {
      "symbol": "BTC",
      "market_id": 1,
      "status": "active",
      "daily_quote_token_volume": "4000000",
      "open_interest": "50",
      "last_trade_price": "50000"
    },
    {
      "symbol": "DELISTED",
      "market_id": 2,
      "status": "inactive",
      "daily_quote_token_volume": "0",
      "open_interest": "0",
      "last_trade_price": "1"
    },
    {
      "symbol": "EURUSD",
      "market_id": 3,
      "status": "active",
      "daily_quote_token_volume": "1000000",
      "open_interest": "2000000",
      "last_trade_price": "1.1"
    }
  ]
}`))
		case "/funding-rates":
			w.Write([]byte(`{
  "code": 200,
  "funding_rates": [
    {"market_id": 1, "rate": "0.0003"},
    {"market_id": 3, "rate": "-0.0001"}
  ]
}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestLighterFetchMarkets(t *testing.T) {
	srv := lighterTestServer(t)
	defer srv.Close()

	adapter := newLighter(exchangeConfig("lighter", "lighter", srv.URL))
	snapshots, err := adapter.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots (inactive market skipped), got %d", len(snapshots))
	}

	btc := snapshots[0]
	if btc.Symbol != "BTC-USD" {
		t.Errorf("unexpected symbol: %s", btc.Symbol)
	}
	if btc.FundingRate != 0.0003 {
		t.Errorf("funding rate not merged by market id: %f", btc.FundingRate)
	}
	// 50 contracts at 50000 each.
	if btc.OpenInterest != 2_500_000 {
		t.Errorf("open interest not converted to USD: %f", btc.OpenInterest)
	}

	eur := snapshots[1]
	if eur.Symbol != "EUR-USD" {
		t.Errorf("forex symbol not normalized: %s", eur.Symbol)
	}
	if eur.FundingRate != -0.0001 {
		t.Errorf("unexpected funding rate: %f", eur.FundingRate)
	}
}

func TestLighterFetchMarketsBadCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 500, "order_book_details": []}`))
	}))
	defer srv.Close()

	adapter := newLighter(exchangeConfig("lighter", "lighter", srv.URL))
	if _, err := adapter.FetchMarkets(context.Background()); err == nil {
		t.Fatal("expected error for non-200 payload code")
	}
}

func TestLighterNormalizeSymbol(t *testing.T) {
	adapter := newLighter(exchangeConfig("lighter", "lighter", "https://example.com"))

	cases := map[string]string{
		"BTC":    "BTC-USD",
		"eth":    "ETH-USD",
		"EURUSD": "EUR-USD",
		"USDJPY": "USD-JPY",
	}
	for raw, want := range cases {
		if got := adapter.NormalizeSymbol(raw); got != want {
			t.Errorf("NormalizeSymbol(%s) = %s, want %s", raw, got, want)
		}
	}
}
