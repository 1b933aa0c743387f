package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"perpscan/config"
	"perpscan/internal/models"
	"perpscan/logger"
)

func init() {
	Register("bybit", func(cfg config.ExchangeConfig) (Adapter, error) {
		return newBybit(cfg), nil
	})
}

// bybit polls Bybit linear perps. The v5 tickers endpoint carries funding
// rate, open interest value and 24h turnover for every symbol in one call.
type bybit struct {
	name    string
	baseURL string
	client  *restClient
	log     *logger.Entry
}

func newBybit(cfg config.ExchangeConfig) *bybit {
	return &bybit{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:  newRESTClient(cfg.Name, cfg.Config.RateLimit),
		log:     logger.GetLogger().WithComponent("bybit_adapter"),
	}
}

func (b *bybit) Name() string { return b.name }

type bybitTickersResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string `json:"category"`
		List     []struct {
			Symbol            string `json:"symbol"`
			LastPrice         string `json:"lastPrice"`
			FundingRate       string `json:"fundingRate"`
			OpenInterestValue string `json:"openInterestValue"`
			Turnover24h       string `json:"turnover24h"`
		} `json:"list"`
	} `json:"result"`
}

func (b *bybit) FetchMarkets(ctx context.Context) ([]models.MarketSnapshot, error) {
	var resp bybitTickersResponse
	url := b.baseURL + "/v5/market/tickers?category=linear"
	if err := b.client.getJSON(ctx, url, &resp); err != nil {
		return nil, &FetchError{Exchange: b.name, Err: err}
	}
	if resp.RetCode != 0 {
		return nil, &FetchError{Exchange: b.name, Err: fmt.Errorf("tickers returned retCode %d: %s", resp.RetCode, resp.RetMsg)}
	}

	now := time.Now().UTC()
	snapshots := make([]models.MarketSnapshot, 0, len(resp.Result.List))
	for _, t := range resp.Result.List {
		if !strings.HasSuffix(t.Symbol, "USDT") {
			continue
		}
		volume, err1 := strconv.ParseFloat(t.Turnover24h, 64)
		fr, err2 := strconv.ParseFloat(t.FundingRate, 64)
		oiUSD, err3 := strconv.ParseFloat(t.OpenInterestValue, 64)
		price, err4 := strconv.ParseFloat(t.LastPrice, 64)
		if t.Symbol == "" || err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			b.log.WithFields(logger.Fields{"market": t.Symbol}).Debug("skipping market with missing fields")
			continue
		}
		if volume < 0 || oiUSD < 0 || price <= 0 {
			b.log.WithFields(logger.Fields{"market": t.Symbol}).Debug("skipping market with invalid values")
			continue
		}

		snapshots = append(snapshots, models.MarketSnapshot{
			Exchange:     b.name,
			Symbol:       b.NormalizeSymbol(t.Symbol),
			Volume24h:    volume,
			FundingRate:  fr,
			OpenInterest: oiUSD,
			LastPrice:    price,
			FetchedAt:    now,
		})
	}

	b.log.WithFields(logger.Fields{"markets": len(snapshots)}).Info("fetched markets")
	return snapshots, nil
}

// NormalizeSymbol maps Bybit perp names onto the BASE-QUOTE form. Mini
// contracts quote a multiple of the underlying asset and fold back onto it.
func (b *bybit) NormalizeSymbol(raw string) string {
	sym := strings.ToUpper(raw)
	switch sym {
	case "1000BONKUSDT":
		sym = "BONKUSDT"
	case "1000PEPEUSDT":
		sym = "PEPEUSDT"
	case "SHIB1000USDT":
		sym = "SHIBUSDT"
	}
	sym = strings.TrimSuffix(sym, "USDT")
	sym = strings.TrimPrefix(sym, "1000")
	return sym + "-USD"
}
