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
	Register("extended", func(cfg config.ExchangeConfig) (Adapter, error) {
		return newExtended(cfg), nil
	})
}

// extended polls the Extended (Starknet) perp DEX. A single /info/markets
// call carries volume, funding rate, open interest and last price for every
// market.
type extended struct {
	name    string
	baseURL string
	client  *restClient
	log     *logger.Entry
}

func newExtended(cfg config.ExchangeConfig) *extended {
	return &extended{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:  newRESTClient(cfg.Name, cfg.Config.RateLimit),
		log:     logger.GetLogger().WithComponent("extended_adapter"),
	}
}

func (e *extended) Name() string { return e.name }

type extendedMarketsResponse struct {
	Status string `json:"status"`
	Data   []struct {
		Name        string `json:"name"`
		MarketStats struct {
			DailyVolume  string `json:"dailyVolume"`
			FundingRate  string `json:"fundingRate"`
			OpenInterest string `json:"openInterest"`
			LastPrice    string `json:"lastPrice"`
		} `json:"marketStats"`
	} `json:"data"`
}

func (e *extended) FetchMarkets(ctx context.Context) ([]models.MarketSnapshot, error) {
	var resp extendedMarketsResponse
	if err := e.client.getJSON(ctx, e.baseURL+"/info/markets", &resp); err != nil {
		return nil, &FetchError{Exchange: e.name, Err: err}
	}

	switch strings.ToLower(resp.Status) {
	case "ok", "success":
	default:
		return nil, &FetchError{Exchange: e.name, Err: fmt.Errorf("unexpected payload status %q", resp.Status)}
	}

	now := time.Now().UTC()
	snapshots := make([]models.MarketSnapshot, 0, len(resp.Data))
	for _, market := range resp.Data {
		stats := market.MarketStats
		volume, err1 := strconv.ParseFloat(stats.DailyVolume, 64)
		fr, err2 := strconv.ParseFloat(stats.FundingRate, 64)
		oiQty, err3 := strconv.ParseFloat(stats.OpenInterest, 64)
		price, err4 := strconv.ParseFloat(stats.LastPrice, 64)
		if market.Name == "" || err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			e.log.WithFields(logger.Fields{"market": market.Name}).Debug("skipping market with missing fields")
			continue
		}

		// Open interest is reported as a quantity; convert to USD.
		oiUSD := oiQty * price
		if volume < 0 || oiUSD < 0 || price <= 0 {
			e.log.WithFields(logger.Fields{"market": market.Name}).Debug("skipping market with invalid values")
			continue
		}

		snapshots = append(snapshots, models.MarketSnapshot{
			Exchange:     e.name,
			Symbol:       e.NormalizeSymbol(market.Name),
			Volume24h:    volume,
			FundingRate:  fr,
			OpenInterest: oiUSD,
			LastPrice:    price,
			FetchedAt:    now,
		})
	}

	e.log.WithFields(logger.Fields{"markets": len(snapshots)}).Info("fetched markets")
	return snapshots, nil
}

// NormalizeSymbol upper-cases the name; Extended already quotes markets in
// the BASE-QUOTE form.
func (e *extended) NormalizeSymbol(raw string) string {
	return strings.ToUpper(raw)
}
