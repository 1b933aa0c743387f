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
	Register("lighter", func(cfg config.ExchangeConfig) (Adapter, error) {
		return newLighter(cfg), nil
	})
}

// lighter polls the Lighter (zkSync) perp DEX. Market stats and funding
// rates live on separate endpoints; funding rates are keyed by market id and
// merged into the order book details.
type lighter struct {
	name    string
	baseURL string
	client  *restClient
	log     *logger.Entry
}

func newLighter(cfg config.ExchangeConfig) *lighter {
	return &lighter{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:  newRESTClient(cfg.Name, cfg.Config.RateLimit),
		log:     logger.GetLogger().WithComponent("lighter_adapter"),
	}
}

func (l *lighter) Name() string { return l.name }

type lighterOrderBookResponse struct {
	Code    int `json:"code"`
	Details []struct {
		Symbol         string `json:"symbol"`
		MarketID       int    `json:"market_id"`
		Status         string `json:"status"`
		DailyQuoteVol  string `json:"daily_quote_token_volume"`
		OpenInterest   string `json:"open_interest"`
		LastTradePrice string `json:"last_trade_price"`
	} `json:"order_book_details"`
}

type lighterFundingRatesResponse struct {
	Code         int `json:"code"`
	FundingRates []struct {
		MarketID int    `json:"market_id"`
		Rate     string `json:"rate"`
	} `json:"funding_rates"`
}

func (l *lighter) FetchMarkets(ctx context.Context) ([]models.MarketSnapshot, error) {
	var books lighterOrderBookResponse
	if err := l.client.getJSON(ctx, l.baseURL+"/orderBookDetails", &books); err != nil {
		return nil, &FetchError{Exchange: l.name, Err: err}
	}
	if books.Code != 200 {
		return nil, &FetchError{Exchange: l.name, Err: fmt.Errorf("orderBookDetails returned code %d", books.Code)}
	}

	fundingByMarket, err := l.fetchFundingRates(ctx)
	if err != nil {
		return nil, &FetchError{Exchange: l.name, Err: err}
	}

	now := time.Now().UTC()
	snapshots := make([]models.MarketSnapshot, 0, len(books.Details))
	for _, d := range books.Details {
		if d.Status != "active" {
			l.log.WithFields(logger.Fields{"market": d.Symbol}).Debug("skipping inactive market")
			continue
		}

		volume, err1 := strconv.ParseFloat(d.DailyQuoteVol, 64)
		oiQty, err2 := strconv.ParseFloat(d.OpenInterest, 64)
		price, err3 := strconv.ParseFloat(d.LastTradePrice, 64)
		if d.Symbol == "" || err1 != nil || err2 != nil || err3 != nil {
			l.log.WithFields(logger.Fields{"market": d.Symbol}).Debug("skipping market with missing fields")
			continue
		}

		// Open interest is reported as a quantity; convert to USD.
		oiUSD := oiQty * price
		if volume < 0 || oiUSD < 0 || price <= 0 {
			l.log.WithFields(logger.Fields{"market": d.Symbol}).Debug("skipping market with invalid values")
			continue
		}

		snapshots = append(snapshots, models.MarketSnapshot{
			Exchange:     l.name,
			Symbol:       l.NormalizeSymbol(d.Symbol),
			Volume24h:    volume,
			FundingRate:  fundingByMarket[d.MarketID],
			OpenInterest: oiUSD,
			LastPrice:    price,
			FetchedAt:    now,
		})
	}

	l.log.WithFields(logger.Fields{"markets": len(snapshots)}).Info("fetched markets")
	return snapshots, nil
}

func (l *lighter) fetchFundingRates(ctx context.Context) (map[int]float64, error) {
	var resp lighterFundingRatesResponse
	if err := l.client.getJSON(ctx, l.baseURL+"/funding-rates", &resp); err != nil {
		return nil, err
	}
	if resp.Code != 200 {
		return nil, fmt.Errorf("funding-rates returned code %d", resp.Code)
	}

	rates := make(map[int]float64, len(resp.FundingRates))
	for _, fr := range resp.FundingRates {
		rate, err := strconv.ParseFloat(fr.Rate, 64)
		if err != nil {
			continue
		}
		rates[fr.MarketID] = rate
	}
	return rates, nil
}

// NormalizeSymbol maps Lighter's base-token names onto the BASE-QUOTE form.
// Forex symbols already embed the quote currency and only need the
// separator.
func (l *lighter) NormalizeSymbol(raw string) string {
	sym := strings.ToUpper(raw)
	switch sym {
	case "EURUSD", "GBPUSD", "USDJPY", "USDCAD", "USDCHF":
		return sym[:3] + "-" + sym[3:]
	}
	return sym + "-USD"
}
