package exchange

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"perpscan/config"
	"perpscan/internal/models"
	"perpscan/logger"
)

func init() {
	Register("binance", func(cfg config.ExchangeConfig) (Adapter, error) {
		return newBinance(cfg), nil
	})
}

const binanceOIWorkers = 8

// binance polls Binance USD-M futures through the exchange SDK. Funding
// rates and 24h stats come from two bulk endpoints; open interest has no
// bulk endpoint, so it is collected per symbol under the advisory rate
// limit.
type binance struct {
	name    string
	client  *futures.Client
	limiter *rate.Limiter
	log     *logger.Entry
}

func newBinance(cfg config.ExchangeConfig) *binance {
	client := futures.NewClient("", "")
	if cfg.APIBaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	}
	client.HTTPClient.Timeout = requestTimeout

	rpm := cfg.Config.RateLimit
	return &binance{
		name:    cfg.Name,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm/10+1),
		log:     logger.GetLogger().WithComponent("binance_adapter"),
	}
}

func (b *binance) Name() string { return b.name }

type binanceMarketStats struct {
	raw       string
	volume    float64
	lastPrice float64
	funding   float64
}

func (b *binance) FetchMarkets(ctx context.Context) ([]models.MarketSnapshot, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Exchange: b.name, Err: err}
	}
	premiums, err := b.client.NewPremiumIndexService().Do(ctx)
	if err != nil {
		return nil, &FetchError{Exchange: b.name, Err: err}
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Exchange: b.name, Err: err}
	}
	stats, err := b.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, &FetchError{Exchange: b.name, Err: err}
	}

	fundingBySymbol := make(map[string]float64, len(premiums))
	for _, p := range premiums {
		fr, err := strconv.ParseFloat(p.LastFundingRate, 64)
		if err != nil {
			continue
		}
		fundingBySymbol[p.Symbol] = fr
	}

	candidates := make([]binanceMarketStats, 0, len(stats))
	for _, s := range stats {
		// Comparable cross-exchange symbols are the USDT-quoted perps.
		if !strings.HasSuffix(s.Symbol, "USDT") {
			continue
		}
		funding, ok := fundingBySymbol[s.Symbol]
		if !ok {
			continue
		}
		volume, err1 := strconv.ParseFloat(s.QuoteVolume, 64)
		price, err2 := strconv.ParseFloat(s.LastPrice, 64)
		if err1 != nil || err2 != nil || volume < 0 || price <= 0 {
			b.log.WithFields(logger.Fields{"market": s.Symbol}).Debug("skipping market with invalid stats")
			continue
		}
		candidates = append(candidates, binanceMarketStats{
			raw:       s.Symbol,
			volume:    volume,
			lastPrice: price,
			funding:   funding,
		})
	}

	oiBySymbol := b.fetchOpenInterest(ctx, candidates)

	now := time.Now().UTC()
	snapshots := make([]models.MarketSnapshot, 0, len(candidates))
	for _, c := range candidates {
		oiUSD, ok := oiBySymbol[c.raw]
		if !ok {
			continue
		}
		snapshots = append(snapshots, models.MarketSnapshot{
			Exchange:     b.name,
			Symbol:       b.NormalizeSymbol(c.raw),
			Volume24h:    c.volume,
			FundingRate:  c.funding,
			OpenInterest: oiUSD,
			LastPrice:    c.lastPrice,
			FetchedAt:    now,
		})
	}

	b.log.WithFields(logger.Fields{"markets": len(snapshots)}).Info("fetched markets")
	return snapshots, nil
}

// fetchOpenInterest collects per-symbol open interest (in USD) with a small
// worker pool. Symbols whose OI call fails are skipped for this cycle rather
// than failing the whole exchange.
func (b *binance) fetchOpenInterest(ctx context.Context, candidates []binanceMarketStats) map[string]float64 {
	out := make(map[string]float64, len(candidates))
	var mu sync.Mutex
	var wg sync.WaitGroup

	jobs := make(chan int)
	for w := 0; w < binanceOIWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				c := candidates[i]
				if err := b.limiter.Wait(ctx); err != nil {
					return
				}
				oi, err := b.client.NewGetOpenInterestService().Symbol(c.raw).Do(ctx)
				if err != nil {
					b.log.WithError(err).WithFields(logger.Fields{"market": c.raw}).Debug("open interest fetch failed")
					continue
				}
				qty, err := strconv.ParseFloat(oi.OpenInterest, 64)
				if err != nil || qty < 0 {
					continue
				}
				mu.Lock()
				out[c.raw] = qty * c.lastPrice
				mu.Unlock()
			}
		}()
	}

	for i := range candidates {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return out
		}
	}
	close(jobs)
	wg.Wait()
	return out
}

// NormalizeSymbol maps Binance perp names onto the BASE-QUOTE form, folding
// the 1000x mini-contract prefixes back onto the underlying asset.
func (b *binance) NormalizeSymbol(raw string) string {
	sym := strings.ToUpper(raw)
	sym = strings.TrimSuffix(sym, "USDT")
	sym = strings.TrimPrefix(sym, "1000")
	return sym + "-USD"
}
