package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/infra"
	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

const (
	// alpacaChainHorizon bounds how far out expirations are listed.
	alpacaChainHorizon = 60 * 24 * time.Hour
	// alpacaVolumeLookback covers the last session across weekends and holidays.
	alpacaVolumeLookback = 5 * 24 * time.Hour
	// alpacaBarsBatch caps the symbols per option bars request.
	alpacaBarsBatch = 100
)

// alpacaClient is the subset of *marketdata.Client the source uses.
type alpacaClient interface {
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetNews(req marketdata.GetNewsRequest) ([]marketdata.News, error)
	GetOptionChain(underlying string, req marketdata.GetOptionChainRequest) (map[string]marketdata.OptionSnapshot, error)
	GetMultiOptionBars(symbols []string, req marketdata.GetOptionBarsRequest) (map[string][]marketdata.OptionBar, error)
}

// Alpaca implements MarketDataSource over the Alpaca market data API.
// Alpaca does not report market capitalization, so quotes carry 0.
// Option snapshots carry no traded volume; it comes from the contract's
// latest daily bar, and a contract without one counts as untraded.
type Alpaca struct {
	client  alpacaClient
	limiter *rate.Limiter
	log     *zap.Logger
	chains  *infra.Cache[*models.OptionChain]
	now     func() time.Time
}

// NewAlpaca creates an Alpaca source from the market config.
func NewAlpaca(cfg config.MarketConfig, log *zap.Logger) (*Alpaca, error) {
	if cfg.AlpacaKey == "" || cfg.AlpacaSecret == "" {
		return nil, errors.New("datasource: alpaca key and secret are required")
	}
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.AlpacaKey,
		APISecret: cfg.AlpacaSecret,
	})
	return newAlpaca(client, cfg, log), nil
}

func newAlpaca(client alpacaClient, cfg config.MarketConfig, log *zap.Logger) *Alpaca {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alpaca{
		client:  client,
		limiter: infra.NewLimiter(cfg.RatePerSec),
		log:     log,
		chains:  infra.NewCache[*models.OptionChain](time.Duration(cfg.CacheTTL) * time.Second),
		now:     time.Now,
	}
}

// Name returns the data source name.
func (a *Alpaca) Name() string { return "Alpaca" }

// GetQuote returns the latest trade price.
func (a *Alpaca) GetQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	ticker = utils.NormalizeTicker(ticker)
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	trade, err := a.client.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return nil, fmt.Errorf("alpaca trade %s: %w", ticker, err)
	}
	if trade == nil || trade.Price <= 0 {
		return nil, fmt.Errorf("alpaca trade %s: %w", ticker, ErrTickerNotFound)
	}
	return &models.Quote{
		Ticker:    ticker,
		LastPrice: trade.Price,
		Timestamp: trade.Timestamp,
	}, nil
}

// GetOptionChain lists expirations within the chain horizon and returns the
// contracts of the requested one ("" = nearest).
func (a *Alpaca) GetOptionChain(ctx context.Context, ticker, expiry string) (*models.OptionChain, error) {
	ticker = utils.NormalizeTicker(ticker)
	key := ticker + "|" + expiry
	if c, ok := a.chains.Get(key); ok {
		return c, nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	now := a.now()
	snaps, err := a.client.GetOptionChain(ticker, marketdata.GetOptionChainRequest{
		ExpirationDateGte: civil.DateOf(now.In(utils.Eastern)),
		ExpirationDateLte: civil.DateOf(now.Add(alpacaChainHorizon).In(utils.Eastern)),
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca options %s: %w", ticker, err)
	}

	chain := snapshotsToChain(ticker, snaps, expiry)
	if len(chain.Expiries) == 0 {
		return nil, fmt.Errorf("alpaca options %s: %w", ticker, ErrNoOptionChain)
	}
	chain.FetchedAt = now
	a.attachVolume(ctx, chain, now)
	if q, err := a.GetQuote(ctx, ticker); err == nil {
		chain.SpotPrice = q.LastPrice
	}
	a.chains.Set(key, chain)
	return chain, nil
}

// attachVolume sets each contract's volume from its most recent daily bar.
// A failed lookup leaves volumes at zero.
func (a *Alpaca) attachVolume(ctx context.Context, chain *models.OptionChain, now time.Time) {
	symbols := make([]string, 0, len(chain.Contracts))
	for _, c := range chain.Contracts {
		symbols = append(symbols, c.Symbol)
	}
	volumes := make(map[string]int64, len(symbols))
	for start := 0; start < len(symbols); start += alpacaBarsBatch {
		end := min(start+alpacaBarsBatch, len(symbols))
		if err := a.limiter.Wait(ctx); err != nil {
			return
		}
		bars, err := a.client.GetMultiOptionBars(symbols[start:end], marketdata.GetOptionBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     now.Add(-alpacaVolumeLookback),
			End:       now,
		})
		if err != nil {
			a.log.Warn("alpaca option bars failed, contracts treated as untraded",
				zap.String("ticker", chain.Ticker), zap.Error(err))
			return
		}
		for sym, bs := range bars {
			if n := len(bs); n > 0 {
				volumes[sym] = int64(bs[n-1].Volume)
			}
		}
	}
	for i := range chain.Contracts {
		chain.Contracts[i].Volume = volumes[chain.Contracts[i].Symbol]
	}
}

// GetHeadlines returns recent Alpaca news for the ticker.
func (a *Alpaca) GetHeadlines(ctx context.Context, ticker string, limit int) ([]models.Headline, error) {
	ticker = utils.NormalizeTicker(ticker)
	if limit <= 0 {
		return nil, nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	news, err := a.client.GetNews(marketdata.GetNewsRequest{
		Symbols:    []string{ticker},
		TotalLimit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca news %s: %w", ticker, err)
	}
	out := make([]models.Headline, 0, len(news))
	for _, n := range news {
		out = append(out, models.Headline{
			Title:       cleanHTML(n.Headline),
			URL:         n.URL,
			Source:      newsSource(n),
			Summary:     cleanHTML(n.Summary),
			PublishedAt: n.CreatedAt,
		})
	}
	sortHeadlinesByDate(out)
	return truncate(out, limit), nil
}

// GetDailyCandles returns daily bars between from and to.
func (a *Alpaca) GetDailyCandles(ctx context.Context, ticker string, from, to time.Time) ([]models.OHLCV, error) {
	ticker = utils.NormalizeTicker(ticker)
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	bars, err := a.client.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     from,
		End:       to,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", ticker, err)
	}
	out := make([]models.OHLCV, 0, len(bars))
	for _, b := range bars {
		out = append(out, models.OHLCV{
			Timestamp: b.Timestamp.In(utils.Eastern),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    int64(b.Volume),
		})
	}
	return out, nil
}

// --- conversions ---

// newsSource names the author when Alpaca reports one.
func newsSource(n marketdata.News) string {
	if n.Author != "" {
		return n.Author
	}
	return "Alpaca"
}

// snapshotsToChain groups snapshots by expiry and keeps the contracts of
// the wanted expiry, or of the nearest one when wanted is empty.
func snapshotsToChain(ticker string, snaps map[string]marketdata.OptionSnapshot, wanted string) *models.OptionChain {
	byExpiry := make(map[string][]models.OptionContract)
	for sym, s := range snaps {
		c, ok := snapshotToContract(sym, s)
		if !ok {
			continue
		}
		byExpiry[c.ExpiryDate] = append(byExpiry[c.ExpiryDate], c)
	}

	chain := &models.OptionChain{Ticker: ticker}
	for e := range byExpiry {
		chain.Expiries = append(chain.Expiries, e)
	}
	sort.Strings(chain.Expiries)
	if len(chain.Expiries) == 0 {
		return chain
	}

	if wanted == "" {
		wanted = chain.Expiries[0]
	}
	chain.ExpiryDate = wanted
	chain.Contracts = byExpiry[wanted]
	sort.Slice(chain.Contracts, func(i, j int) bool {
		ci, cj := chain.Contracts[i], chain.Contracts[j]
		if ci.StrikePrice != cj.StrikePrice {
			return ci.StrikePrice < cj.StrikePrice
		}
		return ci.OptionType < cj.OptionType
	})
	return chain
}

func snapshotToContract(symbol string, s marketdata.OptionSnapshot) (models.OptionContract, bool) {
	expiry, side, strike, err := parseOCCSymbol(symbol)
	if err != nil {
		return models.OptionContract{}, false
	}
	c := models.OptionContract{
		Symbol:      symbol,
		StrikePrice: strike,
		OptionType:  side,
		ExpiryDate:  expiry,
		IV:          s.ImpliedVolatility * 100,
	}
	if s.LatestQuote != nil {
		c.BidPrice = s.LatestQuote.BidPrice
		c.AskPrice = s.LatestQuote.AskPrice
	}
	if s.LatestTrade != nil {
		c.LastPrice = s.LatestTrade.Price
	}
	return c, true
}

// parseOCCSymbol splits an OCC option symbol such as AAPL250117C00150000
// into expiry date, side and strike.
func parseOCCSymbol(sym string) (expiry, side string, strike float64, err error) {
	if len(sym) < 16 {
		return "", "", 0, fmt.Errorf("occ symbol %q: too short", sym)
	}
	tail := sym[len(sym)-15:]
	d, err := time.Parse("060102", tail[:6])
	if err != nil {
		return "", "", 0, fmt.Errorf("occ symbol %q: %w", sym, err)
	}
	switch tail[6] {
	case 'C':
		side = models.Call
	case 'P':
		side = models.Put
	default:
		return "", "", 0, fmt.Errorf("occ symbol %q: bad side %q", sym, tail[6])
	}
	milli, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("occ symbol %q: %w", sym, err)
	}
	return d.Format(utils.DateLayout), side, float64(milli) / 1000, nil
}
