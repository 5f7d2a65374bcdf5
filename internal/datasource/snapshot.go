package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/technical"
	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// TickerError records why a ticker was dropped from a batch.
type TickerError struct {
	Ticker string
	Err    error
}

func (e TickerError) Error() string { return e.Ticker + ": " + e.Err.Error() }

func (e TickerError) Unwrap() error { return e.Err }

// Fetcher builds market snapshots for a watchlist.
type Fetcher struct {
	src           MarketDataSource
	params        VolatilityParams
	concurrency   int
	tickerTimeout time.Duration
	headlineLimit int
	trendDays     int
	log           *zap.Logger
	now           func() time.Time
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithClock overrides the time source stamped on snapshots.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a snapshot fetcher over src.
func NewFetcher(src MarketDataSource, cfg config.MarketConfig, log *zap.Logger, opts ...FetcherOption) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Fetcher{
		src: src,
		params: VolatilityParams{
			MinDaysToExpiry: cfg.MinDaysToExpiry,
			MaxSpread:       cfg.MaxSpread,
			ATMContracts:    cfg.ATMContracts,
		},
		concurrency:   cfg.Concurrency,
		tickerTimeout: time.Duration(cfg.TickerTimeoutSec) * time.Second,
		headlineLimit: cfg.HeadlineLimit,
		trendDays:     cfg.TrendDays,
		log:           log,
		now:           time.Now,
	}
	if f.concurrency <= 0 {
		f.concurrency = 1
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Source returns the underlying data source.
func (f *Fetcher) Source() MarketDataSource { return f.src }

// Snapshot gathers price, volatility estimate, headlines, trend and market
// cap for one ticker. at is the batch time: expirations and the candle
// window are measured from it. A ticker with no listed options returns
// ErrNoOptionChain. A chain with no liquid contracts yields Volatility 0.
// Headline and candle failures are not fatal.
func (f *Fetcher) Snapshot(ctx context.Context, ticker string, at time.Time) (*models.MarketSnapshot, error) {
	ticker = utils.NormalizeTicker(ticker)

	quote, err := f.src.GetQuote(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}

	chain, err := f.src.GetOptionChain(ctx, ticker, "")
	if err != nil {
		return nil, fmt.Errorf("option chain: %w", err)
	}
	if len(chain.Expiries) == 0 {
		return nil, ErrNoOptionChain
	}

	snap := &models.MarketSnapshot{
		Ticker:    ticker,
		Price:     quote.LastPrice,
		MarketCap: quote.MarketCap,
		Expiries:  chain.Expiries,
		FetchedAt: f.now(),
	}

	if expiry := SelectExpiry(chain.Expiries, at, f.params.MinDaysToExpiry); expiry != "" {
		if expiry != chain.ExpiryDate {
			chain, err = f.src.GetOptionChain(ctx, ticker, expiry)
			if err != nil {
				return nil, fmt.Errorf("option chain %s: %w", expiry, err)
			}
		}
		if iv, ok := EstimateVolatility(chain.Contracts, quote.LastPrice, f.params); ok {
			snap.Volatility = iv
		}
	}

	if f.headlineLimit > 0 {
		h, err := f.src.GetHeadlines(ctx, ticker, f.headlineLimit)
		if err != nil {
			f.log.Debug("headlines unavailable", zap.String("ticker", ticker), zap.Error(err))
		} else {
			snap.Headlines = h
		}
	}

	if f.trendDays > 0 {
		f.addTrend(ctx, snap, at)
	}
	return snap, nil
}

// addTrend fills the moving average and RSI from recent daily candles.
func (f *Fetcher) addTrend(ctx context.Context, snap *models.MarketSnapshot, at time.Time) {
	// Calendar span wide enough for trendDays sessions plus holidays.
	from := at.AddDate(0, 0, -(f.trendDays*3/2 + 10))
	candles, err := f.src.GetDailyCandles(ctx, snap.Ticker, from, at)
	if err != nil {
		f.log.Debug("candles unavailable", zap.String("ticker", snap.Ticker), zap.Error(err))
		return
	}
	if tr, ok := technical.Summarize(candles, f.trendDays); ok {
		snap.SMA = tr.SMA
		snap.RSI = tr.RSI
	}
}

// SnapshotAll fetches every ticker in parallel, each under its own timeout,
// all measured from the batch time at.
// Failed tickers are reported in the second return value and never abort the
// batch. Snapshots come back in watchlist order. The error is non-nil only
// when ctx itself is done.
func (f *Fetcher) SnapshotAll(ctx context.Context, tickers []string, at time.Time) ([]*models.MarketSnapshot, []TickerError, error) {
	results := make([]*models.MarketSnapshot, len(tickers))
	var (
		mu     sync.Mutex
		failed []TickerError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, t := range tickers {
		g.Go(func() error {
			tctx := gctx
			if f.tickerTimeout > 0 {
				var cancel context.CancelFunc
				tctx, cancel = context.WithTimeout(gctx, f.tickerTimeout)
				defer cancel()
			}

			snap, err := f.Snapshot(tctx, t, at)
			if err != nil {
				f.log.Warn("skipping ticker", zap.String("ticker", t), zap.Error(err))
				mu.Lock()
				failed = append(failed, TickerError{Ticker: t, Err: err})
				mu.Unlock()
				return nil // non-fatal
			}
			results[i] = snap
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, failed, err
	}

	out := make([]*models.MarketSnapshot, 0, len(results))
	for _, s := range results {
		if s != nil {
			out = append(out, s)
		}
	}
	f.log.Info("snapshots fetched",
		zap.String("source", f.src.Name()),
		zap.Int("ok", len(out)), zap.Int("failed", len(failed)))
	return out, failed, nil
}

// IsUnavailable reports whether err means the ticker has no usable data.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrNoOptionChain) || errors.Is(err, ErrTickerNotFound)
}
