package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seenimoa/stockpulse/internal/datasource"
	"github.com/seenimoa/stockpulse/internal/store"
	"github.com/seenimoa/stockpulse/pkg/models"
)

// VerifySummary counts one verification pass.
type VerifySummary struct {
	Checked int `json:"checked"`
	Correct int `json:"correct"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Verifier compares posts with a captured entry price to the live price.
type Verifier struct {
	src      datasource.MarketDataSource
	store    *store.Store
	lookback time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewVerifier creates a Verifier over posts newer than lookback.
func NewVerifier(src datasource.MarketDataSource, st *store.Store, lookback time.Duration, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	return &Verifier{src: src, store: st, lookback: lookback, log: log, now: time.Now}
}

// Run checks every recent post with an entry price and upserts its
// price_tracking row.
func (v *Verifier) Run(ctx context.Context) (*VerifySummary, error) {
	if err := v.store.Ping(ctx); err != nil {
		return nil, err
	}
	now := v.now()
	posts, err := v.store.PostsWithEntryPrice(ctx, now.Add(-v.lookback))
	if err != nil {
		return nil, err
	}

	sum := &VerifySummary{}
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		dir, ok := models.Sentiment(p.Sentiment).Direction()
		if !ok || p.EntryPrice == nil {
			sum.Skipped++
			continue
		}
		q, err := v.src.GetQuote(ctx, p.Ticker)
		if err != nil {
			v.log.Warn("quote unavailable", zap.String("ticker", p.Ticker), zap.Error(err))
			sum.Failed++
			continue
		}
		current := decimalPrice(q.LastPrice)
		correct := HeldUp(dir, *p.EntryPrice, current)
		err = v.store.UpsertTracking(ctx, &store.PriceTracking{
			PostID:       p.PostID,
			Ticker:       p.Ticker,
			EntryPrice:   *p.EntryPrice,
			CurrentPrice: current,
			IsCorrect:    correct,
			CheckedAt:    now.UTC(),
		})
		if err != nil {
			v.log.Warn("tracking write failed", zap.String("post_id", p.PostID), zap.Error(err))
			sum.Failed++
			continue
		}
		sum.Checked++
		if correct {
			sum.Correct++
		}
	}
	v.log.Info("verification finished",
		zap.Int("checked", sum.Checked), zap.Int("correct", sum.Correct),
		zap.Int("skipped", sum.Skipped), zap.Int("failed", sum.Failed))
	return sum, nil
}

// HeldUp reports whether a call is right so far. Ties count for the caller.
func HeldUp(d models.Direction, entry, current decimal.Decimal) bool {
	if d == models.Bullish {
		return current.GreaterThanOrEqual(entry)
	}
	return current.LessThanOrEqual(entry)
}

func decimalPrice(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Round(2)
}
