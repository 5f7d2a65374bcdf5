// Package accuracy scores ingested sentiment posts against the market and
// keeps each author's running hit rate.
package accuracy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/datasource"
	"github.com/seenimoa/stockpulse/internal/store"
	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// Summary counts what one run did with the pending posts.
type Summary struct {
	Pending  int `json:"pending"`
	Scored   int `json:"scored"`
	Neutral  int `json:"neutral"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
}

// Updater scores posts whose outcome window has closed.
type Updater struct {
	src    datasource.MarketDataSource
	store  *store.Store
	minAge time.Duration
	maxAge time.Duration
	log    *zap.Logger
	now    func() time.Time
}

// Option configures an Updater.
type Option func(*Updater)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) { u.now = now }
}

// New creates an Updater.
func New(cfg config.AccuracyConfig, src datasource.MarketDataSource, st *store.Store, log *zap.Logger, opts ...Option) *Updater {
	if log == nil {
		log = zap.NewNop()
	}
	u := &Updater{
		src:    src,
		store:  st,
		minAge: hours(cfg.MinAgeHours, 24),
		maxAge: hours(cfg.MaxAgeHours, 72),
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func hours(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Hour
}

// Run scores every pending post in the window. A post whose price data is
// not settled yet stays pending for the next run. Running twice never
// counts a post twice.
func (u *Updater) Run(ctx context.Context) (*Summary, error) {
	if err := u.store.Ping(ctx); err != nil {
		return nil, err
	}
	now := u.now()
	posts, err := u.store.PendingPosts(ctx, now, u.minAge, u.maxAge)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Pending: len(posts)}
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		u.scorePost(ctx, p, now, sum)
	}

	u.log.Info("author scoring finished",
		zap.Int("pending", sum.Pending), zap.Int("scored", sum.Scored),
		zap.Int("neutral", sum.Neutral), zap.Int("deferred", sum.Deferred),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

func (u *Updater) scorePost(ctx context.Context, p store.SentimentPost, now time.Time, sum *Summary) {
	log := u.log.With(zap.String("post_id", p.PostID), zap.String("ticker", p.Ticker), zap.String("author", p.Author))

	dir, directional := models.Sentiment(p.Sentiment).Direction()
	if !directional {
		if _, applied, err := u.store.RecordOutcome(ctx, store.Outcome{PostID: p.PostID, Author: p.Author}); err != nil {
			log.Warn("record neutral post failed", zap.Error(err))
			sum.Failed++
		} else if applied {
			sum.Neutral++
		}
		return
	}

	day := utils.TradingDayOf(p.PostTime)
	next := utils.NextTradingDay(day)
	candles, err := u.src.GetDailyCandles(ctx, p.Ticker, day, next.AddDate(0, 0, 1))
	if err != nil {
		log.Warn("price history unavailable", zap.Error(err))
		sum.Failed++
		return
	}

	open, closePrice, ok := SessionMove(candles, p.PostTime, now)
	if !ok {
		log.Debug("outcome not settled, deferring")
		sum.Deferred++
		return
	}

	correct, change := Judge(dir, open, closePrice)
	perf, applied, err := u.store.RecordOutcome(ctx, store.Outcome{
		PostID:         p.PostID,
		Author:         p.Author,
		Counted:        true,
		Correct:        correct,
		PriceChangePct: change,
	})
	if err != nil {
		log.Warn("record outcome failed", zap.Error(err))
		sum.Failed++
		return
	}
	if !applied {
		return
	}
	sum.Scored++
	log.Info("post scored",
		zap.Bool("correct", correct), zap.Float64("change_pct", change),
		zap.Int64("total", perf.TotalPredictions), zap.Float64("accuracy_rate", perf.AccuracyRate))
}

// SessionMove returns the open of the post's trading session and the close
// of the session after it. ok is false until both bars exist and the second
// session has closed at now.
func SessionMove(candles []models.OHLCV, postTime, now time.Time) (open, closePrice float64, ok bool) {
	bars := append([]models.OHLCV(nil), candles...)
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	day := utils.FormatDate(utils.TradingDayOf(postTime))
	first := -1
	for i, b := range bars {
		if utils.FormatDate(b.Timestamp) >= day {
			first = i
			break
		}
	}
	if first < 0 || first+1 >= len(bars) {
		return 0, 0, false
	}
	entry, exit := bars[first], bars[first+1]
	if entry.Open <= 0 || exit.Close <= 0 {
		return 0, 0, false
	}
	if now.Before(utils.MarketCloseTime(exit.Timestamp)) {
		return 0, 0, false
	}
	return entry.Open, exit.Close, true
}

// Judge decides a directional call. A bullish call is right when the price
// rose, a bearish one when it fell; an unchanged price is wrong for both.
func Judge(d models.Direction, open, closePrice float64) (correct bool, changePct float64) {
	change := (closePrice - open) / open
	switch d {
	case models.Bullish:
		correct = change > 0
	case models.Bearish:
		correct = change < 0
	}
	return correct, change * 100
}

// String renders the summary for logs and the CLI.
func (s Summary) String() string {
	return fmt.Sprintf("pending=%d scored=%d neutral=%d deferred=%d failed=%d",
		s.Pending, s.Scored, s.Neutral, s.Deferred, s.Failed)
}
