package accuracy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/store"
	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

func et(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, utils.Eastern)
}

func bar(y int, m time.Month, d int, open, closePrice float64) models.OHLCV {
	return models.OHLCV{Timestamp: et(y, m, d, 9, 30), Open: open, Close: closePrice, High: closePrice, Low: open}
}

type fakeCandles struct {
	bars  map[string][]models.OHLCV
	calls int
}

func (f *fakeCandles) Name() string { return "fake" }

func (f *fakeCandles) GetQuote(context.Context, string) (*models.Quote, error) {
	return nil, errors.New("not used")
}

func (f *fakeCandles) GetOptionChain(context.Context, string, string) (*models.OptionChain, error) {
	return nil, errors.New("not used")
}

func (f *fakeCandles) GetHeadlines(context.Context, string, int) ([]models.Headline, error) {
	return nil, errors.New("not used")
}

func (f *fakeCandles) GetDailyCandles(_ context.Context, ticker string, from, to time.Time) ([]models.OHLCV, error) {
	f.calls++
	bars, ok := f.bars[ticker]
	if !ok {
		return nil, errors.New("history down")
	}
	var out []models.OHLCV
	for _, b := range bars {
		if !b.Timestamp.Before(utils.DateOnly(from)) && b.Timestamp.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seed(t *testing.T, st *store.Store, id, author, ticker, sentiment string, at time.Time) {
	t.Helper()
	err := st.UpsertPost(context.Background(), &store.SentimentPost{
		PostID: id, Author: author, Ticker: ticker, Sentiment: sentiment, PostTime: at, Source: "test",
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

// Mon 13th and Tue 14th January 2025 are consecutive sessions.
func testBars() map[string][]models.OHLCV {
	return map[string][]models.OHLCV{
		"UP":   {bar(2025, 1, 13, 100, 101), bar(2025, 1, 14, 102, 105), bar(2025, 1, 15, 105, 110)},
		"DOWN": {bar(2025, 1, 13, 50, 49), bar(2025, 1, 14, 48, 45)},
		"FLAT": {bar(2025, 1, 13, 20, 21), bar(2025, 1, 14, 21, 20)},
		"LIVE": {bar(2025, 1, 14, 10, 11), bar(2025, 1, 15, 11, 12)},
	}
}

// Wednesday evening, after the close.
func testNow() time.Time { return et(2025, 1, 15, 18, 0) }

func newTestUpdater(st *store.Store, src *fakeCandles, now func() time.Time) *Updater {
	return New(config.AccuracyConfig{MinAgeHours: 24, MaxAgeHours: 72}, src, st, nil, WithClock(now))
}

func TestRun_AccumulatesAuthorAccuracy(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	src := &fakeCandles{bars: testBars()}
	mon := et(2025, 1, 13, 11, 0)

	seed(t, st, "p1", "UserA", "UP", "Bullish", mon)
	seed(t, st, "p2", "UserA", "DOWN", "Bearish", mon.Add(time.Minute))
	seed(t, st, "p3", "UserA", "UP", "Bearish", mon.Add(2*time.Minute))
	seed(t, st, "p4", "UserA", "DOWN", "Bearish", mon.Add(3*time.Minute))

	u := newTestUpdater(st, src, testNow)
	sum, err := u.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Scored != 4 {
		t.Fatalf("summary %s, want 4 scored", sum)
	}
	perf, err := st.Author(ctx, "UserA")
	if err != nil {
		t.Fatal(err)
	}
	if perf.TotalPredictions != 4 || perf.CorrectPredictions != 3 || perf.AccuracyRate != 75 {
		t.Fatalf("after first run: %+v, want 4/3 = 75", perf)
	}

	seed(t, st, "p5", "UserA", "UP", "Bullish", mon.Add(4*time.Minute))
	sum, err = u.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Pending != 1 || sum.Scored != 1 {
		t.Errorf("second run %s, want only the new post", sum)
	}
	perf, err = st.Author(ctx, "UserA")
	if err != nil {
		t.Fatal(err)
	}
	if perf.TotalPredictions != 5 || perf.CorrectPredictions != 4 || perf.AccuracyRate != 80 {
		t.Errorf("after second run: %+v, want 5/4 = 80", perf)
	}

	// Nothing left to score.
	sum, err = u.Run(ctx)
	if err != nil || sum.Pending != 0 {
		t.Errorf("third run %v, %v; want nothing pending", sum, err)
	}
	again, _ := st.Author(ctx, "UserA")
	if again.TotalPredictions != 5 {
		t.Errorf("total = %d after a repeated run, want 5", again.TotalPredictions)
	}
}

func TestRun_NeutralDeferredAndFailed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	src := &fakeCandles{bars: testBars()}

	// Sunday evening post belongs to Monday's session.
	seed(t, st, "weekend", "UserB", "FLAT", "Bullish", et(2025, 1, 12, 20, 0))
	seed(t, st, "neutral", "UserB", "UP", "Neutral", et(2025, 1, 13, 12, 0))
	seed(t, st, "missing", "UserB", "NOPE", "Bullish", et(2025, 1, 13, 12, 30))

	// At Wednesday noon the Tuesday post's second session is still trading.
	now := func() time.Time { return et(2025, 1, 15, 12, 0) }
	seed(t, st, "live", "UserC", "LIVE", "Bullish", et(2025, 1, 14, 10, 0))

	sum, err := newTestUpdater(st, src, now).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Summary{Pending: 4, Scored: 1, Neutral: 1, Deferred: 1, Failed: 1}
	if *sum != want {
		t.Errorf("summary = %s, want %s", sum, want)
	}

	perf, err := st.Author(ctx, "UserB")
	if err != nil {
		t.Fatal(err)
	}
	// FLAT: 20 -> 20 is not a rise.
	if perf.TotalPredictions != 1 || perf.CorrectPredictions != 0 || perf.AccuracyRate != 0 {
		t.Errorf("UserB = %+v, want 1 total, 0 correct", perf)
	}
	if _, err := st.Author(ctx, "UserC"); err == nil {
		t.Error("deferred post must not create author stats")
	}
}

func TestSessionMove(t *testing.T) {
	bars := testBars()["UP"]
	mon := et(2025, 1, 13, 11, 0)

	tests := []struct {
		name      string
		candles   []models.OHLCV
		post, now time.Time
		open, cl  float64
		ok        bool
	}{
		{"monday post", bars, mon, testNow(), 100, 105, true},
		{"unsorted input", []models.OHLCV{bars[1], bars[0]}, mon, testNow(), 100, 105, true},
		{"sunday post uses monday", bars, et(2025, 1, 12, 9, 0), testNow(), 100, 105, true},
		{"after hours post still same day", bars, et(2025, 1, 13, 19, 0), testNow(), 100, 105, true},
		{"single bar", bars[:1], mon, testNow(), 0, 0, false},
		{"no bars", nil, mon, testNow(), 0, 0, false},
		{"second session open", bars, mon, et(2025, 1, 14, 15, 59), 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open, cl, ok := SessionMove(tt.candles, tt.post, tt.now)
			if ok != tt.ok || open != tt.open || cl != tt.cl {
				t.Errorf("SessionMove = %v, %v, %v; want %v, %v, %v", open, cl, ok, tt.open, tt.cl, tt.ok)
			}
		})
	}
}

func TestJudge(t *testing.T) {
	tests := []struct {
		d           models.Direction
		open, close float64
		want        bool
	}{
		{models.Bullish, 100, 105, true},
		{models.Bullish, 100, 95, false},
		{models.Bullish, 100, 100, false},
		{models.Bearish, 100, 95, true},
		{models.Bearish, 100, 105, false},
		{models.Bearish, 100, 100, false},
	}
	for _, tt := range tests {
		got, pct := Judge(tt.d, tt.open, tt.close)
		if got != tt.want {
			t.Errorf("Judge(%s, %v -> %v) = %v, want %v", tt.d, tt.open, tt.close, got, tt.want)
		}
		if want := (tt.close - tt.open) / tt.open * 100; pct != want {
			t.Errorf("change = %v, want %v", pct, want)
		}
	}
}
