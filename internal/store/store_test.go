package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/stockpulse/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(ticker string, score float64, batch time.Time) TradeSuggestion {
	return TradeSuggestion{
		Ticker: ticker, Side: "CALL", SuggestedStrike: dec("144"), EntryStockPrice: dec("141.2"),
		ExpirationDate: "2025-01-31", FinalScore: score, ScanBatchAt: batch,
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "mysql"}, nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestInsertTrades_SkipsFailedRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)

	rows := []TradeSuggestion{trade("NVDA", 9, batch), trade("AMD", 8, batch), trade("MU", 7, batch)}
	rows[0].ID = 42
	rows[1].ID = 42 // duplicate primary key

	res := s.InsertTrades(ctx, rows)
	if res.Written != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 2 written / 1 failed", res)
	}

	got, err := s.LatestTrades(ctx, 0)
	if err != nil {
		t.Fatalf("LatestTrades: %v", err)
	}
	if len(got) != 2 || got[0].Ticker != "NVDA" || got[1].Ticker != "MU" {
		t.Errorf("stored = %+v", got)
	}
	if !got[0].SuggestedStrike.Equal(dec("144")) {
		t.Errorf("strike round trip = %s", got[0].SuggestedStrike)
	}
}

func TestInsertTrades_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch := time.Now().UTC()
	res := s.InsertTrades(ctx, []TradeSuggestion{trade("A", 1, batch), trade("B", 1, batch), trade("C", 1, batch)})
	if res.Written != 0 || res.Failed != 3 {
		t.Errorf("result = %+v, want all 3 failed", res)
	}
}

func TestLatest_OnlyNewestBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2025, 1, 9, 15, 0, 0, 0, time.UTC)
	cur := old.Add(24 * time.Hour)

	s.InsertTrades(ctx, []TradeSuggestion{trade("OLD", 10, old)})
	s.InsertTrades(ctx, []TradeSuggestion{trade("LOW", 3, cur), trade("HIGH", 9, cur)})

	got, err := s.LatestTrades(ctx, 10)
	if err != nil {
		t.Fatalf("LatestTrades: %v", err)
	}
	if len(got) != 2 || got[0].Ticker != "HIGH" || got[1].Ticker != "LOW" {
		t.Errorf("latest = %+v", got)
	}

	s.InsertVolatility(ctx, []VolatilityAnalysis{
		{Ticker: "RKLB", Volatility: 90, Price: dec("25"), ScanBatchAt: cur},
		{Ticker: "TSLA", Volatility: 60, Price: dec("400"), ScanBatchAt: cur},
	})
	vol, err := s.LatestVolatility(ctx, 1)
	if err != nil || len(vol) != 1 || vol[0].Ticker != "RKLB" {
		t.Errorf("latest volatility = %+v, %v", vol, err)
	}

	income, err := s.LatestIncome(ctx, 0)
	if err != nil || len(income) != 0 {
		t.Errorf("empty income table = %+v, %v", income, err)
	}

	batches, err := s.LatestBatches(ctx)
	if err != nil {
		t.Fatalf("LatestBatches: %v", err)
	}
	if !batches["option_trades"].Equal(cur) || !batches["volatility_analyses"].Equal(cur) {
		t.Errorf("batches = %v, want %v", batches, cur)
	}
	if _, ok := batches["csp_suggestions"]; ok {
		t.Error("empty table must not report a batch")
	}
}

func seedPost(t *testing.T, s *Store, id, author, sentiment string, at time.Time) {
	t.Helper()
	err := s.UpsertPost(context.Background(), &SentimentPost{
		PostID: id, Ticker: "NVDA", Sentiment: sentiment, Author: author, PostTime: at, Source: "ChromeExtension",
	})
	if err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}
}

func TestRecordOutcome_AccumulatesAndRecomputes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.db.Create(&AuthorPerformance{Author: "UserA", TotalPredictions: 4, CorrectPredictions: 3, AccuracyRate: 75}).Error; err != nil {
		t.Fatalf("seed author: %v", err)
	}
	seedPost(t, s, "p1", "UserA", "Bullish", time.Now().Add(-30*time.Hour))

	perf, applied, err := s.RecordOutcome(ctx, Outcome{PostID: "p1", Author: "UserA", Counted: true, Correct: true, PriceChangePct: 2.5})
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if !applied {
		t.Fatal("expected outcome to apply")
	}
	if perf.TotalPredictions != 5 || perf.CorrectPredictions != 4 || perf.AccuracyRate != 80.00 {
		t.Errorf("perf = %+v, want 5/4/80.00", perf)
	}

	// Scoring the same post again is a no-op.
	_, applied, err = s.RecordOutcome(ctx, Outcome{PostID: "p1", Author: "UserA", Counted: true, Correct: true})
	if err != nil || applied {
		t.Fatalf("second RecordOutcome: applied=%v err=%v", applied, err)
	}
	stored, err := s.Author(ctx, "UserA")
	if err != nil {
		t.Fatalf("Author: %v", err)
	}
	if stored.TotalPredictions != 5 || stored.CorrectPredictions != 4 {
		t.Errorf("double counted: %+v", stored)
	}
}

func TestRecordOutcome_NewAuthorAndInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	results := []bool{true, false, false, true, true, false}
	for i, correct := range results {
		id := string(rune('a' + i))
		seedPost(t, s, id, "Trader", "Bearish", time.Now().Add(-30*time.Hour))
		perf, applied, err := s.RecordOutcome(ctx, Outcome{PostID: id, Author: "Trader", Counted: true, Correct: correct})
		if err != nil || !applied {
			t.Fatalf("post %s: applied=%v err=%v", id, applied, err)
		}
		want := accuracyRate(perf.CorrectPredictions, perf.TotalPredictions)
		if perf.AccuracyRate != want {
			t.Errorf("after %d: rate %v, want %v", i+1, perf.AccuracyRate, want)
		}
		if perf.TotalPredictions != int64(i+1) {
			t.Errorf("after %d: total %d", i+1, perf.TotalPredictions)
		}
	}
	final, _ := s.Author(ctx, "Trader")
	if final.CorrectPredictions != 3 || final.AccuracyRate != 50 {
		t.Errorf("final = %+v", final)
	}
}

func TestRecordOutcome_NeutralLeavesAuthorUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, "n1", "Quiet", "Neutral", time.Now().Add(-30*time.Hour))

	_, applied, err := s.RecordOutcome(ctx, Outcome{PostID: "n1", Author: "Quiet", Counted: false})
	if err != nil || !applied {
		t.Fatalf("RecordOutcome: applied=%v err=%v", applied, err)
	}
	if _, err := s.Author(ctx, "Quiet"); err == nil {
		t.Error("neutral post must not create an author row")
	}
	pending, _ := s.PendingPosts(ctx, time.Now(), 24*time.Hour, 72*time.Hour)
	if len(pending) != 0 {
		t.Errorf("neutral post still pending: %+v", pending)
	}
}

func TestPendingPosts_Window(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	eastern := time.FixedZone("EST", -5*3600)

	seedPost(t, s, "fresh", "A", "Bullish", now.Add(-2*time.Hour))
	seedPost(t, s, "ripe", "A", "Bullish", now.Add(-30*time.Hour).In(eastern))
	seedPost(t, s, "edge", "A", "Bullish", now.Add(-72*time.Hour))
	seedPost(t, s, "stale", "A", "Bullish", now.Add(-100*time.Hour))

	got, err := s.PendingPosts(ctx, now, 24*time.Hour, 72*time.Hour)
	if err != nil {
		t.Fatalf("PendingPosts: %v", err)
	}
	if len(got) != 2 || got[0].PostID != "edge" || got[1].PostID != "ripe" {
		t.Errorf("pending = %+v", got)
	}
}

func TestUpsertPost_KeepsScoringState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().Add(-30 * time.Hour)
	seedPost(t, s, "dup", "A", "Bullish", at)
	if _, _, err := s.RecordOutcome(ctx, Outcome{PostID: "dup", Author: "A", Counted: true, Correct: true}); err != nil {
		t.Fatal(err)
	}

	price := dec("101.5")
	err := s.UpsertPost(ctx, &SentimentPost{PostID: "dup", Ticker: "NVDA", Sentiment: "Bullish", Author: "A", PostTime: at, EntryPrice: &price})
	if err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}

	posts, _ := s.RecentPosts(ctx, 0)
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	if posts[0].Status != StatusScored || posts[0].Outcome != OutcomeCorrect {
		t.Errorf("scoring state reset: %+v", posts[0])
	}
	if posts[0].EntryPrice == nil || !posts[0].EntryPrice.Equal(price) {
		t.Errorf("missing entry price not filled: %v", posts[0].EntryPrice)
	}
}

func TestUpsertPost_KeepsFirstEntryPrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().Add(-2 * time.Hour)
	post := func(entry *decimal.Decimal, summary string) *SentimentPost {
		return &SentimentPost{PostID: "p", Ticker: "NVDA", Sentiment: "Bullish", Author: "A",
			PostTime: at, Summary: summary, EntryPrice: entry}
	}

	first := dec("100")
	later := dec("120")
	steps := []struct {
		name  string
		entry *decimal.Decimal
	}{
		{"initial", &first},
		{"re-ingest without quote", nil},
		{"re-ingest with later quote", &later},
	}
	for _, step := range steps {
		if err := s.UpsertPost(ctx, post(step.entry, step.name)); err != nil {
			t.Fatalf("%s: UpsertPost: %v", step.name, err)
		}
		posts, err := s.RecentPosts(ctx, 0)
		if err != nil || len(posts) != 1 {
			t.Fatalf("%s: posts = %v, %v", step.name, posts, err)
		}
		if got := posts[0].EntryPrice; got == nil || !got.Equal(first) {
			t.Errorf("%s: entry price = %v, want 100", step.name, got)
		}
		if posts[0].Summary != step.name {
			t.Errorf("%s: summary = %q, not refreshed", step.name, posts[0].Summary)
		}
	}

	tracked, err := s.PostsWithEntryPrice(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || len(tracked) != 1 {
		t.Errorf("PostsWithEntryPrice = %v, %v; want the post", tracked, err)
	}
}

func TestLeaderboardAndHotTickers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.db.Create(&[]AuthorPerformance{
		{Author: "a", TotalPredictions: 10, CorrectPredictions: 9, AccuracyRate: 90},
		{Author: "b", TotalPredictions: 2, CorrectPredictions: 2, AccuracyRate: 100},
		{Author: "c", TotalPredictions: 20, CorrectPredictions: 18, AccuracyRate: 90},
	})
	board, err := s.Leaderboard(ctx, 5, 10)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].Author != "c" || board[1].Author != "a" {
		t.Errorf("board = %+v", board)
	}

	now := time.Now()
	for i, p := range []struct{ id, ticker, sentiment string }{
		{"1", "NVDA", "Bullish"}, {"2", "NVDA", "Bearish"}, {"3", "NVDA", "Bullish"}, {"4", "TSLA", "Bearish"},
	} {
		err := s.UpsertPost(ctx, &SentimentPost{PostID: p.id, Ticker: p.ticker, Sentiment: p.sentiment, Author: "x",
			PostTime: now.Add(-time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatal(err)
		}
	}
	hot, err := s.HotTickers(ctx, now.Add(-24*time.Hour), 5)
	if err != nil {
		t.Fatalf("HotTickers: %v", err)
	}
	if len(hot) != 2 || hot[0].Ticker != "NVDA" || hot[0].Mentions != 3 || hot[0].Bullish != 2 || hot[0].Bearish != 1 {
		t.Errorf("hot = %+v", hot)
	}

	counts, err := s.Counts(ctx)
	if err != nil || counts["stock_trends"] != 4 || counts["author_performance"] != 3 {
		t.Errorf("counts = %v, %v", counts, err)
	}
}

func TestTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	price := dec("100")
	now := time.Now()
	_ = s.UpsertPost(ctx, &SentimentPost{PostID: "t1", Ticker: "AMD", Sentiment: "Bullish", Author: "x", PostTime: now, EntryPrice: &price})
	_ = s.UpsertPost(ctx, &SentimentPost{PostID: "t2", Ticker: "AMD", Sentiment: "Bullish", Author: "x", PostTime: now})

	posts, err := s.PostsWithEntryPrice(ctx, now.Add(-time.Hour))
	if err != nil || len(posts) != 1 || posts[0].PostID != "t1" {
		t.Fatalf("posts = %+v, %v", posts, err)
	}

	for _, cur := range []string{"99", "103"} {
		err := s.UpsertTracking(ctx, &PriceTracking{PostID: "t1", Ticker: "AMD", EntryPrice: price,
			CurrentPrice: dec(cur), IsCorrect: cur == "103", CheckedAt: now})
		if err != nil {
			t.Fatalf("UpsertTracking: %v", err)
		}
	}
	var rows []PriceTracking
	s.db.Find(&rows)
	if len(rows) != 1 || !rows[0].IsCorrect || !rows[0].CurrentPrice.Equal(dec("103")) {
		t.Errorf("tracking = %+v", rows)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping after close = %v, want ErrUnavailable", err)
	}
}
