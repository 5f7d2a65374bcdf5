package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/extract"
	"github.com/seenimoa/stockpulse/internal/llm"
	"github.com/seenimoa/stockpulse/internal/store"
	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeVision struct {
	reply    string
	err      error
	messages []llm.Message
}

func (f *fakeVision) Chat(_ context.Context, messages []llm.Message, _ *llm.ChatOptions) (*llm.Response, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply}, nil
}

type fakeQuotes map[string]float64

func (f fakeQuotes) Name() string { return "fake" }

func (f fakeQuotes) GetQuote(_ context.Context, ticker string) (*models.Quote, error) {
	p, ok := f[ticker]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &models.Quote{Ticker: ticker, LastPrice: p}, nil
}

func (f fakeQuotes) GetOptionChain(context.Context, string, string) (*models.OptionChain, error) {
	return nil, errors.New("not used")
}

func (f fakeQuotes) GetHeadlines(context.Context, string, int) ([]models.Headline, error) {
	return nil, errors.New("not used")
}

func (f fakeQuotes) GetDailyCandles(context.Context, string, time.Time, time.Time) ([]models.OHLCV, error) {
	return nil, errors.New("not used")
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

func refNow() time.Time { return time.Date(2026, 1, 1, 20, 0, 0, 0, utils.Eastern) }

func TestParsePosts(t *testing.T) {
	raw := "```json\n[" +
		`{"ticker":"nvda","sentiment":"bullish","author":"UserA","post_time":"2026-01-01 18:00:00","summary":"Beat."},` +
		`{"ticker":"$tsla","sentiment":"puts","post_time":"3h ago"},` +
		`{"ticker":"AMD","sentiment":"meh","author":" ","post_time":"2030-01-01 00:00:00"},` +
		`{"sentiment":"Bullish","author":"NoTicker"},` +
		`{"ticker":"NVDA","sentiment":"Bullish","author":"UserA","post_time":"2026-01-01 18:00:00"}` +
		"]\n```"
	posts, err := ParsePosts(raw, refNow())
	if err != nil {
		t.Fatalf("ParsePosts: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3 (no-ticker and duplicate dropped)", len(posts))
	}

	nvda := posts[0]
	if nvda.Ticker != "NVDA" || nvda.Sentiment != "Bullish" || nvda.Author != "UserA" || nvda.Summary != "Beat." {
		t.Errorf("nvda = %+v", nvda)
	}
	if want := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC); !nvda.PostTime.Equal(want) {
		t.Errorf("post_time = %v, want %v", nvda.PostTime, want)
	}
	if nvda.Source != SourceExtension || nvda.Status != store.StatusPending {
		t.Errorf("source/status = %s/%s", nvda.Source, nvda.Status)
	}

	tsla := posts[1]
	if tsla.Ticker != "TSLA" || tsla.Sentiment != "Bearish" || tsla.Author != UnknownAuthor {
		t.Errorf("tsla = %+v", tsla)
	}
	if !tsla.PostTime.Equal(refNow()) {
		t.Errorf("unparsable time = %v, want reference time", tsla.PostTime)
	}

	amd := posts[2]
	if amd.Sentiment != "Neutral" || amd.Author != UnknownAuthor || !amd.PostTime.Equal(refNow()) {
		t.Errorf("amd = %+v; future time must clamp to now", amd)
	}
}

func TestParsePosts_NoJSON(t *testing.T) {
	_, err := ParsePosts("I could not read that screenshot.", refNow())
	var pe *extract.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *extract.ParseError", err)
	}
}

func TestPostIDStable(t *testing.T) {
	at := time.Date(2026, 1, 1, 18, 0, 0, 0, utils.Eastern)
	a := PostID("UserA", "NVDA", at)
	if a != PostID("UserA", "NVDA", at.UTC()) {
		t.Error("id must not depend on the time zone of post_time")
	}
	if a == PostID("UserA", "NVDA", at.Add(time.Second)) || a == PostID("UserB", "NVDA", at) || a == PostID("UserA", "AMD", at) {
		t.Error("distinct posts must get distinct ids")
	}
	if len(a) != 36 {
		t.Errorf("id %q is not a UUID", a)
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gen := &fakeVision{reply: `[{"ticker":"NVDA","sentiment":"Bullish","author":"UserA","post_time":"2026-01-01 18:00:00"},` +
		`{"ticker":"ZZZZ","sentiment":"Bearish","author":"UserB","post_time":"2026-01-01 17:30:00"}]`}
	in := New(gen, st, nil, WithClock(refNow), WithPriceSource(fakeQuotes{"NVDA": 186.504}))

	res, err := in.Ingest(ctx, llm.Image{MIMEType: "image/png", Data: pngHeader})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Written != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 2 written", res)
	}

	msg := gen.messages[0]
	if len(msg.Images) != 1 || !strings.Contains(msg.Content, "2026-01-01 20:00:00") {
		t.Errorf("vision request missing image or reference time: %+v", msg)
	}

	recent, err := st.RecentPosts(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("stored %d posts, want 2", len(recent))
	}
	for _, p := range recent {
		switch p.Ticker {
		case "NVDA":
			if p.EntryPrice == nil || !p.EntryPrice.Equal(decimal.RequireFromString("186.5")) {
				t.Errorf("NVDA entry = %v, want 186.5", p.EntryPrice)
			}
		case "ZZZZ":
			if p.EntryPrice != nil {
				t.Errorf("ZZZZ entry = %v, want none", p.EntryPrice)
			}
		}
	}

	// Same screenshot again updates in place.
	if _, err := in.Ingest(ctx, llm.Image{MIMEType: "image/png", Data: pngHeader}); err != nil {
		t.Fatal(err)
	}
	counts, _ := st.Counts(ctx)
	if counts["stock_trends"] != 2 {
		t.Errorf("stock_trends = %d after re-ingest, want 2", counts["stock_trends"])
	}
}

func TestIngest_ReingestKeepsEntryPrice(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gen := &fakeVision{reply: `[{"ticker":"NVDA","sentiment":"Bullish","author":"UserA","post_time":"2026-01-01 18:00:00"}]`}
	img := llm.Image{MIMEType: "image/png", Data: pngHeader}

	first := New(gen, st, nil, WithClock(refNow), WithPriceSource(fakeQuotes{"NVDA": 186.5}))
	if _, err := first.Ingest(ctx, img); err != nil {
		t.Fatal(err)
	}
	// quote lookup fails, then a later quote arrives
	for _, quotes := range []fakeQuotes{{}, {"NVDA": 200}} {
		again := New(gen, st, nil, WithClock(refNow), WithPriceSource(quotes))
		if _, err := again.Ingest(ctx, img); err != nil {
			t.Fatal(err)
		}
		recent, err := st.RecentPosts(ctx, 0)
		if err != nil || len(recent) != 1 {
			t.Fatalf("posts = %v, %v", recent, err)
		}
		if e := recent[0].EntryPrice; e == nil || !e.Equal(decimal.RequireFromString("186.5")) {
			t.Errorf("entry after re-ingest with quotes %v = %v, want 186.5", quotes, e)
		}
	}
}

func TestIngest_ModelDown(t *testing.T) {
	in := New(&fakeVision{err: llm.ErrRateLimit}, newTestStore(t), nil)
	if _, err := in.Ingest(context.Background(), llm.Image{}); !errors.Is(err, llm.ErrRateLimit) {
		t.Fatalf("err = %v, want ErrRateLimit", err)
	}
}

func TestLoadImage(t *testing.T) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	img, err := LoadImage(dataURL)
	if err != nil {
		t.Fatalf("LoadImage(data URL): %v", err)
	}
	if img.MIMEType != "image/png" || len(img.Data) != len(pngHeader) {
		t.Errorf("image = %s, %d bytes", img.MIMEType, len(img.Data))
	}

	dir := t.TempDir()
	pngPath := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(pngPath, pngHeader, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadImage(pngPath); err != nil {
		t.Errorf("LoadImage(file): %v", err)
	}

	txtPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txtPath, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadImage(txtPath); !errors.Is(err, ErrNotImage) {
		t.Errorf("err = %v, want ErrNotImage", err)
	}
	if _, err := LoadImage("data:image/png;base64"); err == nil {
		t.Error("expected error for data URL without payload")
	}
	if _, err := LoadImage(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
}
