// Package ingest turns social-media screenshots into sentiment posts and
// checks captured posts against the current price.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seenimoa/stockpulse/internal/datasource"
	"github.com/seenimoa/stockpulse/internal/extract"
	"github.com/seenimoa/stockpulse/internal/llm"
	"github.com/seenimoa/stockpulse/internal/store"
	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

const (
	// SourceExtension tags posts captured by the browser extension.
	SourceExtension = "ChromeExtension"
	// UnknownAuthor is used when the screenshot shows no user name.
	UnknownAuthor = "Unknown"
	// TimeLayout is the post_time format requested from the model.
	TimeLayout = "2006-01-02 15:04:05"
)

var (
	ErrNotImage = errors.New("ingest: not an image")

	postNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/seenimoa/stockpulse/posts"))

	postTimeLayouts = []string{TimeLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", utils.DateLayout}
)

// Result reports what one screenshot produced.
type Result struct {
	Posts   []store.SentimentPost `json:"posts"`
	Written int                   `json:"written"`
	Failed  int                   `json:"failed"`
}

// Ingestor extracts posts from screenshots with a vision model.
type Ingestor struct {
	gen   llm.TextGenerator
	src   datasource.MarketDataSource
	store *store.Store
	chat  *llm.ChatOptions
	log   *zap.Logger
	now   func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock overrides the reference time sent to the model.
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

// WithChatOptions sets the model options used for extraction.
func WithChatOptions(o *llm.ChatOptions) Option {
	return func(in *Ingestor) { in.chat = o }
}

// WithPriceSource captures an entry price for each post from src.
func WithPriceSource(src datasource.MarketDataSource) Option {
	return func(in *Ingestor) { in.src = src }
}

// New creates an Ingestor.
func New(gen llm.TextGenerator, st *store.Store, log *zap.Logger, opts ...Option) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	in := &Ingestor{gen: gen, store: st, chat: &llm.ChatOptions{}, log: log, now: time.Now}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest reads one screenshot and upserts every post found in it.
func (in *Ingestor) Ingest(ctx context.Context, img llm.Image) (*Result, error) {
	now := in.now()
	resp, err := in.gen.Chat(ctx, []llm.Message{
		llm.UserImageMessage(BuildVisionPrompt(now), img),
	}, in.chat)
	if err != nil {
		return nil, fmt.Errorf("ingest: vision model: %w", err)
	}

	posts, err := ParsePosts(resp.Content, now)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for i := range posts {
		p := &posts[i]
		in.captureEntry(ctx, p)
		if err := in.store.UpsertPost(ctx, p); err != nil {
			in.log.Warn("post write failed", zap.String("ticker", p.Ticker), zap.Error(err))
			res.Failed++
			continue
		}
		res.Written++
		in.log.Info("post recorded",
			zap.String("post_id", p.PostID), zap.String("author", p.Author),
			zap.String("ticker", p.Ticker), zap.String("sentiment", p.Sentiment))
	}
	res.Posts = posts
	return res, nil
}

func (in *Ingestor) captureEntry(ctx context.Context, p *store.SentimentPost) {
	if in.src == nil {
		return
	}
	q, err := in.src.GetQuote(ctx, p.Ticker)
	if err != nil || q.LastPrice <= 0 {
		in.log.Debug("no entry price", zap.String("ticker", p.Ticker), zap.Error(err))
		return
	}
	price := decimalPrice(q.LastPrice)
	p.EntryPrice = &price
}

// BuildVisionPrompt asks for every ticker call visible in a screenshot.
// The reference time lets the model resolve relative stamps like "2h ago".
func BuildVisionPrompt(now time.Time) string {
	ref := now.In(utils.Eastern).Format(TimeLayout)
	var b strings.Builder
	b.WriteString("You extract stock calls from social media screenshots (Reddit, X, Xiaohongshu).\n")
	fmt.Fprintf(&b, "The current reference time is %s US/Eastern.\n\n", ref)
	b.WriteString("For every post in the screenshot return:\n")
	b.WriteString("1. ticker: the stock symbol mentioned\n")
	b.WriteString("2. sentiment: Bullish, Bearish or Neutral\n")
	b.WriteString("3. author: the user name, or Unknown if none is visible\n")
	b.WriteString("4. post_time: when it was posted as YYYY-MM-DD HH:MM:SS; convert relative times such as '2h ago' using the reference time\n")
	b.WriteString("5. summary: one short sentence on the thesis\n\n")
	b.WriteString("Return ONLY a JSON array without markdown, e.g.\n")
	b.WriteString(`[{"ticker":"NVDA","sentiment":"Bullish","author":"UserA","post_time":"2026-01-01 18:00:00","summary":"Expects data center beat."}]`)
	b.WriteString("\n")
	return b.String()
}

// ParsePosts validates the model reply. Entries without a ticker are
// dropped. Missing or unreadable post times fall back to now, as do times
// in the future.
func ParsePosts(raw string, now time.Time) ([]store.SentimentPost, error) {
	records, err := extract.JSON(raw)
	if err != nil {
		return nil, err
	}

	out := make([]store.SentimentPost, 0, len(records))
	seen := make(map[string]bool)
	for _, rec := range records {
		ticker := utils.NormalizeTicker(str(rec, "ticker", "symbol"))
		if ticker == "" {
			continue
		}
		author := str(rec, "author", "user", "username")
		if author == "" {
			author = UnknownAuthor
		}
		at := parsePostTime(str(rec, "post_time", "time"), now)

		id := PostID(author, ticker, at)
		if seen[id] {
			continue
		}
		seen[id] = true

		out = append(out, store.SentimentPost{
			PostID:    id,
			Ticker:    ticker,
			Sentiment: string(models.ParseSentiment(str(rec, "sentiment"))),
			Author:    author,
			PostTime:  at,
			Source:    SourceExtension,
			Summary:   str(rec, "summary", "reason"),
			Status:    store.StatusPending,
		})
	}
	return out, nil
}

// PostID is the natural key of a post. The same author, ticker and post
// time always map to the same id.
func PostID(author, ticker string, at time.Time) string {
	key := strings.Join([]string{author, ticker, at.UTC().Truncate(time.Second).Format(time.RFC3339)}, "|")
	return uuid.NewSHA1(postNamespace, []byte(key)).String()
}

func parsePostTime(s string, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Second)
	if s == "" {
		return now
	}
	for _, layout := range postTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, utils.Eastern); err == nil {
			t = t.UTC()
			if t.After(now) {
				return now
			}
			return t
		}
	}
	return now
}

func str(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// LoadImage reads a screenshot from a file path or a data: URL.
func LoadImage(ref string) (llm.Image, error) {
	var data []byte
	if rest, ok := strings.CutPrefix(ref, "data:"); ok {
		_, payload, found := strings.Cut(rest, ",")
		if !found {
			return llm.Image{}, errors.New("ingest: malformed data URL")
		}
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return llm.Image{}, fmt.Errorf("ingest: decode data URL: %w", err)
		}
		data = b
	} else {
		b, err := os.ReadFile(ref)
		if err != nil {
			return llm.Image{}, fmt.Errorf("ingest: read image: %w", err)
		}
		data = b
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return llm.Image{}, fmt.Errorf("%w: detected %s", ErrNotImage, mime)
	}
	return llm.Image{MIMEType: mime, Data: data}, nil
}
