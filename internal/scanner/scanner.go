// Package scanner runs the scan pipelines: watchlist, market snapshots,
// prompt, model scoring, normalization, derived fields and persistence.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/datasource"
	"github.com/seenimoa/stockpulse/internal/llm"
	"github.com/seenimoa/stockpulse/internal/store"
	"github.com/seenimoa/stockpulse/pkg/models"
)

// Fatal run errors.
var (
	ErrNoSnapshots = errors.New("scanner: no usable market snapshots")
	ErrWriteFailed = errors.New("scanner: every record write failed")
)

const systemPrompt = "You are a disciplined options analyst. Answer with JSON only."

// Result summarizes one pipeline run.
type Result struct {
	Batch      Batch                  `json:"-"`
	BatchAt    time.Time              `json:"scan_batch_at"`
	Snapshots  int                    `json:"snapshots"`
	Skipped    []string               `json:"skipped,omitempty"`
	Candidates []models.CandidateIdea `json:"candidates"`
	Write      store.WriteResult      `json:"write"`
	Usage      llm.Usage              `json:"usage"`

	snaps []*models.MarketSnapshot
}

// Scanner wires the pipeline collaborators.
type Scanner struct {
	fetcher  *datasource.Fetcher
	gen      llm.TextGenerator
	store    *store.Store
	cfg      config.ScannerConfig
	chat     *llm.ChatOptions
	protocol Protocol
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithClock overrides the time source used to stamp batches.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// WithChatOptions sets the options passed on every model call.
func WithChatOptions(o *llm.ChatOptions) Option {
	return func(s *Scanner) { s.chat = o }
}

// New creates a Scanner.
func New(cfg config.ScannerConfig, fetcher *datasource.Fetcher, gen llm.TextGenerator, st *store.Store, log *zap.Logger, opts ...Option) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	p := DefaultProtocol
	if cfg.MinRiskReward > 0 {
		p.MinRiskReward = cfg.MinRiskReward
	}
	s := &Scanner{
		fetcher:  fetcher,
		gen:      gen,
		store:    st,
		cfg:      cfg,
		chat:     &llm.ChatOptions{},
		protocol: p,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTrades runs the directional options-flow scan.
func (s *Scanner) RunTrades(ctx context.Context) (*Result, error) {
	res, err := s.begin(ctx, "trades")
	if err != nil {
		return nil, err
	}

	raw, err := s.score(ctx, BuildTradePrompt(res.snaps, s.protocol), res)
	if err != nil {
		return nil, err
	}

	ideas, err := NormalizeCandidates(raw, universe(res.snaps), s.protocol.MinRiskReward)
	if err != nil {
		s.log.Warn("unusable model reply, no candidates", zap.Error(err))
	}
	res.Candidates = ideas

	bySymbol := index(res.snaps)
	expiry := DirectionalExpiry(res.Batch)
	rows := make([]store.TradeSuggestion, 0, len(ideas))
	for _, idea := range ideas {
		snap := bySymbol[idea.Ticker]
		rows = append(rows, store.TradeSuggestion{
			Ticker:          idea.Ticker,
			Side:            idea.Direction.Side(),
			SentimentScore:  idea.Confidence,
			NarrativeType:   idea.Narrative,
			SuggestedStrike: SuggestedStrike(snap.Price, idea.Direction),
			EntryStockPrice: EntryPrice(snap.Price),
			ExpirationDate:  expiry,
			RiskRewardRatio: idea.RiskReward,
			FinalScore:      idea.Score,
			ScanBatchAt:     res.Batch.At,
		})
	}

	res.Write = s.store.InsertTrades(ctx, rows)
	return s.finish(res)
}

// RunVolatility stores the most volatile tickers of the watchlist with a
// short explanation of the driver. Tickers with unknown volatility never
// rank.
func (s *Scanner) RunVolatility(ctx context.Context) (*Result, error) {
	res, err := s.begin(ctx, "volatility")
	if err != nil {
		return nil, err
	}

	ranked := RankByVolatility(res.snaps, s.cfg.VolatilityTopN)
	if len(ranked) == 0 {
		s.log.Warn("no ticker has a volatility estimate")
		return s.finish(res)
	}

	explanations := map[string]string{}
	if s.cfg.ExplainVolatile {
		raw, err := s.score(ctx, BuildVolatilityPrompt(ranked), res)
		if err != nil {
			return nil, err
		}
		ideas, err := NormalizeSelections(raw, universe(ranked))
		if err != nil {
			s.log.Warn("unusable model reply, storing without explanations", zap.Error(err))
		}
		for _, idea := range ideas {
			explanations[idea.Ticker] = firstNonEmpty(idea.Explanation, idea.Narrative)
		}
		res.Candidates = ideas
	}

	rows := make([]store.VolatilityAnalysis, 0, len(ranked))
	for _, snap := range ranked {
		rows = append(rows, store.VolatilityAnalysis{
			Ticker:      snap.Ticker,
			Volatility:  snap.Volatility,
			Explanation: explanations[snap.Ticker],
			Price:       EntryPrice(snap.Price),
			MarketCap:   snap.MarketCap,
			ScanBatchAt: res.Batch.At,
		})
	}

	res.Write = s.store.InsertVolatility(ctx, rows)
	return s.finish(res)
}

// RunIncome runs the cash-secured put scan.
func (s *Scanner) RunIncome(ctx context.Context) (*Result, error) {
	res, err := s.begin(ctx, "income")
	if err != nil {
		return nil, err
	}

	known := make([]*models.MarketSnapshot, 0, len(res.snaps))
	for _, snap := range res.snaps {
		if snap.VolatilityKnown() {
			known = append(known, snap)
		}
	}
	if len(known) == 0 {
		s.log.Warn("no ticker has a volatility estimate")
		return s.finish(res)
	}

	maxIdeas := s.cfg.IncomeMaxIdeas
	if maxIdeas <= 0 {
		maxIdeas = 5
	}
	raw, err := s.score(ctx, BuildIncomePrompt(known, maxIdeas), res)
	if err != nil {
		return nil, err
	}
	ideas, err := NormalizeSelections(raw, universe(known))
	if err != nil {
		s.log.Warn("unusable model reply, no candidates", zap.Error(err))
	}
	if len(ideas) > maxIdeas {
		ideas = ideas[:maxIdeas]
	}
	res.Candidates = ideas

	bySymbol := index(known)
	rows := make([]store.IncomeSuggestion, 0, len(ideas))
	for _, idea := range ideas {
		snap := bySymbol[idea.Ticker]
		expiry, err := IncomeExpiry(snap.Expiries, res.Batch)
		if err != nil {
			s.log.Info("skipping income idea", zap.String("ticker", idea.Ticker), zap.Error(err))
			continue
		}
		price := EntryPrice(snap.Price)
		strike := IncomeStrike(snap.Price)
		rows = append(rows, store.IncomeSuggestion{
			Ticker:          idea.Ticker,
			CurrentPrice:    price,
			SuggestedStrike: strike,
			ExpirationDate:  expiry,
			SafetyBufferPct: SafetyBufferPct(price, strike),
			Volatility:      snap.Volatility,
			RiskExplanation: firstNonEmpty(idea.Explanation, idea.Narrative),
			ScanBatchAt:     res.Batch.At,
		})
	}

	res.Write = s.store.InsertIncome(ctx, rows)
	return s.finish(res)
}

// begin checks the store, stamps the batch and gathers snapshots.
func (s *Scanner) begin(ctx context.Context, kind string) (*Result, error) {
	tickers, err := LoadWatchlist(s.cfg)
	if err != nil {
		return nil, err
	}
	if err := s.store.Ping(ctx); err != nil {
		return nil, err
	}

	batch := NewBatch(s.now())
	s.log.Info("scan started",
		zap.String("kind", kind), zap.Time("batch", batch.At), zap.Int("tickers", len(tickers)))

	snaps, failed, err := s.fetcher.SnapshotAll(ctx, tickers, batch.At)
	if err != nil {
		return nil, fmt.Errorf("scanner: fetch snapshots: %w", err)
	}
	res := &Result{Batch: batch, BatchAt: batch.At, Snapshots: len(snaps), snaps: snaps}
	for _, f := range failed {
		res.Skipped = append(res.Skipped, f.Ticker)
	}
	if len(snaps) == 0 {
		return nil, ErrNoSnapshots
	}
	return res, nil
}

func (s *Scanner) score(ctx context.Context, prompt string, res *Result) (string, error) {
	resp, err := s.gen.Chat(ctx, []llm.Message{
		llm.SystemMessage(systemPrompt),
		llm.UserMessage(prompt),
	}, s.chat)
	if err != nil {
		return "", fmt.Errorf("scanner: score batch: %w", err)
	}
	res.Usage = resp.Usage
	s.log.Debug("model replied", zap.String("provider", resp.Provider), zap.String("model", resp.Model),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return resp.Content, nil
}

func (s *Scanner) finish(res *Result) (*Result, error) {
	s.log.Info("scan finished",
		zap.Time("batch", res.Batch.At),
		zap.Int("snapshots", res.Snapshots),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("written", res.Write.Written),
		zap.Int("failed", res.Write.Failed))
	if res.Write.Failed > 0 && res.Write.Written == 0 {
		return res, ErrWriteFailed
	}
	return res, nil
}

// RankByVolatility returns up to n snapshots with known volatility, highest
// first. Ties order by ticker.
func RankByVolatility(snaps []*models.MarketSnapshot, n int) []*models.MarketSnapshot {
	out := make([]*models.MarketSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.VolatilityKnown() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Volatility != out[j].Volatility {
			return out[i].Volatility > out[j].Volatility
		}
		return out[i].Ticker < out[j].Ticker
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func universe(snaps []*models.MarketSnapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.Ticker
	}
	return out
}

func index(snaps []*models.MarketSnapshot) map[string]*models.MarketSnapshot {
	m := make(map[string]*models.MarketSnapshot, len(snaps))
	for _, s := range snaps {
		m[s.Ticker] = s
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
