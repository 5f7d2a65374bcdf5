package store

import (
	"context"
	"fmt"
	"time"
)

// LatestTrades returns the newest batch of trade suggestions, best first.
func (s *Store) LatestTrades(ctx context.Context, limit int) ([]TradeSuggestion, error) {
	var rows []TradeSuggestion
	if err := s.latest(ctx, &TradeSuggestion{}, "final_score DESC", limit, &rows); err != nil {
		return nil, fmt.Errorf("store: latest trades: %w", err)
	}
	return rows, nil
}

// LatestVolatility returns the newest batch of volatility analyses.
func (s *Store) LatestVolatility(ctx context.Context, limit int) ([]VolatilityAnalysis, error) {
	var rows []VolatilityAnalysis
	if err := s.latest(ctx, &VolatilityAnalysis{}, "volatility DESC", limit, &rows); err != nil {
		return nil, fmt.Errorf("store: latest volatility: %w", err)
	}
	return rows, nil
}

// LatestIncome returns the newest batch of cash-secured put suggestions.
func (s *Store) LatestIncome(ctx context.Context, limit int) ([]IncomeSuggestion, error) {
	var rows []IncomeSuggestion
	if err := s.latest(ctx, &IncomeSuggestion{}, "safety_buffer_pct DESC", limit, &rows); err != nil {
		return nil, fmt.Errorf("store: latest income: %w", err)
	}
	return rows, nil
}

func (s *Store) latest(ctx context.Context, model any, order string, limit int, dest any) error {
	at, ok, err := s.latestBatch(ctx, model)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	q := s.db.WithContext(ctx).Model(model).Where("scan_batch_at >= ?", at).Order(order).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q.Find(dest).Error
}

// Leaderboard returns authors ordered by accuracy, then volume of calls.
func (s *Store) Leaderboard(ctx context.Context, minTotal int64, limit int) ([]AuthorPerformance, error) {
	var rows []AuthorPerformance
	q := s.db.WithContext(ctx).
		Where("total_predictions >= ?", minTotal).
		Order("accuracy_rate DESC").Order("total_predictions DESC").Order("author ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: leaderboard: %w", err)
	}
	return rows, nil
}

// TickerMentions counts posts per ticker and sentiment.
type TickerMentions struct {
	Ticker   string `json:"ticker"`
	Mentions int64  `json:"mentions"`
	Bullish  int64  `json:"bullish"`
	Bearish  int64  `json:"bearish"`
}

// HotTickers returns the most mentioned tickers since the given time.
func (s *Store) HotTickers(ctx context.Context, since time.Time, limit int) ([]TickerMentions, error) {
	var rows []TickerMentions
	q := s.db.WithContext(ctx).Model(&SentimentPost{}).
		Select(`ticker,
			COUNT(*) AS mentions,
			SUM(CASE WHEN sentiment = 'Bullish' THEN 1 ELSE 0 END) AS bullish,
			SUM(CASE WHEN sentiment = 'Bearish' THEN 1 ELSE 0 END) AS bearish`).
		Where("post_time >= ?", since.UTC().Truncate(time.Second)).
		Group("ticker").
		Order("mentions DESC").Order("ticker ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: hot tickers: %w", err)
	}
	return rows, nil
}

// RecentPosts returns the newest ingested posts.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]SentimentPost, error) {
	var rows []SentimentPost
	q := s.db.WithContext(ctx).Order("post_time DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: recent posts: %w", err)
	}
	return rows, nil
}

// Counts reports the number of rows per table.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	models := []struct {
		name  string
		model any
	}{
		{"option_trades", &TradeSuggestion{}},
		{"volatility_analyses", &VolatilityAnalysis{}},
		{"csp_suggestions", &IncomeSuggestion{}},
		{"stock_trends", &SentimentPost{}},
		{"author_performance", &AuthorPerformance{}},
		{"price_tracking", &PriceTracking{}},
	}
	out := make(map[string]int64, len(models))
	for _, m := range models {
		var n int64
		if err := s.db.WithContext(ctx).Model(m.model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("store: count %s: %w", m.name, err)
		}
		out[m.name] = n
	}
	return out, nil
}

// LatestBatches returns the newest scan_batch_at per scan table. Tables
// with no rows are absent.
func (s *Store) LatestBatches(ctx context.Context) (map[string]time.Time, error) {
	tables := []struct {
		name  string
		model any
	}{
		{"option_trades", &TradeSuggestion{}},
		{"volatility_analyses", &VolatilityAnalysis{}},
		{"csp_suggestions", &IncomeSuggestion{}},
	}
	out := make(map[string]time.Time, len(tables))
	for _, t := range tables {
		at, ok, err := s.latestBatch(ctx, t.model)
		if err != nil {
			return nil, fmt.Errorf("store: latest batch %s: %w", t.name, err)
		}
		if ok {
			out[t.name] = at
		}
	}
	return out, nil
}
