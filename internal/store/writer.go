package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InsertTrades writes trade suggestions one at a time. A failed row is
// rolled back, logged and skipped; the rest are still written.
func (s *Store) InsertTrades(ctx context.Context, rows []TradeSuggestion) WriteResult {
	return insertEach(ctx, s, "option_trades", rows, func(r *TradeSuggestion) string { return r.Ticker })
}

// InsertVolatility writes volatility analyses with per-row isolation.
func (s *Store) InsertVolatility(ctx context.Context, rows []VolatilityAnalysis) WriteResult {
	return insertEach(ctx, s, "volatility_analyses", rows, func(r *VolatilityAnalysis) string { return r.Ticker })
}

// InsertIncome writes cash-secured put suggestions with per-row isolation.
func (s *Store) InsertIncome(ctx context.Context, rows []IncomeSuggestion) WriteResult {
	return insertEach(ctx, s, "csp_suggestions", rows, func(r *IncomeSuggestion) string { return r.Ticker })
}

func insertEach[T any](ctx context.Context, s *Store, table string, rows []T, ticker func(*T) string) WriteResult {
	var res WriteResult
	for i := range rows {
		row := &rows[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(row).Error
		})
		if err != nil {
			res.Failed++
			s.log.Warn("record write failed, skipping",
				zap.String("table", table), zap.String("ticker", ticker(row)), zap.Error(err))
			if ctx.Err() != nil {
				res.Failed += len(rows) - i - 1
				break
			}
			continue
		}
		res.Written++
	}
	s.log.Info("batch written",
		zap.String("table", table), zap.Int("written", res.Written), zap.Int("failed", res.Failed))
	return res
}

// latestBatch returns the most recent scan_batch_at of model's table.
func (s *Store) latestBatch(ctx context.Context, model any) (time.Time, bool, error) {
	var rows []time.Time
	err := s.db.WithContext(ctx).Model(model).
		Order("scan_batch_at DESC").Limit(1).
		Pluck("scan_batch_at", &rows).Error
	if err != nil {
		return time.Time{}, false, err
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return rows[0], true, nil
}
