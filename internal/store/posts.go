package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertPost inserts a post or refreshes the mutable fields of an existing
// one with the same post_id. Scoring state is never reset, and the first
// captured entry price is kept.
func (s *Store) UpsertPost(ctx context.Context, p *SentimentPost) error {
	if p.Status == "" {
		p.Status = StatusPending
	}
	// Post times are stored in UTC at second precision.
	p.PostTime = p.PostTime.UTC().Truncate(time.Second)
	updates := append(
		clause.AssignmentColumns([]string{"ticker", "sentiment", "author", "post_time", "source", "summary"}),
		clause.Assignment{
			Column: clause.Column{Name: "entry_price"},
			Value:  gorm.Expr("COALESCE(stock_trends.entry_price, excluded.entry_price)"),
		},
	)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}},
		DoUpdates: updates,
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("store: upsert post %s: %w", p.PostID, err)
	}
	return nil
}

// PendingPosts returns unscored posts whose post_time lies between
// now-maxAge and now-minAge, oldest first.
func (s *Store) PendingPosts(ctx context.Context, now time.Time, minAge, maxAge time.Duration) ([]SentimentPost, error) {
	now = now.UTC().Truncate(time.Second)
	var posts []SentimentPost
	err := s.db.WithContext(ctx).
		Where("status = ? AND post_time >= ? AND post_time <= ?", StatusPending, now.Add(-maxAge), now.Add(-minAge)).
		Order("post_time ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("store: pending posts: %w", err)
	}
	return posts, nil
}

// Outcome is the evaluated result of one post.
type Outcome struct {
	PostID         string
	Author         string
	Counted        bool // false for neutral posts: marked scored, author untouched
	Correct        bool
	PriceChangePct float64
}

// RecordOutcome marks a pending post scored and folds the result into the
// author's counters in one transaction. It reports applied=false when the
// post was already scored, in which case nothing changes.
func (s *Store) RecordOutcome(ctx context.Context, o Outcome) (perf *AuthorPerformance, applied bool, err error) {
	now := s.now().UTC()
	outcome := OutcomeNeutral
	if o.Counted {
		outcome = OutcomeIncorrect
		if o.Correct {
			outcome = OutcomeCorrect
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		change := o.PriceChangePct
		res := tx.Model(&SentimentPost{}).
			Where("post_id = ? AND status = ?", o.PostID, StatusPending).
			Updates(map[string]any{
				"status":           StatusScored,
				"outcome":          outcome,
				"price_change_pct": &change,
				"scored_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		if !o.Counted {
			return nil
		}

		var inc int64
		if o.Correct {
			inc = 1
		}
		row := AuthorPerformance{
			Author:             o.Author,
			TotalPredictions:   1,
			CorrectPredictions: inc,
			AccuracyRate:       accuracyRate(inc, 1),
			UpdatedAt:          now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "author"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_predictions":   gorm.Expr("author_performance.total_predictions + 1"),
				"correct_predictions": gorm.Expr("author_performance.correct_predictions + ?", inc),
				"updated_at":          now,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		var cur AuthorPerformance
		if err := tx.Where("author = ?", o.Author).First(&cur).Error; err != nil {
			return err
		}
		cur.AccuracyRate = accuracyRate(cur.CorrectPredictions, cur.TotalPredictions)
		if err := tx.Model(&cur).Update("accuracy_rate", cur.AccuracyRate).Error; err != nil {
			return err
		}
		perf = &cur
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: record outcome %s: %w", o.PostID, err)
	}
	return perf, applied, nil
}

// accuracyRate is 100*correct/total rounded to two places.
func accuracyRate(correct, total int64) float64 {
	if total <= 0 {
		return 0
	}
	r, _ := decimal.NewFromInt(correct * 100).
		DivRound(decimal.NewFromInt(total), 2).
		Float64()
	return r
}

// Author returns the aggregate row for author.
func (s *Store) Author(ctx context.Context, author string) (*AuthorPerformance, error) {
	var p AuthorPerformance
	if err := s.db.WithContext(ctx).Where("author = ?", author).First(&p).Error; err != nil {
		return nil, fmt.Errorf("store: author %q: %w", author, err)
	}
	return &p, nil
}

// PostsWithEntryPrice returns posts since the given time that captured an
// entry price, newest first.
func (s *Store) PostsWithEntryPrice(ctx context.Context, since time.Time) ([]SentimentPost, error) {
	var posts []SentimentPost
	err := s.db.WithContext(ctx).
		Where("entry_price IS NOT NULL AND post_time >= ?", since.UTC().Truncate(time.Second)).
		Order("post_time DESC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("store: posts with entry price: %w", err)
	}
	return posts, nil
}

// UpsertTracking stores the latest verification of a post.
func (s *Store) UpsertTracking(ctx context.Context, t *PriceTracking) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_price", "is_correct", "checked_at"}),
	}).Create(t).Error
	if err != nil {
		return fmt.Errorf("store: upsert tracking %s: %w", t.PostID, err)
	}
	return nil
}
