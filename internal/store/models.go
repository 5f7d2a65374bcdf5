package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Post scoring states.
const (
	StatusPending = "pending"
	StatusScored  = "scored"
)

// Post outcomes recorded when a post is scored.
const (
	OutcomeCorrect   = "correct"
	OutcomeIncorrect = "incorrect"
	OutcomeNeutral   = "neutral"
)

// TradeSuggestion is a directional option idea from one scan batch.
// Strike, entry price and expiration are always computed from the snapshot.
type TradeSuggestion struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Ticker          string          `gorm:"type:varchar(16);not null;index" json:"ticker"`
	Side            string          `gorm:"type:varchar(8);not null" json:"side"` // CALL or PUT
	SentimentScore  float64         `json:"sentiment_score"`
	NarrativeType   string          `gorm:"type:text" json:"narrative_type"`
	SuggestedStrike decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"suggested_strike"`
	EntryStockPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"entry_stock_price"`
	ExpirationDate  string          `gorm:"type:varchar(10);not null" json:"expiration_date"`
	RiskRewardRatio float64         `json:"risk_reward_ratio"`
	FinalScore      float64         `gorm:"index" json:"final_score"`
	ScanBatchAt     time.Time       `gorm:"not null;index" json:"scan_batch_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (TradeSuggestion) TableName() string { return "option_trades" }

// VolatilityAnalysis explains one of the most volatile tickers of a batch.
type VolatilityAnalysis struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Ticker      string          `gorm:"type:varchar(16);not null;index" json:"ticker"`
	Volatility  float64         `gorm:"not null" json:"volatility"` // percent
	Explanation string          `gorm:"type:text" json:"explanation"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2)" json:"price"`
	MarketCap   float64         `json:"market_cap"`
	ScanBatchAt time.Time       `gorm:"not null;index" json:"scan_batch_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (VolatilityAnalysis) TableName() string { return "volatility_analyses" }

// IncomeSuggestion is a cash-secured put idea.
type IncomeSuggestion struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Ticker          string          `gorm:"type:varchar(16);not null;index" json:"ticker"`
	CurrentPrice    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"current_price"`
	SuggestedStrike decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"suggested_strike"`
	ExpirationDate  string          `gorm:"type:varchar(10);not null" json:"expiration_date"`
	SafetyBufferPct float64         `json:"safety_buffer_pct"`
	Volatility      float64         `json:"volatility"`
	RiskExplanation string          `gorm:"type:text" json:"risk_explanation"`
	ScanBatchAt     time.Time       `gorm:"not null;index" json:"scan_batch_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (IncomeSuggestion) TableName() string { return "csp_suggestions" }

// SentimentPost is a social post about a ticker, keyed by its natural id.
type SentimentPost struct {
	ID             uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PostID         string           `gorm:"type:varchar(64);not null;uniqueIndex" json:"post_id"`
	Ticker         string           `gorm:"type:varchar(16);not null;index" json:"ticker"`
	Sentiment      string           `gorm:"type:varchar(8);not null" json:"sentiment"`
	Author         string           `gorm:"type:varchar(128);not null;index" json:"author"`
	PostTime       time.Time        `gorm:"not null;index" json:"post_time"`
	Source         string           `gorm:"type:varchar(32)" json:"source"`
	Summary        string           `gorm:"type:text" json:"summary,omitempty"`
	EntryPrice     *decimal.Decimal `gorm:"type:numeric(12,2)" json:"entry_price,omitempty"`
	Status         string           `gorm:"type:varchar(8);not null;default:pending;index" json:"status"`
	Outcome        string           `gorm:"type:varchar(10)" json:"outcome,omitempty"`
	PriceChangePct *float64         `json:"price_change_pct,omitempty"`
	ScoredAt       *time.Time       `json:"scored_at,omitempty"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (SentimentPost) TableName() string { return "stock_trends" }

// AuthorPerformance aggregates how often an author's calls were right.
// AccuracyRate is always 100 * CorrectPredictions / TotalPredictions.
type AuthorPerformance struct {
	Author             string    `gorm:"primaryKey;type:varchar(128)" json:"author"`
	TotalPredictions   int64     `gorm:"not null;default:0" json:"total_predictions"`
	CorrectPredictions int64     `gorm:"not null;default:0" json:"correct_predictions"`
	AccuracyRate       float64   `gorm:"not null;default:0" json:"accuracy_rate"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (AuthorPerformance) TableName() string { return "author_performance" }

// PriceTracking is the short-horizon check of a post against its entry price.
type PriceTracking struct {
	PostID       string          `gorm:"primaryKey;type:varchar(64)" json:"post_id"`
	Ticker       string          `gorm:"type:varchar(16);not null" json:"ticker"`
	EntryPrice   decimal.Decimal `gorm:"type:numeric(12,2)" json:"entry_price"`
	CurrentPrice decimal.Decimal `gorm:"type:numeric(12,2)" json:"current_price"`
	IsCorrect    bool            `json:"is_correct"`
	CheckedAt    time.Time       `json:"checked_at"`
}

func (PriceTracking) TableName() string { return "price_tracking" }

// WriteResult counts the outcome of a best-effort batch write.
type WriteResult struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

// Add merges another result into r.
func (r *WriteResult) Add(o WriteResult) {
	r.Written += o.Written
	r.Failed += o.Failed
}
