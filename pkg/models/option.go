package models

import "time"

// Option contract sides.
const (
	Call = "C"
	Put  = "P"
)

// OptionChain represents the listed contracts for a ticker on one expiry date.
type OptionChain struct {
	Ticker     string           `json:"ticker"`
	SpotPrice  float64          `json:"spot_price"`
	ExpiryDate string           `json:"expiry_date"` // "2006-01-02"
	Expiries   []string         `json:"expiries"`    // all listed expiry dates, ascending
	Contracts  []OptionContract `json:"contracts"`
	FetchedAt  time.Time        `json:"fetched_at"`
}

// OptionContract represents a single call or put at a strike.
type OptionContract struct {
	Symbol      string  `json:"symbol,omitempty"`
	StrikePrice float64 `json:"strike_price"`
	OptionType  string  `json:"option_type"` // "C" or "P"
	ExpiryDate  string  `json:"expiry_date"`
	LastPrice   float64 `json:"last_price"`
	Volume      int64   `json:"volume"`
	OpenInt     int64   `json:"open_interest"`
	BidPrice    float64 `json:"bid_price"`
	AskPrice    float64 `json:"ask_price"`
	IV          float64 `json:"iv"` // implied volatility, percent
}

// Spread returns ask minus bid. Contracts missing either side report -1.
func (c OptionContract) Spread() float64 {
	if c.BidPrice <= 0 || c.AskPrice <= 0 || c.AskPrice < c.BidPrice {
		return -1
	}
	return c.AskPrice - c.BidPrice
}

// Liquid reports whether the contract traded today and quotes a two-sided
// market tighter than maxSpread.
func (c OptionContract) Liquid(maxSpread float64) bool {
	s := c.Spread()
	return c.Volume > 0 && s >= 0 && s < maxSpread
}
