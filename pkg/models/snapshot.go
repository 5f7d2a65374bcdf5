package models

import "time"

// MarketSnapshot is the per-ticker market state gathered at scan time.
type MarketSnapshot struct {
	Ticker     string     `json:"ticker"`
	Price      float64    `json:"price"`
	Volatility float64    `json:"volatility"` // mean ATM implied volatility, percent; 0 = unknown
	Headlines  []Headline `json:"headlines,omitempty"`
	MarketCap  float64    `json:"market_cap"`
	Expiries   []string   `json:"expiries,omitempty"` // listed option expirations, ascending
	SMA        float64    `json:"sma,omitempty"`      // moving average of daily closes; 0 = unknown
	RSI        float64    `json:"rsi,omitempty"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// VolatilityKnown reports whether a liquidity-filtered estimate exists.
func (s MarketSnapshot) VolatilityKnown() bool {
	return s.Volatility > 0
}

// TrendKnown reports whether daily candles produced a moving average.
func (s MarketSnapshot) TrendKnown() bool {
	return s.SMA > 0
}
