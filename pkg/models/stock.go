// Package models defines the core data structures used throughout stockpulse.
package models

import "time"

// OHLCV represents a single daily candlestick bar of price data.
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Quote represents a latest-price stock quote.
type Quote struct {
	Ticker    string    `json:"ticker"`
	Name      string    `json:"name,omitempty"`
	LastPrice float64   `json:"last_price"`
	PrevClose float64   `json:"prev_close,omitempty"`
	MarketCap float64   `json:"market_cap"` // USD, 0 when the provider does not report it
	Timestamp time.Time `json:"timestamp"`
}

// Headline is a recent news item for a ticker.
type Headline struct {
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
