package models

import "strings"

// Direction is the market view of a trade idea.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Side returns the option side that expresses the direction.
func (d Direction) Side() string {
	if d == Bearish {
		return "PUT"
	}
	return "CALL"
}

// ParseDirection maps the vocabulary models and posts use for a view onto
// a Direction. Unrecognized values report false.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "calls", "bullish", "bull", "buy", "long", "up":
		return Bullish, true
	case "put", "puts", "bearish", "bear", "sell", "short", "down":
		return Bearish, true
	}
	return "", false
}

// Sentiment is the stance of an ingested social post.
type Sentiment string

const (
	SentimentBullish Sentiment = "Bullish"
	SentimentBearish Sentiment = "Bearish"
	SentimentNeutral Sentiment = "Neutral"
)

// ParseSentiment normalizes free-form sentiment text. Anything that is not
// clearly directional is Neutral.
func ParseSentiment(s string) Sentiment {
	d, ok := ParseDirection(s)
	switch {
	case !ok:
		return SentimentNeutral
	case d == Bullish:
		return SentimentBullish
	default:
		return SentimentBearish
	}
}

// Direction returns the directional view of a post, false for Neutral.
func (s Sentiment) Direction() (Direction, bool) {
	switch s {
	case SentimentBullish:
		return Bullish, true
	case SentimentBearish:
		return Bearish, true
	}
	return "", false
}

// CandidateIdea is a validated selection returned by the model. It never
// carries prices, strikes or dates; those are derived from snapshots.
type CandidateIdea struct {
	Ticker        string    `json:"ticker"`
	Direction     Direction `json:"direction,omitempty"`
	Narrative     string    `json:"narrative,omitempty"`
	Confidence    float64   `json:"confidence"` // sentiment score in [-1, 1]
	RiskReward    float64   `json:"risk_reward,omitempty"`
	HasRiskReward bool      `json:"-"`
	Score         float64   `json:"score,omitempty"`
	Explanation   string    `json:"explanation,omitempty"`
}
