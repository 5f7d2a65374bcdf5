package scanner

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/seenimoa/stockpulse/internal/extract"
	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// Field aliases seen in model replies, first match wins.
var (
	tickerKeys      = []string{"ticker", "symbol"}
	directionKeys   = []string{"side", "direction", "option_type"}
	confidenceKeys  = []string{"sentiment_score", "confidence", "sentiment"}
	narrativeKeys   = []string{"narrative_type", "narrative", "reason"}
	riskRewardKeys  = []string{"risk_reward_ratio", "risk_reward", "rr"}
	scoreKeys       = []string{"final_score", "score"}
	explanationKeys = []string{"explanation", "risk_explanation", "driver"}
)

// NormalizeCandidates extracts trade ideas from a raw model reply. Entries
// without a ticker, with a ticker outside universe, with no recognizable
// direction, or whose risk/reward is reported below minRR are dropped.
// Price, strike and date fields in the reply are ignored. A reply with no
// usable JSON returns an *extract.ParseError.
func NormalizeCandidates(raw string, universe []string, minRR float64) ([]models.CandidateIdea, error) {
	return normalizeIdeas(raw, universe, minRR, true)
}

// NormalizeSelections is NormalizeCandidates for replies that only pick
// tickers (volatility and income scans); direction is optional.
func NormalizeSelections(raw string, universe []string) ([]models.CandidateIdea, error) {
	return normalizeIdeas(raw, universe, 0, false)
}

func normalizeIdeas(raw string, universe []string, minRR float64, requireDirection bool) ([]models.CandidateIdea, error) {
	records, err := extract.JSON(raw)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(universe))
	for _, t := range universe {
		allowed[utils.NormalizeTicker(t)] = true
	}

	seen := make(map[string]bool)
	out := make([]models.CandidateIdea, 0, len(records))
	for _, rec := range records {
		ticker := utils.NormalizeTicker(stringField(rec, tickerKeys))
		if ticker == "" || !allowed[ticker] || seen[ticker] {
			continue
		}

		idea := models.CandidateIdea{
			Ticker:      ticker,
			Narrative:   stringField(rec, narrativeKeys),
			Explanation: stringField(rec, explanationKeys),
		}

		if d, ok := models.ParseDirection(stringField(rec, directionKeys)); ok {
			idea.Direction = d
		} else if requireDirection {
			continue
		}

		if c, ok := numberField(rec, confidenceKeys); ok {
			idea.Confidence = clamp(c, -1, 1)
		}
		if rr, ok := numberField(rec, riskRewardKeys); ok {
			if rr < minRR {
				continue
			}
			idea.RiskReward = rr
			idea.HasRiskReward = true
		}
		if s, ok := numberField(rec, scoreKeys); ok {
			idea.Score = s
		}

		seen[ticker] = true
		out = append(out, idea)
	}
	return out, nil
}

func stringField(rec map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return s
			}
		case float64, bool:
			return fmt.Sprint(x)
		}
	}
	return ""
}

// numberField accepts JSON numbers and numeric strings such as "2.5",
// "1:3" or "85%".
func numberField(rec map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case float64:
			if !math.IsNaN(x) && !math.IsInf(x, 0) {
				return x, true
			}
		case string:
			if f, ok := parseNumber(x); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	// "1:3" risk/reward notation
	if a, b, ok := strings.Cut(s, ":"); ok {
		num, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
		den, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if err1 != nil || err2 != nil || num == 0 {
			return 0, false
		}
		return den / num, true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
