package utils

import (
	"strings"
)

// NormalizeTicker normalizes a user or model supplied symbol to canonical
// upper-case form. It strips whitespace and the cashtag "$" prefix.
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(strings.ToUpper(ticker))
	ticker = strings.TrimPrefix(ticker, "$")
	return strings.TrimSpace(ticker)
}

// NormalizeTickers normalizes every symbol, dropping empties and duplicates
// while preserving first-seen order.
func NormalizeTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		n := NormalizeTicker(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
