// Package utils provides common utility functions for stockpulse.
package utils

import (
	"fmt"
	"math"
)

// FormatUSDCompact formats a dollar amount in compact notation.
// e.g., 3.2e12 → "$3.20T", 45_600_000 → "$45.60M". Zero renders as "n/a".
func FormatUSDCompact(amount float64) string {
	if amount == 0 {
		return "n/a"
	}
	prefix := "$"
	if amount < 0 {
		prefix = "-$"
	}
	a := math.Abs(amount)
	switch {
	case a >= 1e12:
		return fmt.Sprintf("%s%.2fT", prefix, a/1e12)
	case a >= 1e9:
		return fmt.Sprintf("%s%.2fB", prefix, a/1e9)
	case a >= 1e6:
		return fmt.Sprintf("%s%.2fM", prefix, a/1e6)
	case a >= 1e3:
		return fmt.Sprintf("%s%.2fK", prefix, a/1e3)
	default:
		return fmt.Sprintf("%s%.2f", prefix, a)
	}
}

// FormatPct formats a percentage value with sign and suffix.
// e.g., 2.45 → "+2.45%", -1.23 → "-1.23%"
func FormatPct(pct float64) string {
	if pct >= 0 {
		return fmt.Sprintf("+%.2f%%", pct)
	}
	return fmt.Sprintf("%.2f%%", pct)
}
