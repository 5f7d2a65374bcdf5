package datasource

import (
	"math"
	"sort"
	"time"

	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// VolatilityParams controls the at-the-money implied volatility estimate.
type VolatilityParams struct {
	MinDaysToExpiry int     // expiries at or inside this many days are skipped
	MaxSpread       float64 // absolute bid-ask ceiling in dollars
	ATMContracts    int     // contracts nearest the spot averaged
}

// DefaultVolatilityParams matches the shipped configuration.
var DefaultVolatilityParams = VolatilityParams{MinDaysToExpiry: 7, MaxSpread: 0.50, ATMContracts: 6}

// SelectExpiry returns the nearest expiry more than minDays calendar days
// after now, or "" when none qualifies. expiries must be ascending.
func SelectExpiry(expiries []string, now time.Time, minDays int) string {
	for _, e := range expiries {
		d, err := utils.ParseDate(e)
		if err != nil {
			continue
		}
		if utils.DaysBetween(now, d) > minDays {
			return e
		}
	}
	return ""
}

// EstimateVolatility averages the implied volatility of the liquid contracts
// nearest spot. It reports false when no contract survives the liquidity
// filter; callers must treat that as unknown, not as zero volatility.
func EstimateVolatility(contracts []models.OptionContract, spot float64, p VolatilityParams) (float64, bool) {
	if spot <= 0 || p.ATMContracts <= 0 {
		return 0, false
	}

	liquid := make([]models.OptionContract, 0, len(contracts))
	for _, c := range contracts {
		if c.Liquid(p.MaxSpread) && c.IV > 0 && !math.IsNaN(c.IV) {
			liquid = append(liquid, c)
		}
	}
	if len(liquid) == 0 {
		return 0, false
	}

	sort.SliceStable(liquid, func(i, j int) bool {
		di := math.Abs(liquid[i].StrikePrice - spot)
		dj := math.Abs(liquid[j].StrikePrice - spot)
		if di != dj {
			return di < dj
		}
		if liquid[i].StrikePrice != liquid[j].StrikePrice {
			return liquid[i].StrikePrice < liquid[j].StrikePrice
		}
		return liquid[i].OptionType < liquid[j].OptionType
	})

	n := p.ATMContracts
	if n > len(liquid) {
		n = len(liquid)
	}
	var sum float64
	for _, c := range liquid[:n] {
		sum += c.IV
	}
	return sum / float64(n), true
}
