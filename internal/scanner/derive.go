package scanner

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// Structuring policy. These are fixed, never taken from the model.
var (
	buyStrikeFactor  = decimal.RequireFromString("1.02")
	sellStrikeFactor = decimal.RequireFromString("0.88")
	strikeIncrement  = decimal.RequireFromString("0.5")
)

const (
	// DirectionalHorizonDays is the fixed expiry offset for directional ideas.
	DirectionalHorizonDays = 21
	// IncomeMinDays is the exclusive lower bound for income expirations.
	IncomeMinDays = 14
)

// ErrNoIncomeExpiry is returned when no listed expiry is far enough out.
var ErrNoIncomeExpiry = errors.New("scanner: no listed expiry beyond income horizon")

// SuggestedStrike returns price×1.02 for bullish ideas and price×0.88
// otherwise, rounded to the nearest $0.50.
func SuggestedStrike(price float64, d models.Direction) decimal.Decimal {
	factor := sellStrikeFactor
	if d == models.Bullish {
		factor = buyStrikeFactor
	}
	return roundToIncrement(decimal.NewFromFloat(price).Mul(factor))
}

// IncomeStrike is the put strike for a cash-secured put.
func IncomeStrike(price float64) decimal.Decimal {
	return roundToIncrement(decimal.NewFromFloat(price).Mul(sellStrikeFactor))
}

func roundToIncrement(v decimal.Decimal) decimal.Decimal {
	return v.Div(strikeIncrement).Round(0).Mul(strikeIncrement)
}

// DirectionalExpiry is the batch's market date plus 21 days.
func DirectionalExpiry(b Batch) string {
	return utils.FormatDate(b.Date().AddDate(0, 0, DirectionalHorizonDays))
}

// IncomeExpiry returns the first listed expiry more than 14 days after the
// batch date. expiries must be ascending.
func IncomeExpiry(expiries []string, b Batch) (string, error) {
	for _, e := range expiries {
		d, err := utils.ParseDate(e)
		if err != nil {
			continue
		}
		if utils.DaysBetween(b.At, d) > IncomeMinDays {
			return e, nil
		}
	}
	return "", ErrNoIncomeExpiry
}

// SafetyBufferPct is how far the strike sits below the price, in percent.
func SafetyBufferPct(price, strike decimal.Decimal) float64 {
	if !price.IsPositive() {
		return 0
	}
	pct, _ := price.Sub(strike).Div(price).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return pct
}

// EntryPrice is the snapshot price as stored money.
func EntryPrice(price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Round(2)
}
