// Package technical computes the trend indicators attached to market
// snapshots. All functions operate on daily candles in ascending order.
package technical

import (
	"math"

	"github.com/seenimoa/stockpulse/pkg/models"
)

// RSIPeriod is the lookback used for the snapshot RSI.
const RSIPeriod = 14

// SMA calculates Simple Moving Average for the given period. Entries before
// the first full window are zero.
func SMA(data []float64, period int) []float64 {
	n := len(data)
	if n < period || period <= 0 {
		return nil
	}

	result := make([]float64, n)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		sum += data[i] - data[i-period]
		result[i] = sum / float64(period)
	}
	return result
}

// SMALatest returns the most recent SMA value, or 0 with too little data.
func SMALatest(data []float64, period int) float64 {
	vals := SMA(data, period)
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

// RSI calculates the Relative Strength Index with Wilder's smoothing.
// Returns values 0–100.
func RSI(closes []float64, period int) []float64 {
	if period <= 0 {
		period = RSIPeriod
	}
	n := len(closes)
	if n < period+1 {
		return nil
	}

	rsi := make([]float64, n)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	rsi[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		change := closes[i] - closes[i-1]
		gain, loss := math.Max(change, 0), math.Max(-change, 0)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiValue(avgGain, avgLoss)
	}
	return rsi
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// Closes extracts close prices, skipping bars without one.
func Closes(candles []models.OHLCV) []float64 {
	out := make([]float64, 0, len(candles))
	for _, c := range candles {
		if c.Close > 0 {
			out = append(out, c.Close)
		}
	}
	return out
}

// Trend is the moving-average context of one ticker.
type Trend struct {
	SMA      float64 // simple moving average of the last smaDays closes
	RSI      float64 // 14-period RSI; 0 when there are too few closes
	AboveSMA bool    // last close above SMA
}

// Summarize derives the Trend from daily candles. ok is false when fewer
// than smaDays closes are available.
func Summarize(candles []models.OHLCV, smaDays int) (t Trend, ok bool) {
	closes := Closes(candles)
	sma := SMALatest(closes, smaDays)
	if sma == 0 {
		return Trend{}, false
	}
	t = Trend{SMA: round2(sma), AboveSMA: closes[len(closes)-1] > sma}
	if vals := RSI(closes, RSIPeriod); len(vals) > 0 {
		t.RSI = round2(vals[len(vals)-1])
	}
	return t, true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
