package utils

import (
	"math"
	"time"
)

// Eastern is the US equity market time zone (New York).
var Eastern *time.Location

func init() {
	var err error
	Eastern, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback: fixed EST if tz database is not available
		Eastern = time.FixedZone("EST", -5*60*60)
	}
}

// DateLayout is the calendar-date format used for expirations and candles.
const DateLayout = "2006-01-02"

// NowEastern returns the current time in market time.
func NowEastern() time.Time {
	return time.Now().In(Eastern)
}

// DateOnly truncates t to midnight of its market-time calendar date.
func DateOnly(t time.Time) time.Time {
	d := t.In(Eastern)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, Eastern)
}

// MarketOpenTime returns the regular session open (9:30 AM ET) for a given date.
func MarketOpenTime(date time.Time) time.Time {
	d := date.In(Eastern)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, Eastern)
}

// MarketCloseTime returns the regular session close (4:00 PM ET) for a given date.
func MarketCloseTime(date time.Time) time.Time {
	d := date.In(Eastern)
	return time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, Eastern)
}

// IsMarketOpenAt checks if the US market would be open at the given time.
func IsMarketOpenAt(t time.Time) bool {
	t = t.In(Eastern)
	if !IsTradingDay(t) {
		return false
	}
	return !t.Before(MarketOpenTime(t)) && t.Before(MarketCloseTime(t))
}

// IsTradingDay checks if the given date is a trading day (not weekend, not holiday).
func IsTradingDay(t time.Time) bool {
	t = t.In(Eastern)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsTradingHoliday(t)
}

// TradingDayOf returns the session a timestamp belongs to: its own date if
// that is a trading day, otherwise the next trading day.
func TradingDayOf(t time.Time) time.Time {
	d := DateOnly(t)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// NextTradingDay returns the next trading day strictly after the given date.
func NextTradingDay(from time.Time) time.Time {
	next := DateOnly(from).AddDate(0, 0, 1)
	for !IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// IsTradingHoliday checks if the given date is an NYSE full-day holiday.
// This list should be updated annually.
func IsTradingHoliday(t time.Time) bool {
	_, isHoliday := nyseHolidays[t.In(Eastern).Format(DateLayout)]
	return isHoliday
}

// NYSE full-day closures for 2025 and 2026 (update annually).
var nyseHolidays = map[string]string{
	"2025-01-01": "New Year's Day",
	"2025-01-09": "National Day of Mourning",
	"2025-01-20": "Martin Luther King Jr. Day",
	"2025-02-17": "Washington's Birthday",
	"2025-04-18": "Good Friday",
	"2025-05-26": "Memorial Day",
	"2025-06-19": "Juneteenth",
	"2025-07-04": "Independence Day",
	"2025-09-01": "Labor Day",
	"2025-11-27": "Thanksgiving Day",
	"2025-12-25": "Christmas Day",
	"2026-01-01": "New Year's Day",
	"2026-01-19": "Martin Luther King Jr. Day",
	"2026-02-16": "Washington's Birthday",
	"2026-04-03": "Good Friday",
	"2026-05-25": "Memorial Day",
	"2026-06-19": "Juneteenth",
	"2026-07-03": "Independence Day (observed)",
	"2026-09-07": "Labor Day",
	"2026-11-26": "Thanksgiving Day",
	"2026-12-25": "Christmas Day",
}

// ParseDate parses a "2006-01-02" date as midnight market time.
func ParseDate(dateStr string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, dateStr, Eastern)
}

// FormatDate formats t as "2006-01-02" in market time.
func FormatDate(t time.Time) string {
	return t.In(Eastern).Format(DateLayout)
}

// DaysBetween returns the number of whole calendar days from a to b in
// market time. Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	da, db := DateOnly(a), DateOnly(b)
	// Round to absorb DST hour shifts.
	return int(math.Round(db.Sub(da).Hours() / 24))
}

// MarketStatus returns the market status string at t.
func MarketStatus(t time.Time) string {
	t = t.In(Eastern)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return "CLOSED (Weekend)"
	}
	if name, ok := nyseHolidays[t.Format(DateLayout)]; ok {
		return "CLOSED (" + name + ")"
	}
	switch {
	case t.Before(MarketOpenTime(t)):
		return "PRE-MARKET"
	case t.Before(MarketCloseTime(t)):
		return "OPEN"
	default:
		return "CLOSED"
	}
}
