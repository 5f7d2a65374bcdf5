package utils

import (
	"testing"
	"time"
)

func TestNormalizeTicker(t *testing.T) {
	tests := []struct{ in, want string }{
		{"nvda", "NVDA"},
		{"  $tsla ", "TSLA"},
		{"$ PLTR", "PLTR"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTicker(tt.in); got != tt.want {
			t.Errorf("NormalizeTicker(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTickersDedupes(t *testing.T) {
	got := NormalizeTickers([]string{"nvda", "TSLA", " ", "$NVDA", "amd"})
	want := []string{"NVDA", "TSLA", "AMD"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeTickers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeTickers[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFormatUSDCompact(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "n/a"},
		{3.2e12, "$3.20T"},
		{45_600_000, "$45.60M"},
		{1_500, "$1.50K"},
		{-2.5e9, "-$2.50B"},
		{12.5, "$12.50"},
	}
	for _, tt := range tests {
		if got := FormatUSDCompact(tt.in); got != tt.want {
			t.Errorf("FormatUSDCompact(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPct(t *testing.T) {
	if got := FormatPct(2.45); got != "+2.45%" {
		t.Errorf("FormatPct(2.45) = %q", got)
	}
	if got := FormatPct(-1.23); got != "-1.23%" {
		t.Errorf("FormatPct(-1.23) = %q", got)
	}
}

func TestIsMarketOpenAt(t *testing.T) {
	// Wednesday 10:00 ET
	if !IsMarketOpenAt(time.Date(2026, 2, 18, 10, 0, 0, 0, Eastern)) {
		t.Error("expected market open on Wednesday 10:00")
	}
	// Saturday
	if IsMarketOpenAt(time.Date(2026, 2, 21, 10, 0, 0, 0, Eastern)) {
		t.Error("expected market closed on Saturday")
	}
	// Before the bell
	if IsMarketOpenAt(time.Date(2026, 2, 18, 9, 0, 0, 0, Eastern)) {
		t.Error("expected market closed at 09:00")
	}
	// Good Friday
	if IsMarketOpenAt(time.Date(2026, 4, 3, 11, 0, 0, 0, Eastern)) {
		t.Error("expected market closed on Good Friday")
	}
}

func TestTradingDayOf(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"weekday", time.Date(2026, 3, 4, 20, 0, 0, 0, Eastern), "2026-03-04"},
		{"saturday rolls to monday", time.Date(2026, 3, 7, 12, 0, 0, 0, Eastern), "2026-03-09"},
		{"holiday rolls forward", time.Date(2026, 1, 19, 8, 0, 0, 0, Eastern), "2026-01-20"},
		{"utc evening is same eastern day", time.Date(2026, 3, 5, 2, 0, 0, 0, time.UTC), "2026-03-04"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDate(TradingDayOf(tt.in)); got != tt.want {
				t.Errorf("TradingDayOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextTradingDay(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2026-03-04", "2026-03-05"}, // Wed → Thu
		{"2026-03-06", "2026-03-09"}, // Fri → Mon
		{"2026-04-02", "2026-04-06"}, // Thu → Mon over Good Friday
	}
	for _, tt := range tests {
		d, err := ParseDate(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got := FormatDate(NextTradingDay(d)); got != tt.want {
			t.Errorf("NextTradingDay(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDaysBetween(t *testing.T) {
	a, _ := ParseDate("2026-03-01")
	b, _ := ParseDate("2026-03-22") // spans the DST change
	if got := DaysBetween(a, b); got != 21 {
		t.Errorf("DaysBetween = %d, want 21", got)
	}
	if got := DaysBetween(b, a); got != -21 {
		t.Errorf("DaysBetween reversed = %d, want -21", got)
	}
}

func TestMarketStatus(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 2, 21, 12, 0, 0, 0, Eastern), "CLOSED (Weekend)"},
		{time.Date(2026, 12, 25, 12, 0, 0, 0, Eastern), "CLOSED (Christmas Day)"},
		{time.Date(2026, 2, 18, 8, 0, 0, 0, Eastern), "PRE-MARKET"},
		{time.Date(2026, 2, 18, 12, 0, 0, 0, Eastern), "OPEN"},
		{time.Date(2026, 2, 18, 17, 0, 0, 0, Eastern), "CLOSED"},
	}
	for _, tt := range tests {
		if got := MarketStatus(tt.at); got != tt.want {
			t.Errorf("MarketStatus(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}
