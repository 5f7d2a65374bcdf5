package scanner

import (
	"strings"
	"testing"

	"github.com/seenimoa/stockpulse/pkg/models"
)

func promptSnaps() []*models.MarketSnapshot {
	return []*models.MarketSnapshot{
		{Ticker: "NVDA", Price: 141.2, Volatility: 52, MarketCap: 3.46e12, SMA: 130.55, RSI: 61.4,
			Headlines: []models.Headline{{Title: "Nvidia  beats\nestimates"}, {Title: "b"}, {Title: "c"}, {Title: "dropped"}}},
		{Ticker: "TSLA", Price: 400, Volatility: 0, MarketCap: 1.28e12},
	}
}

func TestBuildTradePrompt(t *testing.T) {
	p := BuildTradePrompt(promptSnaps(), DefaultProtocol)

	for _, want := range []string{
		"- NVDA | price $141.20 | ATM IV 52.0% | market cap $3.46T | SMA $130.55 | RSI 61\n",
		"- TSLA | price $400.00 | ATM IV n/a | market cap $1.28T\n",
		"- TSLA | price $400.00 | ATM IV n/a |",
		"news: Nvidia beats estimates",
		"premium > $50,000 expiring within 90 days",
		"20-day SMA",
		"IV Rank above 70",
		"next 7 days",
		"extended 14 days",
		"risk/reward > 2.",
		`"final_score"`,
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "dropped") {
		t.Error("prompt must carry at most three headlines per ticker")
	}
	if strings.Contains(p, `"suggested_strike"`) || strings.Contains(p, `"expiration_date"`) {
		t.Error("prompt must not ask the model for strikes or dates")
	}
}

func TestBuildPrompts_Deterministic(t *testing.T) {
	snaps := promptSnaps()
	if BuildTradePrompt(snaps, DefaultProtocol) != BuildTradePrompt(snaps, DefaultProtocol) {
		t.Error("trade prompt differs between calls")
	}
	if BuildVolatilityPrompt(snaps) != BuildVolatilityPrompt(snaps) {
		t.Error("volatility prompt differs between calls")
	}
	if BuildIncomePrompt(snaps, 3) != BuildIncomePrompt(snaps, 3) {
		t.Error("income prompt differs between calls")
	}
}

func TestBuildTradePrompt_CustomProtocol(t *testing.T) {
	p := DefaultProtocol
	p.MinRiskReward = 2.5
	p.MinPremiumUSD = 1_250_000
	got := BuildTradePrompt(nil, p)
	if !strings.Contains(got, "risk/reward > 2.5.") || !strings.Contains(got, "$1,250,000") {
		t.Errorf("protocol thresholds not rendered:\n%s", got)
	}
}

func TestBuildIncomePrompt(t *testing.T) {
	got := BuildIncomePrompt(promptSnaps(), 3)
	if !strings.Contains(got, "at most 3 names") || !strings.Contains(got, `"risk_explanation"`) {
		t.Errorf("income prompt:\n%s", got)
	}
}
