package scanner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// Protocol holds the thresholds of the 6-step screening protocol.
type Protocol struct {
	MinPremiumUSD   int     // step 1: single-print premium
	MaxFlowDays     int     // step 1: contracts expiring within
	SMADays         int     // step 2: trend filter
	MaxIVRank       int     // step 3
	NewsLookahead   int     // step 4: days checked for earnings/news
	ExpiryExtension int     // step 5: days added to the flow expiry
	StrikeBandPct   float64 // step 5: strike within this % of spot
	MinRiskReward   float64 // step 6
}

// DefaultProtocol is the shipped protocol.
var DefaultProtocol = Protocol{
	MinPremiumUSD:   50_000,
	MaxFlowDays:     90,
	SMADays:         20,
	MaxIVRank:       70,
	NewsLookahead:   7,
	ExpiryExtension: 14,
	StrikeBandPct:   2,
	MinRiskReward:   2,
}

const maxPromptHeadlines = 3

// BuildTradePrompt renders the batch and the 6-step protocol into a single
// instruction. Same inputs give the same text.
func BuildTradePrompt(snaps []*models.MarketSnapshot, p Protocol) string {
	var b strings.Builder
	b.WriteString("You are a senior options flow trader. Analyze ONLY the tickers listed below ")
	b.WriteString("and apply the 6-step protocol. Use live search where available.\n\n")

	b.WriteString("Market snapshot:\n")
	writeSnapshots(&b, snaps)

	b.WriteString("\nProtocol:\n")
	fmt.Fprintf(&b, "Step 1: Liquidity. Keep tickers with unusual option prints of premium > $%s expiring within %d days.\n",
		groupThousands(p.MinPremiumUSD), p.MaxFlowDays)
	fmt.Fprintf(&b, "Step 2: Trend. Keep tickers trading above the %d-day SMA with dominant call flow (bullish) or below it with dominant put flow (bearish).\n", p.SMADays)
	fmt.Fprintf(&b, "Step 3: Volatility. Drop tickers with IV Rank above %d.\n", p.MaxIVRank)
	fmt.Fprintf(&b, "Step 4: Narrative. Check earnings and news in the next %d days; give a sentiment score from -1 to 1.\n", p.NewsLookahead)
	fmt.Fprintf(&b, "Step 5: Structure. Strike within %s%% of spot, expiry extended %d days past the flow expiry (computed downstream).\n",
		trimFloat(p.StrikeBandPct), p.ExpiryExtension)
	fmt.Fprintf(&b, "Step 6: Math. Keep only ideas with risk/reward > %s.\n", trimFloat(p.MinRiskReward))

	b.WriteString("\nReturn ONLY a JSON array (empty array if nothing qualifies). Do not include prices, strikes or dates:\n")
	b.WriteString(`[{"ticker":"NVDA","side":"CALL","sentiment_score":0.9,"narrative_type":"AI server demand","risk_reward_ratio":2.8,"final_score":9.1}]`)
	b.WriteString("\n")
	return b.String()
}

// BuildVolatilityPrompt asks for a short driver explanation per ranked ticker.
func BuildVolatilityPrompt(ranked []*models.MarketSnapshot) string {
	var b strings.Builder
	b.WriteString("These tickers show the highest at-the-money implied volatility in the watchlist today.\n")
	b.WriteString("For each, explain in one or two sentences what is driving the volatility (earnings, news, sector moves).\n\n")
	writeSnapshots(&b, ranked)
	b.WriteString("\nReturn ONLY a JSON array with one object per ticker:\n")
	b.WriteString(`[{"ticker":"RKLB","explanation":"Launch cadence news ahead of earnings."}]`)
	b.WriteString("\n")
	return b.String()
}

// BuildIncomePrompt asks for cash-secured put candidates among the snapshots.
func BuildIncomePrompt(snaps []*models.MarketSnapshot, maxIdeas int) string {
	var b strings.Builder
	b.WriteString("You are an options income strategist selling cash-secured puts about 12% below spot, ")
	b.WriteString("two to five weeks out. From the tickers below, pick at most ")
	fmt.Fprintf(&b, "%d names where elevated implied volatility pays for risk you would accept owning the stock.\n", maxIdeas)
	b.WriteString("Avoid names with binary events (earnings, trials, rulings) before expiry.\n\n")
	writeSnapshots(&b, snaps)
	b.WriteString("\nReturn ONLY a JSON array. Do not include strikes or dates:\n")
	b.WriteString(`[{"ticker":"SOFI","risk_explanation":"High IV after guidance; support near the strike.","final_score":7.5}]`)
	b.WriteString("\n")
	return b.String()
}

func writeSnapshots(b *strings.Builder, snaps []*models.MarketSnapshot) {
	for _, s := range snaps {
		iv := "n/a"
		if s.VolatilityKnown() {
			iv = fmt.Sprintf("%.1f%%", s.Volatility)
		}
		fmt.Fprintf(b, "- %s | price $%.2f | ATM IV %s | market cap %s",
			s.Ticker, s.Price, iv, utils.FormatUSDCompact(s.MarketCap))
		if s.TrendKnown() {
			fmt.Fprintf(b, " | SMA $%.2f | RSI %.0f", s.SMA, s.RSI)
		}
		b.WriteByte('\n')
		for i, h := range s.Headlines {
			if i == maxPromptHeadlines {
				break
			}
			fmt.Fprintf(b, "    news: %s\n", oneLine(h.Title))
		}
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func groupThousands(n int) string {
	s := fmt.Sprint(n)
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}
