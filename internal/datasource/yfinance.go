package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/infra"
	"github.com/seenimoa/stockpulse/pkg/models"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

const (
	yahooBaseURL = "https://query1.finance.yahoo.com"
	yahooRSSURL  = "https://feeds.finance.yahoo.com/rss/2.0/headline?s=%s&region=US&lang=en-US"
)

// YFinance implements MarketDataSource using the public Yahoo Finance API.
type YFinance struct {
	http    *httpGetter
	baseURL string
	rssURL  string // fmt template taking the escaped ticker
	parser  *gofeed.Parser
	log     *zap.Logger

	quotes    *infra.Cache[*models.Quote]
	chains    *infra.Cache[*models.OptionChain]
	headlines *infra.Cache[[]models.Headline]
}

// YFinanceOption configures the Yahoo source.
type YFinanceOption func(*YFinance)

// WithYahooBaseURL points the JSON endpoints at another host.
func WithYahooBaseURL(u string) YFinanceOption {
	return func(y *YFinance) { y.baseURL = strings.TrimRight(u, "/") }
}

// WithYahooRSSURL sets the headline feed template; %s receives the ticker.
func WithYahooRSSURL(tmpl string) YFinanceOption {
	return func(y *YFinance) { y.rssURL = tmpl }
}

// NewYFinance creates a Yahoo Finance data source.
func NewYFinance(cfg config.MarketConfig, log *zap.Logger, opts ...YFinanceOption) *YFinance {
	if log == nil {
		log = zap.NewNop()
	}
	ttl := time.Duration(cfg.CacheTTL) * time.Second
	y := &YFinance{
		http:      newHTTPGetter(time.Duration(cfg.RequestTimeoutSec)*time.Second, cfg.RatePerSec, log),
		baseURL:   yahooBaseURL,
		rssURL:    yahooRSSURL,
		parser:    gofeed.NewParser(),
		log:       log,
		quotes:    infra.NewCache[*models.Quote](ttl),
		chains:    infra.NewCache[*models.OptionChain](ttl),
		headlines: infra.NewCache[[]models.Headline](ttl),
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

// Name returns the data source name.
func (y *YFinance) Name() string { return "Yahoo Finance" }

// --- Yahoo Finance API types ---

type yfError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yfQuoteResponse struct {
	QuoteResponse struct {
		Result []yfQuote `json:"result"`
		Error  *yfError  `json:"error"`
	} `json:"quoteResponse"`
}

type yfQuote struct {
	Symbol                     string  `json:"symbol"`
	ShortName                  string  `json:"shortName"`
	LongName                   string  `json:"longName"`
	RegularMarketPrice         float64 `json:"regularMarketPrice"`
	RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
	MarketCap                  float64 `json:"marketCap"`
	RegularMarketTime          int64   `json:"regularMarketTime"`
}

type yfOptionsResponse struct {
	OptionChain struct {
		Result []yfOptionResult `json:"result"`
		Error  *yfError         `json:"error"`
	} `json:"optionChain"`
}

type yfOptionResult struct {
	UnderlyingSymbol string          `json:"underlyingSymbol"`
	ExpirationDates  []int64         `json:"expirationDates"`
	Quote            yfQuote         `json:"quote"`
	Options          []yfOptionBlock `json:"options"`
}

type yfOptionBlock struct {
	ExpirationDate int64        `json:"expirationDate"`
	Calls          []yfContract `json:"calls"`
	Puts           []yfContract `json:"puts"`
}

type yfContract struct {
	ContractSymbol    string  `json:"contractSymbol"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"lastPrice"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"` // ratio
	Expiration        int64   `json:"expiration"`
}

type yfChartResponse struct {
	Chart struct {
		Result []yfChartResult `json:"result"`
		Error  *yfError        `json:"error"`
	} `json:"chart"`
}

type yfChartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// --- MarketDataSource ---

// GetQuote fetches the latest quote, including market cap.
func (y *YFinance) GetQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	ticker = utils.NormalizeTicker(ticker)
	if q, ok := y.quotes.Get(ticker); ok {
		return q, nil
	}

	u := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", y.baseURL, url.QueryEscape(ticker))
	body, err := y.http.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("yahoo quote %s: %w", ticker, err)
	}

	var resp yfQuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("yahoo quote %s: decode: %w", ticker, err)
	}
	if e := resp.QuoteResponse.Error; e != nil {
		return nil, fmt.Errorf("yahoo quote %s: %s: %s", ticker, e.Code, e.Description)
	}
	if len(resp.QuoteResponse.Result) == 0 || resp.QuoteResponse.Result[0].RegularMarketPrice <= 0 {
		return nil, fmt.Errorf("yahoo quote %s: %w", ticker, ErrTickerNotFound)
	}

	q := toQuote(ticker, resp.QuoteResponse.Result[0])
	y.quotes.Set(ticker, q)
	return q, nil
}

// GetOptionChain fetches the contracts for one expiry ("" = nearest).
func (y *YFinance) GetOptionChain(ctx context.Context, ticker, expiry string) (*models.OptionChain, error) {
	ticker = utils.NormalizeTicker(ticker)
	key := ticker + "|" + expiry
	if c, ok := y.chains.Get(key); ok {
		return c, nil
	}

	u := fmt.Sprintf("%s/v7/finance/options/%s", y.baseURL, url.PathEscape(ticker))
	if expiry != "" {
		d, err := time.ParseInLocation(utils.DateLayout, expiry, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("yahoo options %s: bad expiry %q: %w", ticker, expiry, err)
		}
		u += fmt.Sprintf("?date=%d", d.Unix())
	}

	body, err := y.http.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("yahoo options %s: %w", ticker, err)
	}

	var resp yfOptionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("yahoo options %s: decode: %w", ticker, err)
	}
	if e := resp.OptionChain.Error; e != nil {
		return nil, fmt.Errorf("yahoo options %s: %s: %s", ticker, e.Code, e.Description)
	}
	if len(resp.OptionChain.Result) == 0 || len(resp.OptionChain.Result[0].ExpirationDates) == 0 {
		return nil, fmt.Errorf("yahoo options %s: %w", ticker, ErrNoOptionChain)
	}

	chain := toOptionChain(ticker, resp.OptionChain.Result[0])
	y.chains.Set(key, chain)
	return chain, nil
}

// GetDailyCandles fetches daily bars from the v8 chart endpoint.
func (y *YFinance) GetDailyCandles(ctx context.Context, ticker string, from, to time.Time) ([]models.OHLCV, error) {
	ticker = utils.NormalizeTicker(ticker)
	u := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d",
		y.baseURL, url.PathEscape(ticker), from.Unix(), to.Unix())

	body, err := y.http.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", ticker, err)
	}

	var resp yfChartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("yahoo chart %s: decode: %w", ticker, err)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, fmt.Errorf("yahoo chart %s: %s: %s", ticker, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo chart %s: %w", ticker, ErrTickerNotFound)
	}
	return toCandles(resp.Chart.Result[0]), nil
}

// GetHeadlines reads the per-ticker Yahoo Finance RSS feed.
func (y *YFinance) GetHeadlines(ctx context.Context, ticker string, limit int) ([]models.Headline, error) {
	ticker = utils.NormalizeTicker(ticker)
	if limit <= 0 {
		return nil, nil
	}
	if h, ok := y.headlines.Get(ticker); ok {
		return truncate(h, limit), nil
	}

	body, err := y.http.get(ctx, fmt.Sprintf(y.rssURL, url.QueryEscape(ticker)))
	if err != nil {
		return nil, fmt.Errorf("yahoo rss %s: %w", ticker, err)
	}
	feed, err := y.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("yahoo rss %s: parse: %w", ticker, err)
	}

	items := feedToHeadlines(feed, "Yahoo Finance")
	y.headlines.Set(ticker, items)
	return truncate(items, limit), nil
}

// --- conversions ---

func toQuote(ticker string, r yfQuote) *models.Quote {
	name := r.LongName
	if name == "" {
		name = r.ShortName
	}
	ts := time.Now()
	if r.RegularMarketTime > 0 {
		ts = time.Unix(r.RegularMarketTime, 0)
	}
	return &models.Quote{
		Ticker:    ticker,
		Name:      name,
		LastPrice: r.RegularMarketPrice,
		PrevClose: r.RegularMarketPreviousClose,
		MarketCap: r.MarketCap,
		Timestamp: ts,
	}
}

// Yahoo lists expirations as midnight UTC, so dates are formatted in UTC.
func yahooDate(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(utils.DateLayout)
}

func toOptionChain(ticker string, r yfOptionResult) *models.OptionChain {
	chain := &models.OptionChain{
		Ticker:    ticker,
		SpotPrice: r.Quote.RegularMarketPrice,
		FetchedAt: time.Now(),
	}
	for _, ts := range r.ExpirationDates {
		chain.Expiries = append(chain.Expiries, yahooDate(ts))
	}
	sort.Strings(chain.Expiries)

	if len(r.Options) == 0 {
		return chain
	}
	block := r.Options[0]
	chain.ExpiryDate = yahooDate(block.ExpirationDate)
	convert := func(cs []yfContract, side string) {
		for _, c := range cs {
			chain.Contracts = append(chain.Contracts, models.OptionContract{
				Symbol:      c.ContractSymbol,
				StrikePrice: c.Strike,
				OptionType:  side,
				ExpiryDate:  chain.ExpiryDate,
				LastPrice:   c.LastPrice,
				Volume:      c.Volume,
				OpenInt:     c.OpenInterest,
				BidPrice:    c.Bid,
				AskPrice:    c.Ask,
				IV:          c.ImpliedVolatility * 100,
			})
		}
	}
	convert(block.Calls, models.Call)
	convert(block.Puts, models.Put)
	return chain
}

func toCandles(r yfChartResult) []models.OHLCV {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	at := func(s []*float64, i int) (float64, bool) {
		if i >= len(s) || s[i] == nil {
			return 0, false
		}
		return *s[i], true
	}

	out := make([]models.OHLCV, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		o, ok1 := at(q.Open, i)
		c, ok2 := at(q.Close, i)
		if !ok1 || !ok2 {
			continue // halted or partial bar
		}
		h, _ := at(q.High, i)
		l, _ := at(q.Low, i)
		var v int64
		if i < len(q.Volume) && q.Volume[i] != nil {
			v = *q.Volume[i]
		}
		out = append(out, models.OHLCV{
			Timestamp: time.Unix(ts, 0).In(utils.Eastern),
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    v,
		})
	}
	return out
}

func truncate(h []models.Headline, limit int) []models.Headline {
	if len(h) > limit {
		return h[:limit]
	}
	return h
}
