// Package datasource provides market data for the scan pipelines. It defines
// the MarketDataSource capability and implements it over Yahoo Finance and
// Alpaca, plus the liquidity-filtered volatility estimate and the parallel
// snapshot fetcher built on top of it.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/infra"
	"github.com/seenimoa/stockpulse/pkg/models"
)

// MarketDataSource is the capability the snapshot fetcher and the accuracy
// updater depend on.
type MarketDataSource interface {
	// Name returns the human-readable name of this data source.
	Name() string

	// GetQuote returns the latest price (and market cap where available).
	GetQuote(ctx context.Context, ticker string) (*models.Quote, error)

	// GetOptionChain returns the contracts for one expiry. An empty expiry
	// selects the nearest listed one. Expiries is always populated.
	GetOptionChain(ctx context.Context, ticker string, expiry string) (*models.OptionChain, error)

	// GetHeadlines returns up to limit recent news items, newest first.
	GetHeadlines(ctx context.Context, ticker string, limit int) ([]models.Headline, error)

	// GetDailyCandles returns daily bars between from and to, oldest first.
	GetDailyCandles(ctx context.Context, ticker string, from, to time.Time) ([]models.OHLCV, error)
}

// --- Sentinel errors ---

// ErrTickerNotFound is returned when a ticker cannot be resolved.
var ErrTickerNotFound = errors.New("ticker not found")

// ErrNoOptionChain is returned when a ticker has no listed options.
var ErrNoOptionChain = errors.New("no option chain listed")

// ErrRateLimited is returned when a source keeps rate-limiting the request.
var ErrRateLimited = errors.New("rate limited by data source")

// HTTPError wraps an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// transient reports whether the status is worth retrying.
func (e *HTTPError) transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// --- Shared HTTP client helpers ---

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// httpGetter performs throttled GETs with retry on transient failures.
type httpGetter struct {
	client  *http.Client
	limiter *rate.Limiter
	retry   infra.RetryPolicy
	log     *zap.Logger
}

func newHTTPGetter(timeout time.Duration, perSec float64, log *zap.Logger) *httpGetter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpGetter{
		client:  &http.Client{Timeout: timeout},
		limiter: infra.NewLimiter(perSec),
		retry:   infra.DefaultRetry,
		log:     log,
	}
}

// get performs a GET and returns the body. 404 maps to ErrTickerNotFound,
// a persistent 429 to ErrRateLimited.
func (h *httpGetter) get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := infra.Do(ctx, h.retry, func(ctx context.Context) error {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
		b, err := h.once(ctx, url)
		if err == nil {
			body = b
			return nil
		}
		var herr *HTTPError
		var nerr net.Error
		if (errors.As(err, &herr) && herr.transient()) || (errors.As(err, &nerr) && nerr.Timeout()) {
			h.log.Debug("transient market data error, retrying", zap.String("url", redact(url)), zap.Error(err))
			return infra.Retryable(err)
		}
		return err
	})
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) {
			switch herr.StatusCode {
			case http.StatusNotFound:
				return nil, fmt.Errorf("%w: %v", ErrTickerNotFound, err)
			case http.StatusTooManyRequests:
				return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
		}
		return nil, err
	}
	return body, nil
}

func (h *httpGetter) once(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json, text/xml, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", redact(url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}
	return io.ReadAll(resp.Body)
}

// redact drops the query string, which may carry credentials.
func redact(url string) string {
	for i := 0; i < len(url); i++ {
		if url[i] == '?' {
			return url[:i]
		}
	}
	return url
}

// NewSourceFromConfig builds the configured market data source.
func NewSourceFromConfig(cfg *config.Config, log *zap.Logger) (MarketDataSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Market.Provider {
	case "yahoo":
		return NewYFinance(cfg.Market, log), nil
	case "alpaca":
		return NewAlpaca(cfg.Market, log)
	}
	return nil, fmt.Errorf("datasource: unknown provider %q", cfg.Market.Provider)
}
