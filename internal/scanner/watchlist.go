package scanner

import (
	"errors"
	"time"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// ErrEmptyWatchlist is returned when no usable symbol remains.
var ErrEmptyWatchlist = errors.New("scanner: watchlist is empty")

// LoadWatchlist returns the configured universe, normalized and de-duplicated
// in order. An unset watchlist falls back to config.DefaultWatchlist.
func LoadWatchlist(cfg config.ScannerConfig) ([]string, error) {
	src := cfg.Watchlist
	if len(src) == 0 {
		src = config.DefaultWatchlist
	}
	list := utils.NormalizeTickers(src)
	if len(list) == 0 {
		return nil, ErrEmptyWatchlist
	}
	return list, nil
}

// Batch is the correlation key shared by every record of one run.
type Batch struct {
	At time.Time
}

// NewBatch stamps a batch at now, in UTC with second precision.
func NewBatch(now time.Time) Batch {
	return Batch{At: now.UTC().Truncate(time.Second)}
}

// Date returns the batch's calendar date in market time.
func (b Batch) Date() time.Time {
	return utils.DateOnly(b.At)
}
