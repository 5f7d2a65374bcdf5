package api

import (
	"net/http"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/scanner"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// StatusResponse is returned by GET /api/v1/status. Credentials appear
// masked only.
type StatusResponse struct {
	Provider    string             `json:"market_provider"`
	LLMPrimary  string             `json:"llm_primary"`
	Model       string             `json:"llm_model"`
	DBDriver    string             `json:"database_driver"`
	Watchlist   []string           `json:"watchlist"`
	APIKeys     []config.KeyStatus `json:"api_keys"`
	Rows        map[string]int64   `json:"rows"`
	WSClients   int                `json:"ws_clients"`
	MarketState string             `json:"market_status"`
}

// handleStatus reports the running configuration and table sizes.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.reports.Counts(r.Context())
	if err != nil {
		s.serverError(w, "status", err)
		return
	}

	watchlist, err := scanner.LoadWatchlist(s.cfg.Scanner)
	if err != nil {
		watchlist = []string{}
	}

	writeJSON(w, s.log, http.StatusOK, APIResponse{
		Success: true,
		Data: StatusResponse{
			Provider:    s.cfg.Market.Provider,
			LLMPrimary:  s.cfg.LLM.Primary,
			Model:       s.cfg.LLM.Model,
			DBDriver:    s.cfg.Database.Driver,
			Watchlist:   watchlist,
			APIKeys:     config.CheckAPIKeys(s.cfg),
			Rows:        counts,
			WSClients:   s.hub.ClientCount(),
			MarketState: utils.MarketStatus(s.now()),
		},
	})
}
