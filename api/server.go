// Package api provides the read-only HTTP API behind the stockpulse
// dashboard.
//
// It exposes the latest scan batches, the author leaderboard, hot tickers
// and recent posts, plus a WebSocket feed announcing new batches.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/store"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Reports is the read side of the store the API serves from.
type Reports interface {
	Ping(ctx context.Context) error
	LatestTrades(ctx context.Context, limit int) ([]store.TradeSuggestion, error)
	LatestVolatility(ctx context.Context, limit int) ([]store.VolatilityAnalysis, error)
	LatestIncome(ctx context.Context, limit int) ([]store.IncomeSuggestion, error)
	LatestBatches(ctx context.Context) (map[string]time.Time, error)
	Leaderboard(ctx context.Context, minTotal int64, limit int) ([]store.AuthorPerformance, error)
	HotTickers(ctx context.Context, since time.Time, limit int) ([]store.TickerMentions, error)
	RecentPosts(ctx context.Context, limit int) ([]store.SentimentPost, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	cfg        *config.Config
	reports    Reports
	hub        *WSHub
	log        *zap.Logger
	now        func() time.Time
	watchEvery time.Duration
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, reports Reports, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:        cfg,
		reports:    reports,
		hub:        NewWSHub(log),
		log:        log,
		now:        time.Now,
		watchEvery: 30 * time.Second,
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(ctx)
	go s.watchBatches(ctx)

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down api")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	err := httpSrv.Shutdown(shutdownCtx)
	if werr := s.hub.Wait(shutdownCtx); werr != nil {
		s.log.Warn("websocket pumps still running at shutdown", zap.Error(werr))
	}
	return err
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(20 * time.Second))

			r.Get("/health", s.handleHealth)
			r.Get("/status", s.handleStatus)

			// Scan batches
			r.Get("/trades/latest", s.handleLatestTrades)
			r.Get("/volatility/latest", s.handleLatestVolatility)
			r.Get("/income/latest", s.handleLatestIncome)
			r.Get("/batches", s.handleBatches)

			// Sentiment
			r.Get("/authors/leaderboard", s.handleLeaderboard)
			r.Get("/tickers/hot", s.handleHotTickers)
			r.Get("/posts/recent", s.handleRecentPosts)
		})

		// Long-lived, outside the request timeout.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// requestLogger logs one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ============================================================
// Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResponse wraps the rows of one scan batch.
type BatchResponse[T any] struct {
	ScanBatchAt *time.Time `json:"scan_batch_at,omitempty"`
	Count       int        `json:"count"`
	Rows        []T        `json:"rows"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	state, db := "ok", "ok"
	status := http.StatusOK
	if err := s.reports.Ping(r.Context()); err != nil {
		state, db = "degraded", "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, s.log, status, APIResponse{
		Success: status == http.StatusOK,
		Data: map[string]any{
			"status":        state,
			"database":      db,
			"version":       Version,
			"market_status": utils.MarketStatus(now),
			"time_et":       now.In(utils.Eastern).Format(time.DateTime),
		},
	})
}

func (s *Server) handleLatestTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 50, 500)
	if !ok {
		return
	}
	rows, err := s.reports.LatestTrades(r.Context(), limit)
	if err != nil {
		s.serverError(w, "latest trades", err)
		return
	}
	writeBatch(w, s.log, rows, func(t store.TradeSuggestion) time.Time { return t.ScanBatchAt })
}

func (s *Server) handleLatestVolatility(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 50, 500)
	if !ok {
		return
	}
	rows, err := s.reports.LatestVolatility(r.Context(), limit)
	if err != nil {
		s.serverError(w, "latest volatility", err)
		return
	}
	writeBatch(w, s.log, rows, func(v store.VolatilityAnalysis) time.Time { return v.ScanBatchAt })
}

func (s *Server) handleLatestIncome(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 50, 500)
	if !ok {
		return
	}
	rows, err := s.reports.LatestIncome(r.Context(), limit)
	if err != nil {
		s.serverError(w, "latest income", err)
		return
	}
	writeBatch(w, s.log, rows, func(v store.IncomeSuggestion) time.Time { return v.ScanBatchAt })
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.reports.LatestBatches(r.Context())
	if err != nil {
		s.serverError(w, "batches", err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, APIResponse{Success: true, Data: batches})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 20, 200)
	if !ok {
		return
	}
	minTotal, ok := s.intParam(w, r, "min_total", 1, 1_000_000)
	if !ok {
		return
	}
	rows, err := s.reports.Leaderboard(r.Context(), int64(minTotal), limit)
	if err != nil {
		s.serverError(w, "leaderboard", err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, APIResponse{Success: true, Data: rows})
}

func (s *Server) handleHotTickers(w http.ResponseWriter, r *http.Request) {
	hours, ok := s.intParam(w, r, "hours", 24, 24*30)
	if !ok {
		return
	}
	limit, ok := s.intParam(w, r, "limit", 10, 100)
	if !ok {
		return
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)
	rows, err := s.reports.HotTickers(r.Context(), since, limit)
	if err != nil {
		s.serverError(w, "hot tickers", err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, APIResponse{Success: true, Data: rows})
}

func (s *Server) handleRecentPosts(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 50, 500)
	if !ok {
		return
	}
	rows, err := s.reports.RecentPosts(r.Context(), limit)
	if err != nil {
		s.serverError(w, "recent posts", err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, APIResponse{Success: true, Data: rows})
}

// ============================================================
// Helpers
// ============================================================

// intParam reads a positive integer query parameter. Missing means def;
// values above max are capped. On a bad value it writes a 400 and reports
// false.
func (s *Server) intParam(w http.ResponseWriter, r *http.Request, name string, def, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, s.log, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

func (s *Server) serverError(w http.ResponseWriter, what string, err error) {
	s.log.Error("query failed", zap.String("query", what), zap.Error(err))
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, s.log, status, what+" unavailable")
}

func writeBatch[T any](w http.ResponseWriter, log *zap.Logger, rows []T, batchOf func(T) time.Time) {
	resp := BatchResponse[T]{Count: len(rows), Rows: rows}
	if resp.Rows == nil {
		resp.Rows = []T{}
	}
	if len(rows) > 0 {
		at := batchOf(rows[0])
		resp.ScanBatchAt = &at
	}
	writeJSON(w, log, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, status int, msg string) {
	writeJSON(w, log, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
