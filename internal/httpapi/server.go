// Package httpapi serves the dashboard REST API.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"weinstein/internal/dashboard"
	"weinstein/internal/domain"
	"weinstein/internal/history"
	"weinstein/internal/portfolio"
	"weinstein/internal/scheduler"
	"weinstein/internal/store"
)

// Updater triggers and reports the weekly update. *scheduler.Scheduler
// satisfies it.
type Updater interface {
	RunNow(ctx context.Context) (*scheduler.Report, error)
	LastRun() *scheduler.Report
	Next() time.Time
}

var _ Updater = (*scheduler.Scheduler)(nil)

// Deps are the collaborators of a DashboardServer. Updater and Signals are
// optional.
type Deps struct {
	Dashboard   *dashboard.Service
	Portfolio   *portfolio.Manager
	Stocks      store.StockStore
	Updater     Updater
	Signals     http.Handler // websocket feed of new signals
	CORSOrigins []string
}

// DashboardServer serves the dashboard HTTP API.
type DashboardServer struct {
	deps         Deps
	defaultWeeks int
	log          *slog.Logger
}

// NewDashboardServer creates a new dashboard HTTP server.
func NewDashboardServer(deps Deps, defaultWeeks int, log *slog.Logger) *DashboardServer {
	if log == nil {
		log = slog.Default()
	}
	if defaultWeeks < 0 {
		defaultWeeks = history.DefaultWeeks
	}
	return &DashboardServer{deps: deps, defaultWeeks: defaultWeeks, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *DashboardServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/dashboard/stats", s.handleStats)
	mux.HandleFunc("GET /api/stocks", s.handleStocks)
	mux.HandleFunc("GET /api/stock/{ticker}", s.handleStockDetail)
	mux.HandleFunc("GET /api/stock/{ticker}/transitions", s.handleTransitions)
	mux.HandleFunc("GET /api/signals", s.handleSignals)
	mux.HandleFunc("GET /api/watchlist", s.handleWatchlist)

	mux.HandleFunc("GET /api/portfolio", s.handleOpenPositions)
	mux.HandleFunc("POST /api/portfolio", s.handleOpenPosition)
	mux.HandleFunc("GET /api/portfolio/summary", s.handlePortfolioSummary)
	mux.HandleFunc("GET /api/portfolio/history", s.handlePortfolioHistory)
	mux.HandleFunc("DELETE /api/portfolio/history", s.handleClearHistory)
	mux.HandleFunc("PUT /api/portfolio/{id}/stop", s.handleUpdateStop)
	mux.HandleFunc("POST /api/portfolio/{id}/close", s.handleClosePosition)

	mux.HandleFunc("GET /api/admin/stocks", s.handleAdminStocks)
	mux.HandleFunc("POST /api/admin/stocks", s.handleCreateStock)
	mux.HandleFunc("PUT /api/admin/stocks/{id}", s.handleUpdateStock)
	mux.HandleFunc("DELETE /api/admin/stocks/{id}", s.handleDeleteStock)
	mux.HandleFunc("POST /api/admin/update", s.handleRunUpdate)

	if s.deps.Signals != nil {
		mux.Handle("GET /ws/signals", s.deps.Signals)
	}
}

// Handler returns an http.Handler with request-ID and CORS middleware.
func (s *DashboardServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return requestIDMiddleware(s.log, corsMiddleware(s.deps.CORSOrigins, mux))
}

// ---------------------------------------------------------------------------
// Middleware and helpers
// ---------------------------------------------------------------------------

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(origins) == 0 || allowed["*"]:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes the connection through for the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func requestIDMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Debug("http request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeErr maps domain errors onto status codes.
func (s *DashboardServer) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, dashboard.ErrNoHistory):
		status = http.StatusNotFound
	case errors.Is(err, portfolio.ErrInvalidPosition):
		status = http.StatusBadRequest
	case errors.Is(err, portfolio.ErrNotOpen), errors.Is(err, scheduler.ErrBusy):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// intParam reads a non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

// weeksParam accepts a week count or a period label ("6M", "All").
func (s *DashboardServer) weeksParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("weeks")
	if v == "" {
		v = r.URL.Query().Get("period")
	}
	if v == "" {
		return s.defaultWeeks, nil
	}
	n, ok := history.ParsePeriod(v)
	if !ok {
		return 0, fmt.Errorf("invalid weeks %q", v)
	}
	return n, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

func (s *DashboardServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Timestamp: time.Now().UTC()}
	if u := s.deps.Updater; u != nil {
		resp.LastRun = u.LastRun()
		if next := u.Next(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	writeJSON(w, resp)
}

func (s *DashboardServer) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Dashboard.Stats(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, st)
}

func (s *DashboardServer) handleStocks(w http.ResponseWriter, r *http.Request) {
	var f store.LatestFilter
	if v := r.URL.Query().Get("stage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || !domain.StageFromInt(n).Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid stage %q", v))
			return
		}
		f.Stage = domain.StageFromInt(n)
	}
	f.Search = strings.TrimSpace(r.URL.Query().Get("search"))
	var err error
	if f.Limit, err = intParam(r, "limit", 100); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Offset, err = intParam(r, "offset", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.deps.Dashboard.Stocks(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (s *DashboardServer) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	weeks, err := s.weeksParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.deps.Dashboard.StockDetail(r.Context(), r.PathValue("ticker"), weeks)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, d)
}

func (s *DashboardServer) handleTransitions(w http.ResponseWriter, r *http.Request) {
	weeks, err := s.weeksParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", dashboard.RecentTransitionCount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ticker := strings.ToUpper(r.PathValue("ticker"))
	ts, err := s.deps.Dashboard.Transitions(r.Context(), ticker, weeks, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, TransitionsResponse{Ticker: ticker, Weeks: weeks, Transitions: ts})
}

func (s *DashboardServer) handleSignals(w http.ResponseWriter, r *http.Request) {
	var typ domain.SignalType
	if v := r.URL.Query().Get("signal_type"); v != "" {
		t, ok := domain.ParseSignalType(strings.ToUpper(v))
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid signal_type %q", v))
			return
		}
		typ = t
	}
	days, err := intParam(r, "days", dashboard.SignalFeedDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	feed, err := s.deps.Dashboard.Signals(r.Context(), typ, days, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, feed)
}

func (s *DashboardServer) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Dashboard.Watchlist(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, WatchlistResponse{Total: len(rows), Stocks: rows})
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

func (s *DashboardServer) handleOpenPositions(w http.ResponseWriter, r *http.Request) {
	vals, err := s.deps.Portfolio.ListOpen(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"positions": vals})
}

func (s *DashboardServer) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req portfolio.OpenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.deps.Portfolio.Open(r.Context(), req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, p)
}

func (s *DashboardServer) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Portfolio.Summary(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, sum)
}

func (s *DashboardServer) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Portfolio.ClosedHistory(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, h)
}

func (s *DashboardServer) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Portfolio.ClearHistory(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, DeletedResponse{Deleted: n})
}

func (s *DashboardServer) handleUpdateStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Portfolio.UpdateStop(r.Context(), r.PathValue("id"), req.StopLoss); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"id": r.PathValue("id"), "stop_loss": req.StopLoss})
}

func (s *DashboardServer) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.deps.Portfolio.Close(r.Context(), r.PathValue("id"), req.ExitDate, req.ExitPrice)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, v)
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func (s *DashboardServer) invalidate(ctx context.Context) {
	if err := s.deps.Dashboard.Invalidate(ctx); err != nil {
		s.log.Warn("cache invalidation failed", "error", err)
	}
}

func (s *DashboardServer) handleAdminStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.deps.Stocks.ListStocks(r.Context(), false)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if stocks == nil {
		stocks = []domain.Stock{}
	}
	writeJSON(w, StocksResponse{Total: len(stocks), Stocks: stocks})
}

func (s *DashboardServer) handleCreateStock(w http.ResponseWriter, r *http.Request) {
	var req CreateStockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	if _, err := s.deps.Stocks.GetStock(r.Context(), ticker); err == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("stock %s already exists", ticker))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.writeErr(w, r, err)
		return
	}
	st := &domain.Stock{Ticker: ticker, Name: strings.TrimSpace(req.Name), Exchange: strings.TrimSpace(req.Exchange), Active: true}
	if err := s.deps.Stocks.UpsertStock(r.Context(), st); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.invalidate(r.Context())
	writeJSONStatus(w, http.StatusCreated, st)
}

func (s *DashboardServer) stockID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid stock id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func (s *DashboardServer) handleUpdateStock(w http.ResponseWriter, r *http.Request) {
	id, ok := s.stockID(w, r)
	if !ok {
		return
	}
	var req UpdateStockRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.deps.Stocks.GetStockByID(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if req.Name != nil {
		st.Name = strings.TrimSpace(*req.Name)
	}
	if req.Exchange != nil {
		st.Exchange = strings.TrimSpace(*req.Exchange)
	}
	if req.Active != nil {
		st.Active = *req.Active
	}
	if err := s.deps.Stocks.UpdateStock(r.Context(), st); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.invalidate(r.Context())
	writeJSON(w, st)
}

func (s *DashboardServer) handleDeleteStock(w http.ResponseWriter, r *http.Request) {
	id, ok := s.stockID(w, r)
	if !ok {
		return
	}
	if _, err := s.deps.Stocks.GetStockByID(r.Context(), id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.deps.Stocks.DeleteStock(r.Context(), id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.invalidate(r.Context())
	writeJSON(w, DeletedResponse{Deleted: 1})
}

func (s *DashboardServer) handleRunUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Updater == nil {
		writeError(w, http.StatusServiceUnavailable, "updates are not configured")
		return
	}
	// The run outlives the request.
	rep, err := s.deps.Updater.RunNow(context.WithoutCancel(r.Context()))
	if err != nil && rep == nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, rep)
}
