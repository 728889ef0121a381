package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"weinstein/internal/cache"
	"weinstein/internal/dashboard"
	"weinstein/internal/domain"
	"weinstein/internal/portfolio"
	"weinstein/internal/scheduler"
	"weinstein/internal/store"
)

type fakeUpdater struct {
	calls int
	err   error
}

func (f *fakeUpdater) RunNow(ctx context.Context) (*scheduler.Report, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &scheduler.Report{Stocks: 3}, nil
}

func (f *fakeUpdater) LastRun() *scheduler.Report { return nil }
func (f *fakeUpdater) Next() time.Time            { return time.Time{} }

func newTestServer(t *testing.T, upd Updater) (http.Handler, *store.SQLStore) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	s := &domain.Stock{Ticker: "AAPL", Name: "Apple", Exchange: "NASDAQ", Active: true}
	if err := st.UpsertStock(ctx, s); err != nil {
		t.Fatalf("UpsertStock: %v", err)
	}
	var recs []domain.WeeklyRecord
	start := domain.MustDate("2023-01-06")
	stages := []domain.Stage{domain.StageBase, domain.StageBase, domain.StageUptrend, domain.StageUptrend, domain.StageTop}
	for i, stage := range stages {
		c := 100 + float64(i)
		recs = append(recs, domain.WeeklyRecord{
			StockID:     s.ID,
			WeekEndDate: domain.NewDate(start.AddDate(0, 0, 7*i)),
			Open:        domain.Float(c - 1),
			High:        domain.Float(c + 2),
			Low:         domain.Float(c - 2),
			Close:       domain.Float(c),
			MA30:        domain.Float(c - 3),
			RS:          domain.Float(1 + float64(i)/10),
			Volume:      domain.Int(1_000_000),
			Stage:       stage,
		})
	}
	if err := st.WriteWeekly(ctx, recs); err != nil {
		t.Fatalf("WriteWeekly: %v", err)
	}

	deps := Deps{
		Dashboard: dashboard.NewService(st, cache.NewMemory(), dashboard.ServiceOptions{CacheTTL: time.Minute}, nil),
		Portfolio: portfolio.NewManager(st, nil),
		Stocks:    st,
		Signals: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}
	if upd != nil {
		deps.Updater = upd
	}
	return NewDashboardServer(deps, 52, nil).Handler(), st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %s: %v", rec.Body.String(), err)
	}
}

func TestHealthAndMiddleware(t *testing.T) {
	h, _ := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("CORS origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	rec = do(t, h, http.MethodOptions, "/api/stocks", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
}

func TestCORSAllowList(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := corsMiddleware([]string{"http://localhost:3000"}, next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allowed origin = %q", got)
	}

	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin = %q", got)
	}
}

func TestStockDetail(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/stock/aapl?weeks=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var d struct {
		Ticker  string `json:"ticker"`
		Weeks   int    `json:"weeks"`
		History []any  `json:"history"`
		Current struct {
			Stage int `json:"stage"`
		} `json:"current"`
	}
	decode(t, rec, &d)
	if d.Ticker != "AAPL" || d.Weeks != 3 || len(d.History) != 5 || d.Current.Stage != 3 {
		t.Errorf("detail = %+v", d)
	}

	if rec := do(t, h, http.MethodGet, "/api/stock/AAPL?period=All", nil); rec.Code != http.StatusOK {
		t.Errorf("period=All status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/stock/AAPL?weeks=abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad weeks status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/stock/ZZZZ", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown ticker status = %d", rec.Code)
	}
	var e map[string]string
	decode(t, rec, &e)
	if e["error"] == "" {
		t.Errorf("error body = %v", e)
	}
}

func TestTransitions(t *testing.T) {
	h, _ := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/api/stock/AAPL/transitions?weeks=0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Transitions []struct {
			From *int `json:"from_stage"`
			To   int  `json:"to_stage"`
		} `json:"transitions"`
	}
	decode(t, rec, &resp)
	// Initial stage 1, then 1->2 and 2->3, newest first.
	if len(resp.Transitions) != 3 || resp.Transitions[0].To != 3 || *resp.Transitions[0].From != 2 || resp.Transitions[2].From != nil {
		t.Errorf("transitions = %+v", resp.Transitions)
	}
}

func TestStocksAndStats(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/stocks?stage=3", nil)
	var list struct {
		Total  int `json:"total"`
		Stocks []struct {
			Ticker string `json:"ticker"`
		} `json:"stocks"`
	}
	decode(t, rec, &list)
	if list.Total != 1 || len(list.Stocks) != 1 || list.Stocks[0].Ticker != "AAPL" {
		t.Errorf("stage 3 list = %+v", list)
	}

	rec = do(t, h, http.MethodGet, "/api/stocks?stage=2", nil)
	decode(t, rec, &list)
	if list.Total != 0 {
		t.Errorf("stage 2 total = %d", list.Total)
	}
	if rec := do(t, h, http.MethodGet, "/api/stocks?stage=7", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("stage=7 status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/stocks?limit=-1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=-1 status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/dashboard/stats", nil)
	var stats struct {
		TotalStocks int `json:"total_stocks"`
	}
	decode(t, rec, &stats)
	if stats.TotalStocks != 1 {
		t.Errorf("total_stocks = %d", stats.TotalStocks)
	}

	if rec := do(t, h, http.MethodGet, "/api/watchlist", nil); rec.Code != http.StatusOK {
		t.Errorf("watchlist status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/signals?signal_type=hold", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad signal_type status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/signals?signal_type=buy&days=7", nil); rec.Code != http.StatusOK {
		t.Errorf("signals status = %d", rec.Code)
	}
}

func TestPortfolioFlow(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/portfolio", portfolio.OpenRequest{
		Ticker: "aapl", EntryDate: domain.MustDate("2023-01-20"), EntryPrice: 100, Quantity: 10, StopLoss: 92,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open status = %d: %s", rec.Code, rec.Body.String())
	}
	var p domain.Position
	decode(t, rec, &p)

	bad := do(t, h, http.MethodPost, "/api/portfolio", portfolio.OpenRequest{Ticker: "AAPL", EntryPrice: 100, Quantity: 1, StopLoss: 120})
	if bad.Code != http.StatusBadRequest {
		t.Errorf("stop above entry status = %d", bad.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/portfolio", nil)
	var open struct {
		Positions []portfolio.Valuation `json:"positions"`
	}
	decode(t, rec, &open)
	if len(open.Positions) != 1 || open.Positions[0].PnL == nil || *open.Positions[0].PnL != 40 {
		t.Errorf("open positions = %+v", open.Positions)
	}

	if rec := do(t, h, http.MethodPut, "/api/portfolio/"+p.ID+"/stop", StopRequest{StopLoss: 98}); rec.Code != http.StatusOK {
		t.Errorf("stop status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/portfolio/"+p.ID+"/close", CloseRequest{ExitDate: domain.MustDate("2023-02-03"), ExitPrice: 110})
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/portfolio/"+p.ID+"/close", CloseRequest{ExitPrice: 110}); rec.Code != http.StatusConflict {
		t.Errorf("second close status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/portfolio/missing/stop", StopRequest{StopLoss: 1}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown position status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/portfolio/history", nil)
	var hist portfolio.History
	decode(t, rec, &hist)
	if len(hist.Positions) != 1 || hist.TotalPnL != 100 {
		t.Errorf("history = %+v", hist)
	}

	rec = do(t, h, http.MethodDelete, "/api/portfolio/history", nil)
	var del DeletedResponse
	decode(t, rec, &del)
	if del.Deleted != 1 {
		t.Errorf("deleted = %d", del.Deleted)
	}
}

func TestAdminStocks(t *testing.T) {
	h, st := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/admin/stocks", CreateStockRequest{Ticker: " msft ", Name: "Microsoft"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Stock
	decode(t, rec, &created)
	if created.Ticker != "MSFT" || created.ID == 0 {
		t.Errorf("created = %+v", created)
	}
	if rec := do(t, h, http.MethodPost, "/api/admin/stocks", CreateStockRequest{Ticker: "MSFT"}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/admin/stocks", CreateStockRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty ticker status = %d", rec.Code)
	}

	inactive := false
	id := strconv.FormatInt(created.ID, 10)
	if rec := do(t, h, http.MethodPut, "/api/admin/stocks/"+id, UpdateStockRequest{Active: &inactive}); rec.Code != http.StatusOK {
		t.Errorf("update status = %d", rec.Code)
	}
	got, err := st.GetStock(context.Background(), "MSFT")
	if err != nil || got.Active || got.Name != "Microsoft" {
		t.Errorf("after update = %+v, %v", got, err)
	}

	rec = do(t, h, http.MethodGet, "/api/admin/stocks", nil)
	var list StocksResponse
	decode(t, rec, &list)
	if list.Total != 2 {
		t.Errorf("admin total = %d", list.Total)
	}

	if rec := do(t, h, http.MethodDelete, "/api/admin/stocks/"+id, nil); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/admin/stocks/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/admin/stocks/x", UpdateStockRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
}

func TestRunUpdate(t *testing.T) {
	h, _ := newTestServer(t, nil)
	if rec := do(t, h, http.MethodPost, "/api/admin/update", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no updater status = %d", rec.Code)
	}

	upd := &fakeUpdater{}
	h, _ = newTestServer(t, upd)
	if rec := do(t, h, http.MethodPost, "/api/admin/update", nil); rec.Code != http.StatusOK || upd.calls != 1 {
		t.Errorf("update status = %d, calls = %d", rec.Code, upd.calls)
	}

	upd.err = scheduler.ErrBusy
	if rec := do(t, h, http.MethodPost, "/api/admin/update", nil); rec.Code != http.StatusConflict {
		t.Errorf("busy status = %d", rec.Code)
	}
}

func TestSignalsSocketRoute(t *testing.T) {
	h, _ := newTestServer(t, nil)
	if rec := do(t, h, http.MethodGet, "/ws/signals", nil); rec.Code != http.StatusTeapot {
		t.Errorf("ws route status = %d", rec.Code)
	}
}
