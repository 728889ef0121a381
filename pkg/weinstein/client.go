// Package weinstein is a Go client for the stage-analysis dashboard API,
// plus the per-view state a UI keeps on top of it.
package weinstein

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"weinstein/internal/dashboard"
	"weinstein/internal/domain"
	"weinstein/internal/history"
	"weinstein/internal/portfolio"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("weinstein api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.StatusCode == http.StatusNotFound
}

// Client talks to the dashboard REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(b, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(b))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

// Stats returns the dashboard summary.
func (c *Client) Stats(ctx context.Context) (*dashboard.Stats, error) {
	var out dashboard.Stats
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StocksQuery filters the stock list. Zero values are omitted.
type StocksQuery struct {
	Stage  domain.Stage
	Search string
	Limit  int
	Offset int
}

// Stocks lists stocks with their latest weekly snapshot.
func (c *Client) Stocks(ctx context.Context, q StocksQuery) (*dashboard.StockList, error) {
	v := url.Values{}
	if q.Stage.Valid() {
		v.Set("stage", strconv.Itoa(int(q.Stage)))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	var out dashboard.StockList
	if err := c.do(ctx, http.MethodGet, "/api/stocks", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StockDetail returns the detail payload of ticker with a chart window of
// weeks (0 for all).
func (c *Client) StockDetail(ctx context.Context, ticker string, weeks int) (*dashboard.StockDetail, error) {
	v := url.Values{"weeks": {strconv.Itoa(weeks)}}
	var out dashboard.StockDetail
	if err := c.do(ctx, http.MethodGet, "/api/stock/"+url.PathEscape(ticker), v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transitions returns up to limit stage changes of ticker, most recent
// first.
func (c *Client) Transitions(ctx context.Context, ticker string, weeks, limit int) ([]history.Transition, error) {
	v := url.Values{"weeks": {strconv.Itoa(weeks)}, "limit": {strconv.Itoa(limit)}}
	var out struct {
		Transitions []history.Transition `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/stock/"+url.PathEscape(ticker)+"/transitions", v, nil, &out); err != nil {
		return nil, err
	}
	return out.Transitions, nil
}

// Signals returns the signal feed. An empty type means all types and
// non-positive days or limit use the server defaults.
func (c *Client) Signals(ctx context.Context, typ domain.SignalType, days, limit int) (*dashboard.SignalFeed, error) {
	v := url.Values{}
	if typ != "" {
		v.Set("signal_type", string(typ))
	}
	if days > 0 {
		v.Set("days", strconv.Itoa(days))
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	var out dashboard.SignalFeed
	if err := c.do(ctx, http.MethodGet, "/api/signals", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watchlist returns the stocks currently in stage 2.
func (c *Client) Watchlist(ctx context.Context) ([]dashboard.StockRow, error) {
	var out struct {
		Stocks []dashboard.StockRow `json:"stocks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/watchlist", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Stocks, nil
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// Positions returns open positions marked to the latest weekly close.
func (c *Client) Positions(ctx context.Context) ([]portfolio.Valuation, error) {
	var out struct {
		Positions []portfolio.Valuation `json:"positions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/portfolio", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// OpenPosition records a new position.
func (c *Client) OpenPosition(ctx context.Context, req portfolio.OpenRequest) (*domain.Position, error) {
	var out domain.Position
	if err := c.do(ctx, http.MethodPost, "/api/portfolio", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PortfolioSummary returns aggregate figures over open positions.
func (c *Client) PortfolioSummary(ctx context.Context) (*portfolio.Summary, error) {
	var out portfolio.Summary
	if err := c.do(ctx, http.MethodGet, "/api/portfolio/summary", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateStop moves the stop loss of an open position.
func (c *Client) UpdateStop(ctx context.Context, id string, stop float64) error {
	body := map[string]float64{"stop_loss": stop}
	return c.do(ctx, http.MethodPut, "/api/portfolio/"+url.PathEscape(id)+"/stop", nil, body, nil)
}

// ClosePosition closes a position. A zero exitDate means today.
func (c *Client) ClosePosition(ctx context.Context, id string, exitDate domain.Date, exitPrice float64) (*portfolio.Valuation, error) {
	body := struct {
		ExitDate  domain.Date `json:"exit_date"`
		ExitPrice float64     `json:"exit_price"`
	}{exitDate, exitPrice}
	var out portfolio.Valuation
	if err := c.do(ctx, http.MethodPost, "/api/portfolio/"+url.PathEscape(id)+"/close", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClosedPositions returns the closed-position history.
func (c *Client) ClosedPositions(ctx context.Context) (*portfolio.History, error) {
	var out portfolio.History
	if err := c.do(ctx, http.MethodGet, "/api/portfolio/history", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
