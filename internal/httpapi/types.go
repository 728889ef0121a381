package httpapi

import (
	"time"

	"weinstein/internal/domain"
	"weinstein/internal/scheduler"
)

// HealthResponse is the JSON body of GET /api/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	NextRun   *time.Time        `json:"next_update,omitempty"`
	LastRun   *scheduler.Report `json:"last_update_run,omitempty"`
}

// CreateStockRequest is the JSON body of POST /api/admin/stocks.
type CreateStockRequest struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

// UpdateStockRequest is the JSON body of PUT /api/admin/stocks/{id}.
// Omitted fields keep their current value.
type UpdateStockRequest struct {
	Name     *string `json:"name"`
	Exchange *string `json:"exchange"`
	Active   *bool   `json:"active"`
}

// StocksResponse lists the tracked universe.
type StocksResponse struct {
	Total  int            `json:"total"`
	Stocks []domain.Stock `json:"stocks"`
}

// StopRequest is the JSON body of PUT /api/portfolio/{id}/stop.
type StopRequest struct {
	StopLoss float64 `json:"stop_loss"`
}

// CloseRequest is the JSON body of POST /api/portfolio/{id}/close. A
// missing exit date means today.
type CloseRequest struct {
	ExitDate  domain.Date `json:"exit_date"`
	ExitPrice float64     `json:"exit_price"`
}

// DeletedResponse reports how many rows a DELETE removed.
type DeletedResponse struct {
	Deleted int `json:"deleted"`
}

// TransitionsResponse is the JSON body of the transitions endpoint.
type TransitionsResponse struct {
	Ticker      string `json:"ticker"`
	Weeks       int    `json:"weeks"`
	Transitions any    `json:"transitions"`
}

// WatchlistResponse is the JSON body of GET /api/watchlist.
type WatchlistResponse struct {
	Total  int `json:"total"`
	Stocks any `json:"stocks"`
}
