// Package store defines storage interfaces for stocks, daily bars, weekly
// stage records, signals and portfolio positions, and provides a SQL
// implementation plus a Parquet archive for weekly history.
package store

import (
	"context"
	"errors"

	"weinstein/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// StockStore persists the tracked universe.
type StockStore interface {
	// UpsertStock inserts a stock or updates the one with the same ticker,
	// filling in its ID.
	UpsertStock(ctx context.Context, s *domain.Stock) error

	// GetStock returns the stock with the given ticker.
	GetStock(ctx context.Context, ticker string) (*domain.Stock, error)

	// GetStockByID returns the stock with the given ID.
	GetStockByID(ctx context.Context, id int64) (*domain.Stock, error)

	// ListStocks returns stocks ordered by ticker.
	ListStocks(ctx context.Context, activeOnly bool) ([]domain.Stock, error)

	// UpdateStock overwrites name, exchange and active flag.
	UpdateStock(ctx context.Context, s *domain.Stock) error

	// DeleteStock removes a stock and all of its data.
	DeleteStock(ctx context.Context, id int64) error
}

// BarStore persists daily OHLCV bars.
type BarStore interface {
	// WriteDailyBars upserts bars keyed by (stock, date).
	WriteDailyBars(ctx context.Context, bars []domain.DailyBar) error

	// ReadDailyBars returns bars for a stock within [start, end], ascending.
	// A zero bound is open.
	ReadDailyBars(ctx context.Context, stockID int64, start, end domain.Date) ([]domain.DailyBar, error)

	// LastBarDate returns the most recent bar date of a stock, or a zero
	// Date when it has none.
	LastBarDate(ctx context.Context, stockID int64) (domain.Date, error)
}

// WeeklyStore persists weekly stage records.
type WeeklyStore interface {
	// WriteWeekly upserts records keyed by (stock, week end date).
	WriteWeekly(ctx context.Context, recs []domain.WeeklyRecord) error

	// ReadWeekly returns the last limit records of a stock in ascending
	// order. limit <= 0 returns all of them.
	ReadWeekly(ctx context.Context, stockID int64, limit int) ([]domain.WeeklyRecord, error)

	// ListLatest returns each active stock with its most recent week.
	ListLatest(ctx context.Context, f LatestFilter) ([]Snapshot, int, error)

	// StageDistribution counts active stocks by their latest stage.
	StageDistribution(ctx context.Context) (map[domain.Stage]int, error)

	// LastUpdate returns the most recent week end date stored.
	LastUpdate(ctx context.Context) (domain.Date, error)
}

// SignalStore persists stage-transition signals.
type SignalStore interface {
	// SaveSignals inserts signals, skipping any that already exist for the
	// same (stock, date, type). It returns the number inserted.
	SaveSignals(ctx context.Context, sigs []domain.Signal) (int, error)

	// ListSignals returns signals newest first.
	ListSignals(ctx context.Context, f SignalFilter) ([]domain.Signal, error)

	// CountSignalsSince counts signals by type on or after since.
	CountSignalsSince(ctx context.Context, since domain.Date) (map[domain.SignalType]int, error)

	// MarkNotified flags the given signals as delivered.
	MarkNotified(ctx context.Context, ids []int64) error
}

// PositionStore persists portfolio positions.
type PositionStore interface {
	CreatePosition(ctx context.Context, p *domain.Position) error
	GetPosition(ctx context.Context, id string) (*domain.Position, error)
	ListPositions(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error)
	UpdateStop(ctx context.Context, id string, stop float64) error
	ClosePosition(ctx context.Context, id string, exitDate domain.Date, exitPrice float64) error
	DeleteClosed(ctx context.Context) (int, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	StockStore
	BarStore
	WeeklyStore
	SignalStore
	PositionStore
	Close() error
}

// Snapshot pairs a stock with its latest weekly record.
type Snapshot struct {
	Stock  domain.Stock
	Latest domain.WeeklyRecord
}

// LatestFilter narrows ListLatest. Stage zero means any stage.
type LatestFilter struct {
	Stage  domain.Stage
	Search string
	Limit  int
	Offset int
}

// SignalFilter narrows ListSignals. Zero fields are ignored.
type SignalFilter struct {
	StockID int64
	Type    domain.SignalType
	Since   domain.Date
	Limit   int
}
