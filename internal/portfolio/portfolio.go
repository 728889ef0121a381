// Package portfolio tracks manually entered positions and marks them to the
// latest weekly close.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"weinstein/internal/domain"
	"weinstein/internal/store"
)

// Manager opens, values and closes positions.
type Manager struct {
	stocks    store.StockStore
	weekly    store.WeeklyStore
	positions store.PositionStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a Manager over st.
func NewManager(st store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		stocks:    st,
		weekly:    st,
		positions: st,
		logger:    logger,
		now:       time.Now,
	}
}

// Open validates req and records a new open position. The ticker must be a
// tracked stock.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	stock, err := m.stocks.GetStock(ctx, strings.ToUpper(strings.TrimSpace(req.Ticker)))
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", req.Ticker, err)
	}
	p := &domain.Position{
		ID:         uuid.NewString(),
		StockID:    stock.ID,
		Ticker:     stock.Ticker,
		Name:       stock.Name,
		EntryDate:  req.EntryDate,
		EntryPrice: req.EntryPrice,
		Quantity:   req.Quantity,
		StopLoss:   req.StopLoss,
		Status:     domain.PositionOpen,
		Notes:      req.Notes,
		CreatedAt:  m.now().UTC(),
	}
	if p.EntryDate.IsZero() {
		p.EntryDate = domain.NewDate(m.now())
	}
	if err := m.positions.CreatePosition(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info("position opened", "id", p.ID, "ticker", p.Ticker, "entry", p.EntryPrice, "stop", p.StopLoss)
	return p, nil
}

func (m *Manager) latestClose(ctx context.Context, stockID int64) (*float64, error) {
	recs, err := m.weekly.ReadWeekly(ctx, stockID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0].Close, nil
}

// ListOpen values every open position at its stock's latest weekly close.
func (m *Manager) ListOpen(ctx context.Context) ([]Valuation, error) {
	ps, err := m.positions.ListPositions(ctx, domain.PositionOpen)
	if err != nil {
		return nil, err
	}
	prices := make(map[int64]*float64)
	out := make([]Valuation, 0, len(ps))
	for _, p := range ps {
		price, ok := prices[p.StockID]
		if !ok {
			if price, err = m.latestClose(ctx, p.StockID); err != nil {
				return nil, err
			}
			prices[p.StockID] = price
		}
		out = append(out, Value(p, price))
	}
	return out, nil
}

// History lists closed positions valued at their exit price.
type History struct {
	Positions []Valuation `json:"positions"`
	TotalPnL  float64     `json:"total_pnl"`
}

// ClosedHistory returns closed positions and their realized total.
func (m *Manager) ClosedHistory(ctx context.Context) (*History, error) {
	ps, err := m.positions.ListPositions(ctx, domain.PositionClosed)
	if err != nil {
		return nil, err
	}
	h := &History{Positions: make([]Valuation, 0, len(ps))}
	for _, p := range ps {
		v := Value(p, p.ExitPrice)
		if v.PnL != nil {
			h.TotalPnL += *v.PnL
		}
		h.Positions = append(h.Positions, v)
	}
	return h, nil
}

// Summary aggregates the open positions.
func (m *Manager) Summary(ctx context.Context) (Summary, error) {
	vals, err := m.ListOpen(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(vals), nil
}

func (m *Manager) openPosition(ctx context.Context, id string) (*domain.Position, error) {
	p, err := m.positions.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PositionOpen {
		return nil, fmt.Errorf("%s: %w", id, ErrNotOpen)
	}
	return p, nil
}

// UpdateStop moves the stop of an open position. Raising it above entry is
// allowed so trailing stops can lock in gains.
func (m *Manager) UpdateStop(ctx context.Context, id string, stop float64) error {
	if stop <= 0 {
		return fmt.Errorf("%w: stop loss must be positive", ErrInvalidPosition)
	}
	if _, err := m.openPosition(ctx, id); err != nil {
		return err
	}
	return m.positions.UpdateStop(ctx, id, stop)
}

// Close records the exit of an open position. A zero exitDate means today.
func (m *Manager) Close(ctx context.Context, id string, exitDate domain.Date, exitPrice float64) (*Valuation, error) {
	if exitPrice <= 0 {
		return nil, fmt.Errorf("%w: exit price must be positive", ErrInvalidPosition)
	}
	p, err := m.openPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if exitDate.IsZero() {
		exitDate = domain.NewDate(m.now())
	}
	if exitDate.Before(p.EntryDate.Time) {
		return nil, fmt.Errorf("%w: exit date %s before entry %s", ErrInvalidPosition, exitDate, p.EntryDate)
	}
	if err := m.positions.ClosePosition(ctx, id, exitDate, exitPrice); err != nil {
		return nil, err
	}
	p.Status = domain.PositionClosed
	p.ExitDate = exitDate
	p.ExitPrice = &exitPrice
	v := Value(*p, p.ExitPrice)
	m.logger.Info("position closed", "id", id, "ticker", p.Ticker, "exit", exitPrice, "pnl", *v.PnL)
	return &v, nil
}

// ClearHistory deletes every closed position.
func (m *Manager) ClearHistory(ctx context.Context) (int, error) {
	return m.positions.DeleteClosed(ctx)
}
