package portfolio

import (
	"errors"
	"fmt"
	"strings"

	"weinstein/internal/domain"
)

// ErrInvalidPosition is returned for requests that fail validation.
var ErrInvalidPosition = errors.New("invalid position")

// ErrNotOpen is returned when modifying a position that is already closed.
var ErrNotOpen = errors.New("position is not open")

// OpenRequest describes a new position.
type OpenRequest struct {
	Ticker     string      `json:"ticker"`
	EntryDate  domain.Date `json:"entry_date"`
	EntryPrice float64     `json:"entry_price"`
	Quantity   float64     `json:"quantity"`
	StopLoss   float64     `json:"stop_loss"`
	Notes      string      `json:"notes"`
}

// Validate checks that prices and quantity are positive and the stop sits
// below the entry.
func (r OpenRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Ticker) == "":
		return fmt.Errorf("%w: ticker is required", ErrInvalidPosition)
	case r.EntryPrice <= 0:
		return fmt.Errorf("%w: entry price must be positive", ErrInvalidPosition)
	case r.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidPosition)
	case r.StopLoss <= 0:
		return fmt.Errorf("%w: stop loss must be positive", ErrInvalidPosition)
	case r.StopLoss >= r.EntryPrice:
		return fmt.Errorf("%w: stop loss %.2f must be below entry %.2f", ErrInvalidPosition, r.StopLoss, r.EntryPrice)
	}
	return nil
}

// Valuation is a position marked to a price.
type Valuation struct {
	domain.Position
	CurrentPrice  *float64 `json:"current_price"`
	Invested      float64  `json:"invested"`
	PnL           *float64 `json:"pnl"`
	PnLPct        *float64 `json:"pnl_pct"`
	DistStopPct   *float64 `json:"dist_stop_pct"`
	StopTriggered bool     `json:"stop_triggered"`
}

// Value marks p to price. A nil price leaves every derived field nil.
func Value(p domain.Position, price *float64) Valuation {
	v := Valuation{
		Position:     p,
		CurrentPrice: price,
		Invested:     p.EntryPrice * p.Quantity,
	}
	if price == nil || *price <= 0 {
		return v
	}
	pnl := (*price - p.EntryPrice) * p.Quantity
	pct := (*price - p.EntryPrice) / p.EntryPrice * 100
	dist := (*price - p.StopLoss) / *price * 100
	v.PnL = &pnl
	v.PnLPct = &pct
	v.DistStopPct = &dist
	v.StopTriggered = p.Status == domain.PositionOpen && *price <= p.StopLoss
	return v
}

// Summary aggregates the open book.
type Summary struct {
	OpenCount     int     `json:"open_count"`
	TotalInvested float64 `json:"total_invested"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnLPct     float64 `json:"avg_pnl_pct"`
	StopsHit      int     `json:"stops_triggered"`
}

// Summarize totals a set of open valuations. Positions without a price
// count toward invested capital only.
func Summarize(vals []Valuation) Summary {
	var s Summary
	var pctSum float64
	var priced int
	for _, v := range vals {
		s.OpenCount++
		s.TotalInvested += v.Invested
		if v.PnL != nil {
			s.TotalPnL += *v.PnL
			pctSum += *v.PnLPct
			priced++
		}
		if v.StopTriggered {
			s.StopsHit++
		}
	}
	if priced > 0 {
		s.AvgPnLPct = pctSum / float64(priced)
	}
	return s
}
