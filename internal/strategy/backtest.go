package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"

	"weinstein/internal/domain"
	"weinstein/internal/store"
)

// Exit reasons recorded on simulated trades.
const (
	ExitStopLoss  = "STOP_LOSS"
	ExitBelowMA30 = "BELOW_MA30"
	ExitHold      = "HOLD"
)

// BacktestOptions configures stop management for simulated trades.
type BacktestOptions struct {
	InitialStopPct  float64 // stop below entry, in percent
	TrailingStopPct float64 // stop below the highest close, in percent
	MaxDays         int     // calendar days of daily data considered after entry
}

// DefaultBacktestOptions returns an 8% initial stop, a 15% trailing stop and
// a 400-day horizon.
func DefaultBacktestOptions() BacktestOptions {
	return BacktestOptions{InitialStopPct: 8, TrailingStopPct: 15, MaxDays: 400}
}

// Trade is one simulated round trip opened on a BUY signal.
type Trade struct {
	Ticker       string      `json:"ticker"`
	EntryDate    domain.Date `json:"entry_date"`
	EntryPrice   float64     `json:"entry_price"`
	InitialStop  float64     `json:"initial_stop"`
	ExitDate     domain.Date `json:"exit_date"`
	ExitPrice    float64     `json:"exit_price"`
	ExitReason   string      `json:"exit_reason"`
	HighestPrice float64     `json:"highest_price"`
	FinalStop    float64     `json:"final_stop"`
	DaysHeld     int         `json:"days_held"`
	ReturnPct    float64     `json:"return_pct"`
}

// Winner reports whether the trade closed with a gain.
func (t Trade) Winner() bool { return t.ReturnPct > 0 }

// BacktestResult holds the summary metrics produced by a backtest run.
type BacktestResult struct {
	Trades       []Trade        `json:"trades"`
	TotalTrades  int            `json:"total_trades"`
	Winners      int            `json:"winners"`
	WinRate      float64        `json:"win_rate"`
	AvgReturn    float64        `json:"avg_return"`
	TotalReturn  float64        `json:"total_return"`
	MaxDrawdown  float64        `json:"max_drawdown"`
	ProfitFactor float64        `json:"profit_factor"`
	ExitReasons  map[string]int `json:"exit_reasons"`
}

// SimulateTrade replays daily bars after a BUY signal. The stop starts at
// InitialStopPct below entry and only ever rises, trailing the highest close
// by TrailingStopPct. A day whose low touches the stop exits at the stop.
// Otherwise the latest completed week decides: Stage 3 or 4 exits, as does a
// weekly close below its MA30. ok is false when no bars follow the entry.
func SimulateTrade(sig domain.Signal, daily []domain.DailyBar, weekly []domain.WeeklyRecord, opts BacktestOptions) (Trade, bool) {
	entry := sig.Price
	t := Trade{
		Ticker:      sig.Ticker,
		EntryDate:   sig.Date,
		EntryPrice:  entry,
		InitialStop: entry * (1 - opts.InitialStopPct/100),
	}
	highest := entry
	stop := t.InitialStop

	horizon := sig.Date.AddDate(0, 0, opts.MaxDays)
	var weeks []domain.WeeklyRecord
	for _, w := range weekly {
		if w.WeekEndDate.After(sig.Date.Time) {
			weeks = append(weeks, w)
		}
	}

	var last *domain.DailyBar
	wi := -1
	for i := range daily {
		day := daily[i]
		if !day.Date.After(sig.Date.Time) {
			continue
		}
		if opts.MaxDays > 0 && day.Date.After(horizon) {
			break
		}
		last = &daily[i]

		if day.Close > highest {
			highest = day.Close
			if trail := highest * (1 - opts.TrailingStopPct/100); trail > stop {
				stop = trail
			}
		}
		if day.Low <= stop {
			return finishTrade(t, day.Date, stop, ExitStopLoss, highest, stop), true
		}

		for wi+1 < len(weeks) && !weeks[wi+1].WeekEndDate.After(day.Date.Time) {
			wi++
		}
		if wi < 0 {
			continue
		}
		wk := weeks[wi]
		if wk.Stage == domain.StageTop || wk.Stage == domain.StageDowntrend {
			return finishTrade(t, day.Date, day.Close, fmt.Sprintf("STAGE_CHANGE_TO_%d", wk.Stage), highest, stop), true
		}
		if wk.MA30 != nil && wk.Close != nil && *wk.Close < *wk.MA30 {
			return finishTrade(t, day.Date, day.Close, ExitBelowMA30, highest, stop), true
		}
	}
	if last == nil {
		return Trade{}, false
	}
	return finishTrade(t, last.Date, last.Close, ExitHold, highest, stop), true
}

func finishTrade(t Trade, date domain.Date, price float64, reason string, highest, stop float64) Trade {
	t.ExitDate = date
	t.ExitPrice = price
	t.ExitReason = reason
	t.HighestPrice = highest
	t.FinalStop = stop
	t.DaysHeld = int(date.Sub(t.EntryDate.Time).Hours() / 24)
	if t.EntryPrice != 0 {
		t.ReturnPct = (price - t.EntryPrice) / t.EntryPrice * 100
	}
	return t
}

// Summarize computes aggregate metrics over trades. Drawdown is measured on
// the running sum of returns in exit order.
func Summarize(trades []Trade) BacktestResult {
	res := BacktestResult{Trades: trades, TotalTrades: len(trades), ExitReasons: map[string]int{}}
	if len(trades) == 0 {
		return res
	}
	ordered := append([]Trade(nil), trades...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ExitDate.Before(ordered[j].ExitDate.Time) })

	var gains, losses, equity, peak float64
	for _, t := range ordered {
		res.ExitReasons[t.ExitReason]++
		res.TotalReturn += t.ReturnPct
		if t.Winner() {
			res.Winners++
			gains += t.ReturnPct
		} else {
			losses += -t.ReturnPct
		}
		equity += t.ReturnPct
		peak = math.Max(peak, equity)
		res.MaxDrawdown = math.Max(res.MaxDrawdown, peak-equity)
	}
	res.WinRate = float64(res.Winners) / float64(len(trades)) * 100
	res.AvgReturn = res.TotalReturn / float64(len(trades))
	if losses > 0 {
		res.ProfitFactor = gains / losses
	}
	return res
}

// Backtester replays stored BUY signals against stored prices.
type Backtester struct {
	bars    store.BarStore
	weeks   store.WeeklyStore
	signals store.SignalStore
	opts    BacktestOptions
}

// NewBacktester creates a Backtester reading from st.
func NewBacktester(st store.Store, opts BacktestOptions) *Backtester {
	return &Backtester{bars: st, weeks: st, signals: st, opts: opts}
}

// Run simulates every BUY signal on or after since.
func (bt *Backtester) Run(ctx context.Context, since domain.Date) (*BacktestResult, error) {
	sigs, err := bt.signals.ListSignals(ctx, store.SignalFilter{Type: domain.SignalBuy, Since: since})
	if err != nil {
		return nil, err
	}
	weeklyCache := make(map[int64][]domain.WeeklyRecord)
	var trades []Trade
	for _, sig := range sigs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		weekly, ok := weeklyCache[sig.StockID]
		if !ok {
			weekly, err = bt.weeks.ReadWeekly(ctx, sig.StockID, 0)
			if err != nil {
				return nil, err
			}
			weeklyCache[sig.StockID] = weekly
		}
		end := domain.NewDate(sig.Date.AddDate(0, 0, bt.opts.MaxDays))
		daily, err := bt.bars.ReadDailyBars(ctx, sig.StockID, sig.Date, end)
		if err != nil {
			return nil, err
		}
		if t, ok := SimulateTrade(sig, daily, weekly, bt.opts); ok {
			trades = append(trades, t)
		}
	}
	res := Summarize(trades)
	return &res, nil
}
