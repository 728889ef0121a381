package weinstein

import (
	"context"
	"errors"
	"sync"

	"weinstein/internal/dashboard"
	"weinstein/internal/history"
	"weinstein/internal/tablesort"
)

// ErrStale is returned by StockView.Load when a newer Load started before
// this one finished. The view keeps the newer state.
var ErrStale = errors.New("response superseded by a newer request")

// History table columns.
const (
	ColWeek = iota
	ColStage
	ColClose
	ColMA30
	ColRS
	ColVolume
)

var historyHeaders = []string{"Week", "Stage", "Close", "MA30", "RS", "Volume"}

var historyColumns = []tablesort.ColumnSpec{
	{Index: ColWeek, Type: tablesort.Date},
	{Index: ColStage, Type: tablesort.String},
	{Index: ColClose, Type: tablesort.Currency},
	{Index: ColMA30, Type: tablesort.Currency},
	{Index: ColRS, Type: tablesort.Number},
	{Index: ColVolume, Type: tablesort.Number},
}

// StockView is the state behind one stock detail page: the full history
// fetched once, the selected period and the sort state of the history
// table. Changing the period recomputes the chart and table locally.
type StockView struct {
	client   *Client
	seq      Sequencer
	currency string

	mu     sync.Mutex
	detail *dashboard.StockDetail
	weeks  int
	chart  dashboard.Chart
	table  *tablesort.Table
	sorter *tablesort.Sorter
}

// NewStockView creates an empty view showing weeks of history.
func NewStockView(c *Client, weeks int) *StockView {
	return &StockView{client: c, weeks: weeks, currency: dashboard.DefaultCurrency}
}

// Load fetches ticker and installs it unless a later Load has started in
// the meantime, in which case it returns ErrStale.
func (v *StockView) Load(ctx context.Context, ticker string) error {
	token := v.seq.Next()
	v.mu.Lock()
	weeks := v.weeks
	v.mu.Unlock()

	d, err := v.client.StockDetail(ctx, ticker, weeks)

	// Check and install under one lock: a Load that supersedes this one
	// after the check can only install after it.
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.seq.Accept(token) {
		return ErrStale
	}
	if err != nil {
		return err
	}
	v.detail = d
	v.rebuild()
	return nil
}

// SetPeriod switches the visible window without refetching. weeks 0 shows
// the whole history.
func (v *StockView) SetPeriod(weeks int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.weeks = weeks
	if v.detail != nil {
		v.rebuild()
	}
}

// rebuild derives the chart and a fresh history table from the cached
// history. The previous sort state is discarded with the old table.
func (v *StockView) rebuild() {
	v.chart = dashboard.BuildChart(v.detail.History, v.weeks)
	win := history.SliceWindow(v.detail.History, v.weeks)

	t := &tablesort.Table{Headers: historyHeaders, Rows: make([][]string, 0, len(win))}
	for i := len(win) - 1; i >= 0; i-- {
		w := win[i]
		t.Rows = append(t.Rows, []string{
			w.WeekEndDate.String(),
			dashboard.FormatStage(w.Stage),
			dashboard.FormatPrice(w.Close, v.currency),
			dashboard.FormatPrice(w.MA30, v.currency),
			dashboard.FormatPrice(w.RS, ""),
			volumeText(w.Volume),
		})
	}
	v.table = t
	v.sorter = tablesort.Attach(t, historyColumns)
}

func volumeText(v *int64) string {
	if v == nil {
		return dashboard.NotAvailable
	}
	return dashboard.FormatInt(*v)
}

// Ticker returns the loaded ticker, or "" before the first Load.
func (v *StockView) Ticker() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.detail == nil {
		return ""
	}
	return v.detail.Ticker
}

// Weeks returns the selected period.
func (v *StockView) Weeks() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.weeks
}

// Current returns the latest week of the loaded stock.
func (v *StockView) Current() (dashboard.Current, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.detail == nil {
		return dashboard.Current{}, false
	}
	return v.detail.Current, true
}

// Chart returns the chart data of the visible window.
func (v *StockView) Chart() dashboard.Chart {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.chart
}

// RecentTransitions returns up to k stage changes inside the visible
// window, most recent first.
func (v *StockView) RecentTransitions(k int) []history.Transition {
	v.mu.Lock()
	defer v.mu.Unlock()
	return history.Recent(v.chart.Transitions, k)
}

// Rows returns a copy of the history table rows in their current order,
// newest week first until a column is sorted.
func (v *StockView) Rows() [][]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.table == nil {
		return nil
	}
	out := make([][]string, len(v.table.Rows))
	copy(out, v.table.Rows)
	return out
}

// Headers returns the history table headers with their sort indicators.
func (v *StockView) Headers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(historyHeaders))
	for i, h := range historyHeaders {
		if v.sorter == nil {
			out[i] = h
			continue
		}
		out[i] = v.sorter.Label(i)
	}
	return out
}

// SortBy acts as a click on the header of col.
func (v *StockView) SortBy(col int) tablesort.Direction {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sorter == nil {
		return tablesort.None
	}
	v.sorter.Click(col)
	return v.sorter.Direction(col)
}
