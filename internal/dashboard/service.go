package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"weinstein/internal/cache"
	"weinstein/internal/domain"
	"weinstein/internal/history"
	"weinstein/internal/store"
)

// ErrNoHistory is returned when a stock exists but has no weekly records.
var ErrNoHistory = errors.New("no weekly history")

// RecentTransitionCount is how many stage changes the detail view lists.
const RecentTransitionCount = 10

// SignalFeedDays is the default look-back of the signal feed.
const SignalFeedDays = 30

// ServiceOptions configures a Service.
type ServiceOptions struct {
	CacheTTL time.Duration // zero disables caching of detail payloads
	Currency string
}

// Service builds the dashboard payloads from the store.
type Service struct {
	store  store.Store
	cache  cache.Cache
	opts   ServiceOptions
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service. A nil cache falls back to an in-process one.
func NewService(st store.Store, c cache.Cache, opts ServiceOptions, logger *slog.Logger) *Service {
	if c == nil {
		c = cache.NewMemory()
	}
	if opts.Currency == "" {
		opts.Currency = DefaultCurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, cache: c, opts: opts, logger: logger, now: time.Now}
}

// ---------------------------------------------------------------------------
// Stock detail
// ---------------------------------------------------------------------------

// Current is the latest week of a stock.
type Current struct {
	Stage            domain.Stage `json:"stage"`
	Price            *float64     `json:"price"`
	MA30             *float64     `json:"ma30"`
	DistanceFromMA30 *float64     `json:"distance_from_ma30"`
	MA30Slope        *float64     `json:"ma30_slope"`
	WeekEndDate      domain.Date  `json:"week_end_date"`
}

// Display holds preformatted strings for the current week.
type Display struct {
	Stage    string `json:"stage"`
	Price    string `json:"price"`
	MA30     string `json:"ma30"`
	Distance string `json:"distance_from_ma30"`
	Slope    string `json:"ma30_slope"`
	Volume   string `json:"volume"`
}

// StockDetail is the stock-detail payload. History carries every stored
// week so a client can re-window it; Chart is already windowed to Weeks.
type StockDetail struct {
	Ticker            string                `json:"ticker"`
	Name              string                `json:"name"`
	Exchange          string                `json:"exchange"`
	Current           Current               `json:"current"`
	Signals           []domain.Signal       `json:"signals"`
	History           []domain.WeeklyRecord `json:"history"`
	Weeks             int                   `json:"weeks"`
	Chart             Chart                 `json:"chart"`
	RecentTransitions []history.Transition  `json:"recent_transitions"`
	Stage             StageStyle            `json:"stage_info"`
	Display           Display               `json:"display"`
	Periods           []history.Period      `json:"periods"`
}

// DistanceFromMA30 returns how far close sits from ma30, in percent.
func DistanceFromMA30(close, ma30 *float64) *float64 {
	if close == nil || ma30 == nil || *ma30 == 0 {
		return nil
	}
	d := (*close - *ma30) / *ma30 * 100
	return &d
}

// CurrentFrom summarizes a weekly record.
func CurrentFrom(w domain.WeeklyRecord) Current {
	return Current{
		Stage:            w.Stage,
		Price:            w.Close,
		MA30:             w.MA30,
		DistanceFromMA30: DistanceFromMA30(w.Close, w.MA30),
		MA30Slope:        w.MA30Slope,
		WeekEndDate:      w.WeekEndDate,
	}
}

func (s *Service) display(w domain.WeeklyRecord, cur Current) Display {
	return Display{
		Stage:    FormatStage(w.Stage),
		Price:    FormatPrice(w.Close, s.opts.Currency),
		MA30:     FormatPrice(w.MA30, s.opts.Currency),
		Distance: FormatPercent(cur.DistanceFromMA30),
		Slope:    FormatRatio(w.MA30Slope),
		Volume:   FormatVolume(w.Volume),
	}
}

func detailKey(ticker string, weeks int) string {
	return fmt.Sprintf("stock:%s:%d", ticker, weeks)
}

// StockDetail returns the detail payload for ticker with its chart windowed
// to weeks. It returns store.ErrNotFound for an unknown ticker and
// ErrNoHistory when nothing has been processed for it yet.
func (s *Service) StockDetail(ctx context.Context, ticker string, weeks int) (*StockDetail, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	key := detailKey(ticker, weeks)

	if s.opts.CacheTTL > 0 {
		var cached StockDetail
		ok, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("cache read failed", "key", key, "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	stock, err := s.store.GetStock(ctx, ticker)
	if err != nil {
		return nil, err
	}
	hist, err := s.store.ReadWeekly(ctx, stock.ID, 0)
	if err != nil {
		return nil, err
	}
	if len(hist) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, ErrNoHistory)
	}
	sigs, err := s.store.ListSignals(ctx, store.SignalFilter{StockID: stock.ID, Limit: 10})
	if err != nil {
		return nil, err
	}

	latest := hist[len(hist)-1]
	cur := CurrentFrom(latest)
	chart := BuildChart(hist, weeks)
	d := &StockDetail{
		Ticker:            stock.Ticker,
		Name:              stock.Name,
		Exchange:          stock.Exchange,
		Current:           cur,
		Signals:           sigs,
		History:           hist,
		Weeks:             weeks,
		Chart:             chart,
		RecentTransitions: history.Recent(chart.Transitions, RecentTransitionCount),
		Stage:             StageInfo(latest.Stage),
		Display:           s.display(latest, cur),
		Periods:           history.Periods,
	}
	if d.Signals == nil {
		d.Signals = []domain.Signal{}
	}

	if s.opts.CacheTTL > 0 {
		if err := s.cache.Set(ctx, key, d, s.opts.CacheTTL); err != nil {
			s.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return d, nil
}

// Transitions returns the last limit stage changes of ticker within the
// trailing weeks window, most recent first. limit <= 0 returns all.
func (s *Service) Transitions(ctx context.Context, ticker string, weeks, limit int) ([]history.Transition, error) {
	stock, err := s.store.GetStock(ctx, strings.ToUpper(ticker))
	if err != nil {
		return nil, err
	}
	hist, err := s.store.ReadWeekly(ctx, stock.ID, 0)
	if err != nil {
		return nil, err
	}
	ts := history.DetectTransitions(history.SliceWindow(hist, weeks))
	if limit <= 0 {
		limit = len(ts)
	}
	out := history.Recent(ts, limit)
	if out == nil {
		out = []history.Transition{}
	}
	return out, nil
}

// Invalidate drops every cached payload. It runs after new data is processed.
func (s *Service) Invalidate(ctx context.Context) error {
	if err := s.cache.DeletePrefix(ctx, "stock:"); err != nil {
		return err
	}
	return s.cache.Delete(ctx, statsKey)
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// StockRow is one line of the stock list.
type StockRow struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Current
}

// StockList is a page of StockRows.
type StockList struct {
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	Stocks []StockRow `json:"stocks"`
}

func rowsFrom(snaps []store.Snapshot) []StockRow {
	rows := make([]StockRow, len(snaps))
	for i, sn := range snaps {
		rows[i] = StockRow{
			Ticker:   sn.Stock.Ticker,
			Name:     sn.Stock.Name,
			Exchange: sn.Stock.Exchange,
			Current:  CurrentFrom(sn.Latest),
		}
	}
	return rows
}

// Stocks lists active stocks with their latest week, strongest MA30 slope
// first.
func (s *Service) Stocks(ctx context.Context, f store.LatestFilter) (*StockList, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	snaps, total, err := s.store.ListLatest(ctx, f)
	if err != nil {
		return nil, err
	}
	return &StockList{Total: total, Limit: f.Limit, Offset: f.Offset, Stocks: rowsFrom(snaps)}, nil
}

// Watchlist lists every Stage 2 stock, strongest slope first.
func (s *Service) Watchlist(ctx context.Context) ([]StockRow, error) {
	snaps, _, err := s.store.ListLatest(ctx, store.LatestFilter{Stage: domain.StageUptrend})
	if err != nil {
		return nil, err
	}
	return rowsFrom(snaps), nil
}

// SignalFeed is the recent signals list.
type SignalFeed struct {
	Total   int             `json:"total"`
	Signals []domain.Signal `json:"signals"`
}

// Signals returns signals of type t (any when empty) from the last days
// days, newest first.
func (s *Service) Signals(ctx context.Context, t domain.SignalType, days, limit int) (*SignalFeed, error) {
	if days <= 0 {
		days = SignalFeedDays
	}
	if limit <= 0 {
		limit = 50
	}
	since := domain.NewDate(s.now().AddDate(0, 0, -days))
	sigs, err := s.store.ListSignals(ctx, store.SignalFilter{Type: t, Since: since, Limit: limit})
	if err != nil {
		return nil, err
	}
	if sigs == nil {
		sigs = []domain.Signal{}
	}
	return &SignalFeed{Total: len(sigs), Signals: sigs}, nil
}
