package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/sync/errgroup"

	"weinstein/internal/domain"
	"weinstein/internal/gather"
	"weinstein/internal/store"
	"weinstein/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*DailyBarGatherer)(nil)
var _ BarSource = (*marketdata.Client)(nil)
var _ CalendarSource = (*alpaca.Client)(nil)

// BarSource fetches bars for several symbols at once. *marketdata.Client
// satisfies it.
type BarSource interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewBarSource creates an Alpaca market-data client.
func NewBarSource(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// ---------------------------------------------------------------------------
// DailyBarGatherer: incremental daily OHLCV bars from the Alpaca API.
// ---------------------------------------------------------------------------

// Options configures a DailyBarGatherer.
type Options struct {
	StartDate       domain.Date // first day fetched for stocks without bars
	BatchSize       int         // symbols per API call
	MaxWorkers      int         // concurrent batches
	RateLimitPerMin int         // API calls per minute, 0 for unlimited
	MaxRetries      int         // attempts per batch
	RetryDelay      time.Duration
	Feed            string // "iex" or "sip"
	Progress        gather.ProgressFunc
}

// DailyBarGatherer fetches daily bars for every active stock, resuming each
// one from the day after its last stored bar.
type DailyBarGatherer struct {
	source   BarSource
	calendar CalendarSource
	stocks   store.StockStore
	bars     store.BarStore
	limiter  *util.RateLimiter
	opts     Options
	now      func() time.Time
	log      *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer reading from src and
// writing to st.
func NewDailyBarGatherer(src BarSource, st store.Store, opts Options, logger *slog.Logger) *DailyBarGatherer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.StartDate.IsZero() {
		opts.StartDate = domain.MustDate("2020-01-01")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DailyBarGatherer{
		source:  src,
		stocks:  st,
		bars:    st,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		opts:    opts,
		now:     time.Now,
		log:     logger.With("gatherer", "us-daily"),
	}
}

// WithCalendar makes the gatherer stop at the latest finished session
// reported by cal instead of yesterday.
func (g *DailyBarGatherer) WithCalendar(cal CalendarSource) *DailyBarGatherer {
	g.calendar = cal
	return g
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run performs one incremental collection pass.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	_, err := g.Collect(ctx)
	return err
}

func (g *DailyBarGatherer) endDate() domain.Date {
	if g.calendar != nil {
		day, err := LatestFinishedTradingDay(g.calendar, g.now())
		if err == nil {
			return domain.NewDate(day)
		}
		g.log.Warn("trading calendar unavailable, using yesterday", "error", err)
	}
	day := g.now().AddDate(0, 0, -1)
	if util.IsWeekend(day) {
		day = util.LastCompletedWeek(day)
	}
	return domain.NewDate(day)
}

type batch struct {
	start   domain.Date
	tickers []string
}

// plan groups stocks that resume on the same day into batches.
func (g *DailyBarGatherer) plan(ctx context.Context, stocks []domain.Stock, end domain.Date) ([]batch, error) {
	byStart := make(map[domain.Date][]string)
	for _, s := range stocks {
		last, err := g.bars.LastBarDate(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("last bar of %s: %w", s.Ticker, err)
		}
		start := g.opts.StartDate
		if !last.IsZero() {
			start = domain.NewDate(last.AddDate(0, 0, 1))
		}
		if start.After(end.Time) {
			continue
		}
		byStart[start] = append(byStart[start], s.Ticker)
	}

	starts := make([]domain.Date, 0, len(byStart))
	for d := range byStart {
		starts = append(starts, d)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j].Time) })

	var out []batch
	for _, d := range starts {
		tickers := byStart[d]
		sort.Strings(tickers)
		for i := 0; i < len(tickers); i += g.opts.BatchSize {
			out = append(out, batch{start: d, tickers: tickers[i:min(i+g.opts.BatchSize, len(tickers))]})
		}
	}
	return out, nil
}

// Collect fetches and stores missing daily bars. A batch that still fails
// after its retries is logged and reported in Result.Failed; the pass
// continues with the remaining batches.
func (g *DailyBarGatherer) Collect(ctx context.Context) (*gather.Result, error) {
	runStart := time.Now()
	stocks, err := g.stocks.ListStocks(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing stocks: %w", err)
	}
	ids := make(map[string]int64, len(stocks))
	for _, s := range stocks {
		ids[s.Ticker] = s.ID
	}

	end := g.endDate()
	batches, err := g.plan(ctx, stocks, end)
	if err != nil {
		return nil, err
	}

	res := &gather.Result{Stocks: len(stocks), Batches: len(batches)}
	g.log.Info("starting us-daily", "endDate", end.String(), "stocks", len(stocks), "batches", len(batches))

	var (
		mu        sync.Mutex
		done      atomic.Int64
		totalBars atomic.Int64
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.MaxWorkers)
	for i, b := range batches {
		eg.Go(func() error {
			n, err := g.runBatch(ectx, b, end, ids)
			if ectx.Err() != nil {
				return ectx.Err()
			}
			if err != nil {
				g.log.Error("batch failed",
					"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
					"start", b.start.String(),
					"err", err,
				)
				mu.Lock()
				res.Failed = append(res.Failed, b.tickers...)
				mu.Unlock()
			}
			totalBars.Add(int64(n))
			d := int(done.Add(1))
			if g.opts.Progress != nil {
				g.opts.Progress(d, len(batches))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res.Bars = int(totalBars.Load())
	res.Elapsed = time.Since(runStart).Round(time.Millisecond)
	sort.Strings(res.Failed)
	g.log.Info("complete", "bars", res.Bars, "failed", len(res.Failed), "elapsed", res.Elapsed)
	return res, nil
}

func (g *DailyBarGatherer) runBatch(ctx context.Context, b batch, end domain.Date, ids map[string]int64) (int, error) {
	var multi map[string][]marketdata.Bar
	backoff := util.Backoff{
		Attempts: g.opts.MaxRetries,
		Delay:    g.opts.RetryDelay,
		Log:      g.log.With("batch_start", b.start.String(), "symbols", len(b.tickers)),
	}
	err := util.Retry(ctx, backoff, func(int) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		multi, err = g.fetchMultiBars(b.tickers, b.start, end)
		if err != nil && !retryable(err) {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	bars := convertBars(multi, ids)
	if len(bars) == 0 {
		return 0, nil
	}
	if err := g.bars.WriteDailyBars(ctx, bars); err != nil {
		return 0, fmt.Errorf("writing bars: %w", err)
	}
	return len(bars), nil
}

// retryable reports whether a failed Alpaca request may succeed later.
// Client errors other than rate limiting will not.
func retryable(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (g *DailyBarGatherer) fetchMultiBars(symbols []string, start, end domain.Date) (map[string][]marketdata.Bar, error) {
	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      start.Time,
		End:        end.AddDate(0, 0, 1),
	}
	if g.opts.Feed != "" {
		req.Feed = marketdata.Feed(g.opts.Feed)
	}
	multi, err := g.source.GetMultiBars(symbols, req)
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}
	return multi, nil
}

// convertBars maps Alpaca bars onto stored daily bars, dropping symbols not
// in ids.
func convertBars(multi map[string][]marketdata.Bar, ids map[string]int64) []domain.DailyBar {
	var bars []domain.DailyBar
	for symbol, alpacaBars := range multi {
		id, ok := ids[strings.ToUpper(symbol)]
		if !ok {
			continue
		}
		for _, ab := range alpacaBars {
			bars = append(bars, domain.DailyBar{
				StockID: id,
				Date:    domain.NewDate(ab.Timestamp.In(newYork)),
				Open:    ab.Open,
				High:    ab.High,
				Low:     ab.Low,
				Close:   ab.Close,
				Volume:  int64(ab.Volume),
			})
		}
	}
	return bars
}

var newYork = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()
