package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"weinstein/internal/domain"
	"weinstein/internal/store"
	"weinstein/internal/strategy"
)

// Options configures a Processor.
type Options struct {
	MAPeriod       int
	Benchmark      string
	MaxBuyDistance float64
	Workers        int
}

// DefaultOptions returns a 30-week average, SPY as benchmark, a 20% BUY
// distance cap and four workers.
func DefaultOptions() Options {
	return Options{MAPeriod: 30, Benchmark: "SPY", MaxBuyDistance: 0.20, Workers: 4}
}

// Result summarises one processing run.
type Result struct {
	Stocks     int
	Weeks      int
	NewSignals []domain.Signal
	Failed     []string
}

// Processor rebuilds weekly history and signals from stored daily bars.
type Processor struct {
	store      store.Store
	classifier strategy.Classifier
	opts       Options
	logger     *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(st store.Store, c strategy.Classifier, opts Options, logger *slog.Logger) *Processor {
	if opts.MAPeriod <= 0 {
		opts.MAPeriod = 30
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: st, classifier: c, opts: opts, logger: logger}
}

// ProcessStock recomputes the weekly history of one stock and stores any
// signals not recorded before. bench may be nil, in which case RS is left
// empty. It returns the stored weeks and the newly inserted signals.
func (p *Processor) ProcessStock(ctx context.Context, stock domain.Stock, bench map[domain.Date]float64) ([]domain.WeeklyRecord, []domain.Signal, error) {
	daily, err := p.store.ReadDailyBars(ctx, stock.ID, domain.Date{}, domain.Date{})
	if err != nil {
		return nil, nil, fmt.Errorf("reading bars of %s: %w", stock.Ticker, err)
	}
	weekly := AggregateWeekly(stock.ID, daily)
	ComputeIndicators(weekly, p.opts.MAPeriod)
	if bench != nil {
		ApplyRelativeStrength(weekly, bench)
	}
	strategy.ClassifyHistory(p.classifier, weekly)

	if err := p.store.WriteWeekly(ctx, weekly); err != nil {
		return nil, nil, fmt.Errorf("writing weeks of %s: %w", stock.Ticker, err)
	}

	sigs := GenerateSignals(stock, weekly, SignalOptions{MaxBuyDistance: p.opts.MaxBuyDistance})
	if _, err := p.store.SaveSignals(ctx, sigs); err != nil {
		return nil, nil, fmt.Errorf("saving signals of %s: %w", stock.Ticker, err)
	}
	var fresh []domain.Signal
	for _, s := range sigs {
		if s.ID != 0 {
			fresh = append(fresh, s)
		}
	}
	return weekly, fresh, nil
}

// ProcessAll processes the benchmark first, then every other active stock
// concurrently. A failing stock is logged and reported in Result.Failed
// without stopping the run.
func (p *Processor) ProcessAll(ctx context.Context) (*Result, error) {
	stocks, err := p.store.ListStocks(ctx, true)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var bench map[domain.Date]float64
	rest := stocks[:0:0]
	for _, s := range stocks {
		if p.opts.Benchmark != "" && strings.EqualFold(s.Ticker, p.opts.Benchmark) {
			weekly, fresh, err := p.ProcessStock(ctx, s, nil)
			if err != nil {
				return nil, fmt.Errorf("processing benchmark: %w", err)
			}
			bench = BenchmarkCloses(weekly)
			// The benchmark measured against itself.
			ApplyRelativeStrength(weekly, bench)
			if err := p.store.WriteWeekly(ctx, weekly); err != nil {
				return nil, err
			}
			res.Stocks++
			res.Weeks += len(weekly)
			res.NewSignals = append(res.NewSignals, fresh...)
			continue
		}
		rest = append(rest, s)
	}
	if bench == nil && p.opts.Benchmark != "" {
		p.logger.Warn("benchmark not tracked, relative strength disabled", "benchmark", p.opts.Benchmark)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, s := range rest {
		g.Go(func() error {
			weekly, fresh, err := p.ProcessStock(gctx, s, bench)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Error("processing stock", "ticker", s.Ticker, "error", err)
				res.Failed = append(res.Failed, s.Ticker)
				return nil
			}
			res.Stocks++
			res.Weeks += len(weekly)
			res.NewSignals = append(res.NewSignals, fresh...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	p.logger.Info("weekly processing complete",
		"stocks", res.Stocks, "weeks", res.Weeks, "newSignals", len(res.NewSignals), "failed", len(res.Failed))
	return res, nil
}
