package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"weinstein/internal/domain"
	"weinstein/internal/gather/us"
	"weinstein/internal/scheduler"
	"weinstein/internal/store"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE.csv",
		Short: "Add or update tracked stocks from a CSV with ticker,name,exchange columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stocks, err := us.LoadUniverseCSV(args[0])
			if err != nil {
				return err
			}
			n, err := us.SeedUniverse(cmd.Context(), application.Store, stocks)
			if err != nil {
				return err
			}
			if err := application.Dashboard.Invalidate(cmd.Context()); err != nil {
				logger.Warn("cache invalidation failed", "error", err)
			}
			fmt.Printf("seeded %d stocks from %s\n", n, args[0])
			return nil
		},
	}
}

func newProgressBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func newCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Fetch new daily bars from Alpaca for every active stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				mu  sync.Mutex
				bar *progressbar.ProgressBar
			)
			// Batches report from concurrent workers.
			g, err := application.Gatherer(func(done, total int) {
				mu.Lock()
				defer mu.Unlock()
				if bar == nil {
					bar = newProgressBar(total, "Collecting")
				}
				if done > int(bar.State().CurrentNum) {
					bar.Set(done)
				}
			})
			if err != nil {
				return err
			}
			res, err := g.Collect(cmd.Context())
			if bar != nil {
				bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return err
			}
			fmt.Printf("collected %d bars for %d stocks in %d batches (%s)\n",
				res.Bars, res.Stocks, res.Batches, res.Elapsed.Round(time.Second))
			if len(res.Failed) > 0 {
				fmt.Printf("failed: %s\n", strings.Join(res.Failed, ", "))
			}
			return nil
		},
	}
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Rebuild weekly stage history and signals from stored daily bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := application.Processor.ProcessAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := application.Dashboard.Invalidate(cmd.Context()); err != nil {
				logger.Warn("cache invalidation failed", "error", err)
			}
			fmt.Printf("processed %d stocks, %d weeks, %d new signals\n", res.Stocks, res.Weeks, len(res.NewSignals))
			if len(res.Failed) > 0 {
				fmt.Printf("failed: %s\n", strings.Join(res.Failed, ", "))
			}
			return nil
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Run the full weekly update once: collect, process, invalidate caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := scheduler.Deps{
				Processor: application.Processor,
				Cache:     application.Dashboard,
			}
			g, err := application.Gatherer(nil)
			if err == nil {
				deps.Collector = g
			} else {
				logger.Warn("skipping collection", "reason", err)
			}
			rep, err := scheduler.New(deps, nil, logger).RunNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("update finished in %s: %d stocks, %d weeks, %d new signals\n",
				rep.Finished.Sub(rep.Started).Round(time.Second), rep.Stocks, rep.Weeks, rep.NewSignals)
			return nil
		},
	}
}

func newBacktestCmd() *cobra.Command {
	var (
		since  string
		trades bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay stored BUY signals with initial and trailing stops",
		RunE: func(cmd *cobra.Command, args []string) error {
			var from domain.Date
			if since != "" {
				d, err := domain.ParseDate(since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				from = d
			}
			res, err := application.Backtester().Run(cmd.Context(), from)
			if err != nil {
				return err
			}
			if trades {
				var rows [][]string
				for _, t := range res.Trades {
					rows = append(rows, []string{
						t.Ticker,
						t.EntryDate.String(),
						fmt.Sprintf("%.2f", t.EntryPrice),
						t.ExitDate.String(),
						fmt.Sprintf("%.2f", t.ExitPrice),
						t.ExitReason,
						fmt.Sprintf("%d", t.DaysHeld),
						fmt.Sprintf("%+.2f%%", t.ReturnPct),
					})
				}
				if err := render(os.Stdout, []string{"Ticker", "Entry", "Price", "Exit", "Price", "Reason", "Days", "Return"}, rows); err != nil {
					return err
				}
				fmt.Println()
			}

			reasons := make([]string, 0, len(res.ExitReasons))
			for r, n := range res.ExitReasons {
				reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
			}
			sort.Strings(reasons)
			return render(os.Stdout, []string{"Metric", "Value"}, [][]string{
				{"Trades", fmt.Sprintf("%d", res.TotalTrades)},
				{"Winners", fmt.Sprintf("%d", res.Winners)},
				{"Win rate", fmt.Sprintf("%.1f%%", res.WinRate)},
				{"Avg return", fmt.Sprintf("%+.2f%%", res.AvgReturn)},
				{"Total return", fmt.Sprintf("%+.2f%%", res.TotalReturn)},
				{"Max drawdown", fmt.Sprintf("%.2f%%", res.MaxDrawdown)},
				{"Profit factor", fmt.Sprintf("%.2f", res.ProfitFactor)},
				{"Exit reasons", strings.Join(reasons, " ")},
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only signals on or after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&trades, "trades", false, "list every simulated trade")
	return cmd
}

// ---------------------------------------------------------------------------
// Parquet archive
// ---------------------------------------------------------------------------

func newExportCmd() *cobra.Command {
	var daily bool
	cmd := &cobra.Command{
		Use:   "export [TICKER...]",
		Short: "Write weekly history (and optionally daily bars) to the parquet archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stocks, err := selectStocks(cmd, args)
			if err != nil {
				return err
			}
			bar := newProgressBar(len(stocks), "Exporting")
			var weeks, bars int
			for _, s := range stocks {
				recs, err := application.Store.ReadWeekly(ctx, s.ID, 0)
				if err != nil {
					return err
				}
				if len(recs) > 0 {
					if err := application.Archive.WriteWeekly(s.Ticker, recs); err != nil {
						return err
					}
					weeks += len(recs)
				}
				if daily {
					dbars, err := application.Store.ReadDailyBars(ctx, s.ID, domain.Date{}, domain.Date{})
					if err != nil {
						return err
					}
					if len(dbars) > 0 {
						if err := application.Archive.WriteDaily(s.Ticker, dbars); err != nil {
							return err
						}
						bars += len(dbars)
					}
				}
				bar.Add(1)
			}
			bar.Finish()
			fmt.Fprintln(os.Stderr)
			fmt.Printf("exported %d weeks and %d daily bars for %d stocks to %s\n",
				weeks, bars, len(stocks), application.Config.Storage.DataDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&daily, "daily", false, "also export daily bars")
	return cmd
}

func newImportCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load weekly history and daily bars from the parquet archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start, err := domain.ParseDate(since)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			tickers, err := application.Archive.ListWeeklyTickers()
			if err != nil {
				return err
			}
			bar := newProgressBar(len(tickers), "Importing")
			var weeks, bars int
			for _, ticker := range tickers {
				s, err := application.Store.GetStock(ctx, ticker)
				if errors.Is(err, store.ErrNotFound) {
					s = &domain.Stock{Ticker: ticker, Active: true}
					err = application.Store.UpsertStock(ctx, s)
				}
				if err != nil {
					return err
				}
				recs, err := application.Archive.ReadWeekly(ticker, s.ID)
				if err != nil {
					return err
				}
				if err := application.Store.WriteWeekly(ctx, recs); err != nil {
					return err
				}
				weeks += len(recs)

				dbars, err := application.Archive.ReadDaily(ticker, s.ID, start.Time, time.Now().UTC())
				if err != nil {
					return err
				}
				if err := application.Store.WriteDailyBars(ctx, dbars); err != nil {
					return err
				}
				bars += len(dbars)
				bar.Add(1)
			}
			bar.Finish()
			fmt.Fprintln(os.Stderr)
			if err := application.Dashboard.Invalidate(ctx); err != nil {
				logger.Warn("cache invalidation failed", "error", err)
			}
			fmt.Printf("imported %d weeks and %d daily bars for %d stocks\n", weeks, bars, len(tickers))
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "2000-01-01", "first day of daily bars to import")
	return cmd
}

// selectStocks resolves TICKER arguments, or every active stock without
// arguments.
func selectStocks(cmd *cobra.Command, tickers []string) ([]domain.Stock, error) {
	if len(tickers) == 0 {
		return application.Store.ListStocks(cmd.Context(), true)
	}
	out := make([]domain.Stock, 0, len(tickers))
	for _, t := range tickers {
		s, err := application.Store.GetStock(cmd.Context(), t)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}
