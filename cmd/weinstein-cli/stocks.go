package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"weinstein/internal/dashboard"
	"weinstein/internal/domain"
	"weinstein/internal/history"
	"weinstein/internal/store"
	"weinstein/internal/tablesort"
	"weinstein/pkg/weinstein"
)

var stockColumns = []tablesort.ColumnSpec{
	{Index: 0, Type: tablesort.String},
	{Index: 1, Type: tablesort.String},
	{Index: 2, Type: tablesort.String},
	{Index: 3, Type: tablesort.Currency},
	{Index: 4, Type: tablesort.Currency},
	{Index: 5, Type: tablesort.Percentage},
	{Index: 6, Type: tablesort.Percentage},
	{Index: 7, Type: tablesort.Date},
}

func newStocksCmd() *cobra.Command {
	var (
		stage  int
		search string
		limit  int
		offset int
		sortBy string
	)
	cmd := &cobra.Command{
		Use:   "stocks",
		Short: "List stocks with their latest stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.LatestFilter{Search: search, Limit: limit, Offset: offset}
			if stage != 0 {
				f.Stage = domain.StageFromInt(stage)
				if !f.Stage.Valid() {
					return fmt.Errorf("stage must be 1-4, got %d", stage)
				}
			}
			list, err := application.Dashboard.Stocks(cmd.Context(), f)
			if err != nil {
				return err
			}
			cur := application.Config.Dashboard.Currency
			t := &tablesort.Table{Headers: []string{"Ticker", "Name", "Stage", "Price", "MA30", "Distance", "Slope", "Week"}}
			for _, r := range list.Stocks {
				t.Rows = append(t.Rows, []string{
					r.Ticker,
					truncate(r.Name, 24),
					dashboard.FormatStage(r.Stage),
					dashboard.FormatPrice(r.Price, cur),
					dashboard.FormatPrice(r.MA30, cur),
					dashboard.FormatPercent(r.DistanceFromMA30),
					dashboard.FormatRatio(r.MA30Slope),
					r.WeekEndDate.String(),
				})
			}
			s, err := applySort(t, stockColumns, sortBy)
			if err != nil {
				return err
			}
			fmt.Printf("%d of %d stocks\n\n", len(list.Stocks), list.Total)
			return render(os.Stdout, sortedHeaders(t, s), t.Rows)
		},
	}
	cmd.Flags().IntVar(&stage, "stage", 0, "only stocks in this stage (1-4)")
	cmd.Flags().StringVar(&search, "search", "", "ticker or name substring")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().StringVar(&sortBy, "sort", "", "sort by column, e.g. price:desc")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func newStockCmd() *cobra.Command {
	var (
		period string
		server string
		sortBy string
	)
	cmd := &cobra.Command{
		Use:   "stock TICKER",
		Short: "Show the stage history of one stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			weeks, ok := history.ParsePeriod(period)
			if !ok {
				return fmt.Errorf("invalid --weeks %q", period)
			}
			d, err := fetchDetail(cmd.Context(), server, args[0], weeks)
			if err != nil {
				return err
			}
			printDetail(d)

			win := history.SliceWindow(d.History, weeks)
			cur := application.Config.Dashboard.Currency
			t := &tablesort.Table{Headers: []string{"Week", "Stage", "Close", "MA30", "RS", "Volume"}}
			for i := len(win) - 1; i >= 0; i-- {
				w := win[i]
				t.Rows = append(t.Rows, []string{
					w.WeekEndDate.String(),
					dashboard.FormatStage(w.Stage),
					dashboard.FormatPrice(w.Close, cur),
					dashboard.FormatPrice(w.MA30, cur),
					dashboard.FormatPrice(w.RS, ""),
					dashboard.FormatVolume(w.Volume),
				})
			}
			s, err := applySort(t, []tablesort.ColumnSpec{
				{Index: 0, Type: tablesort.Date},
				{Index: 1, Type: tablesort.String},
				{Index: 2, Type: tablesort.Currency},
				{Index: 3, Type: tablesort.Currency},
				{Index: 4, Type: tablesort.Number},
			}, sortBy)
			if err != nil {
				return err
			}
			if err := render(os.Stdout, sortedHeaders(t, s), t.Rows); err != nil {
				return err
			}

			if len(d.RecentTransitions) > 0 {
				fmt.Println("\nRecent stage changes")
				var rows [][]string
				for _, tr := range d.RecentTransitions {
					from := "start"
					if tr.From != nil {
						from = dashboard.FormatStage(*tr.From)
					}
					rows = append(rows, []string{tr.Date.String(), from, dashboard.FormatStage(tr.To)})
				}
				return render(os.Stdout, []string{"Week", "From", "To"}, rows)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "weeks", strconv.Itoa(history.DefaultWeeks), "window in weeks or a period label (6M, 1Y, 2Y, All)")
	cmd.Flags().StringVar(&server, "server", "", "read from a running server at this base URL instead of the database")
	cmd.Flags().StringVar(&sortBy, "sort", "", "sort the history table, e.g. close:desc")
	return cmd
}

func fetchDetail(ctx context.Context, server, ticker string, weeks int) (*dashboard.StockDetail, error) {
	if server == "" {
		return application.Dashboard.StockDetail(ctx, ticker, weeks)
	}
	return weinstein.NewClient(server).StockDetail(ctx, ticker, weeks)
}

func printDetail(d *dashboard.StockDetail) {
	fmt.Printf("%s  %s  (%s)\n", d.Ticker, d.Name, d.Exchange)
	fmt.Printf("  %s: %s\n", d.Stage.Name, d.Display.Stage)
	fmt.Printf("  price %s  ma30 %s  distance %s  slope %s  volume %s  (week of %s)\n\n",
		d.Display.Price, d.Display.MA30, d.Display.Distance, d.Display.Slope, d.Display.Volume, d.Current.WeekEndDate)
}

func newSignalsCmd() *cobra.Command {
	var (
		typ   string
		days  int
		limit int
	)
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "List recent BUY, SELL and stage-change signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st domain.SignalType
			if typ != "" {
				var ok bool
				if st, ok = domain.ParseSignalType(strings.ToUpper(typ)); !ok {
					return fmt.Errorf("unknown signal type %q", typ)
				}
			}
			feed, err := application.Dashboard.Signals(cmd.Context(), st, days, limit)
			if err != nil {
				return err
			}
			cur := application.Config.Dashboard.Currency
			var rows [][]string
			for _, s := range feed.Signals {
				rows = append(rows, []string{
					s.Date.String(),
					s.Ticker,
					string(s.Type),
					dashboard.FormatStage(s.FromStage) + " -> " + dashboard.FormatStage(s.ToStage),
					dashboard.FormatPrice(&s.Price, cur),
				})
			}
			fmt.Printf("%d signals in the last %d days (as of %s)\n\n", feed.Total, days, time.Now().Format(domain.DateLayout))
			return render(os.Stdout, []string{"Date", "Ticker", "Type", "Stages", "Price"}, rows)
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "BUY, SELL or STAGE_CHANGE")
	cmd.Flags().IntVar(&days, "days", dashboard.SignalFeedDays, "look-back window in days")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
