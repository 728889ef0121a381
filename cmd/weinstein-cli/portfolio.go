package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"weinstein/internal/dashboard"
	"weinstein/internal/domain"
	"weinstein/internal/portfolio"
)

func newPortfolioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show open positions marked to the latest weekly close",
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := application.Portfolio.ListOpen(cmd.Context())
			if err != nil {
				return err
			}
			cur := application.Config.Dashboard.Currency
			var rows [][]string
			for _, v := range vals {
				stop := "no"
				if v.StopTriggered {
					stop = "YES"
				}
				rows = append(rows, []string{
					v.ID[:8],
					v.Ticker,
					v.EntryDate.String(),
					dashboard.FormatPrice(&v.EntryPrice, cur),
					fmt.Sprintf("%g", v.Quantity),
					dashboard.FormatPrice(&v.StopLoss, cur),
					dashboard.FormatPrice(v.CurrentPrice, cur),
					dashboard.FormatPrice(v.PnL, cur),
					dashboard.FormatPercent(v.PnLPct),
					stop,
				})
			}
			if err := render(os.Stdout, []string{"ID", "Ticker", "Entry", "Price", "Qty", "Stop", "Last", "P&L", "P&L %", "Stop hit"}, rows); err != nil {
				return err
			}
			sum := portfolio.Summarize(vals)
			fmt.Printf("\n%d open, invested %s, P&L %s (avg %s), %d stops hit\n",
				sum.OpenCount,
				dashboard.FormatPrice(&sum.TotalInvested, cur),
				dashboard.FormatPrice(&sum.TotalPnL, cur),
				dashboard.FormatPercent(&sum.AvgPnLPct),
				sum.StopsHit)
			return nil
		},
	}
	cmd.AddCommand(newPortfolioOpenCmd(), newPortfolioCloseCmd(), newPortfolioHistoryCmd())
	return cmd
}

func newPortfolioOpenCmd() *cobra.Command {
	var (
		req  portfolio.OpenRequest
		date string
	)
	cmd := &cobra.Command{
		Use:   "open TICKER",
		Short: "Record a new position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Ticker = args[0]
			if date != "" {
				d, err := domain.ParseDate(date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				req.EntryDate = d
			}
			p, err := application.Portfolio.Open(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Printf("opened %s %s x %g @ %.2f, stop %.2f\n", p.ID, p.Ticker, p.Quantity, p.EntryPrice, p.StopLoss)
			return nil
		},
	}
	cmd.Flags().Float64Var(&req.EntryPrice, "price", 0, "entry price")
	cmd.Flags().Float64Var(&req.Quantity, "qty", 0, "number of shares")
	cmd.Flags().Float64Var(&req.StopLoss, "stop", 0, "stop loss below the entry price")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&date, "date", "", "entry date (default today)")
	return cmd
}

func newPortfolioCloseCmd() *cobra.Command {
	var (
		price float64
		date  string
	)
	cmd := &cobra.Command{
		Use:   "close ID",
		Short: "Close an open position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var exit domain.Date
			if date != "" {
				d, err := domain.ParseDate(date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				exit = d
			}
			v, err := application.Portfolio.Close(cmd.Context(), args[0], exit, price)
			if err != nil {
				return err
			}
			fmt.Printf("closed %s at %.2f: P&L %s (%s)\n", v.Ticker, price,
				dashboard.FormatPrice(v.PnL, application.Config.Dashboard.Currency),
				dashboard.FormatPercent(v.PnLPct))
			return nil
		},
	}
	cmd.Flags().Float64Var(&price, "price", 0, "exit price")
	cmd.Flags().StringVar(&date, "date", "", "exit date (default today)")
	return cmd
}

func newPortfolioHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List closed positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := application.Portfolio.ClosedHistory(cmd.Context())
			if err != nil {
				return err
			}
			cur := application.Config.Dashboard.Currency
			var rows [][]string
			for _, v := range h.Positions {
				rows = append(rows, []string{
					v.Ticker,
					v.EntryDate.String(),
					dashboard.FormatPrice(&v.EntryPrice, cur),
					v.ExitDate.String(),
					dashboard.FormatPrice(v.ExitPrice, cur),
					dashboard.FormatPrice(v.PnL, cur),
					dashboard.FormatPercent(v.PnLPct),
				})
			}
			if err := render(os.Stdout, []string{"Ticker", "Entry", "Price", "Exit", "Price", "P&L", "P&L %"}, rows); err != nil {
				return err
			}
			fmt.Printf("\ntotal P&L %s\n", dashboard.FormatPrice(&h.TotalPnL, cur))
			return nil
		},
	}
}
