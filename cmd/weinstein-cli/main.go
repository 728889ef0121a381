// Command weinstein-cli inspects and maintains the stage-analysis database
// from the terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"weinstein/internal/app"
	"weinstein/internal/config"
	"weinstein/internal/tablesort"
	"weinstein/internal/util"
)

var (
	cfgFile  string
	logLevel string

	application *app.App
	logger      *slog.Logger
	logCloser   io.Closer
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "weinstein-cli",
		Short: "Weinstein stage analysis from the command line",
		Long: `weinstein-cli reads and maintains the stage-analysis database.

Examples:
  weinstein-cli seed universe.csv
  weinstein-cli collect && weinstein-cli process
  weinstein-cli stocks --stage 2 --sort distance:desc
  weinstein-cli stock AAPL --weeks 6M`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return teardown()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", config.Path(), "config file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newStocksCmd(),
		newStockCmd(),
		newSignalsCmd(),
		newSeedCmd(),
		newCollectCmd(),
		newProcessCmd(),
		newUpdateCmd(),
		newBacktestCmd(),
		newExportCmd(),
		newImportCmd(),
		newPortfolioCmd(),
	)
	return root
}

func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	// Terminal output reads better as text.
	cfg.Logging.Format = "text"
	logger, logCloser, err = app.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	util.SetDefault(logger)

	application, err = app.Open(cmd.Context(), cfg, logger)
	return err
}

func teardown() error {
	var err error
	if application != nil {
		err = application.Close()
	}
	if logCloser != nil {
		logCloser.Close()
	}
	return err
}

// ---------------------------------------------------------------------------
// Table output
// ---------------------------------------------------------------------------

func render(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewTable(w, tablewriter.WithHeader(headers))
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}

// applySort orders t by a "column:asc|desc" spec, matching the column by
// header name. It clicks the header the way a user would, once for
// ascending and twice for descending.
func applySort(t *tablesort.Table, specs []tablesort.ColumnSpec, spec string) (*tablesort.Sorter, error) {
	s := tablesort.Attach(t, specs)
	if spec == "" {
		return s, nil
	}
	name, dir, _ := strings.Cut(spec, ":")
	col := -1
	for i, h := range t.Headers {
		if strings.EqualFold(h, strings.TrimSpace(name)) {
			col = i
			break
		}
	}
	if col < 0 || !s.Sortable(col) {
		return nil, fmt.Errorf("cannot sort by %q (columns: %s)", name, strings.Join(t.Headers, ", "))
	}
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "asc":
		s.Click(col)
	case "desc":
		s.Click(col)
		s.Click(col)
	default:
		return nil, fmt.Errorf("sort direction must be asc or desc, got %q", dir)
	}
	return s, nil
}

// sortedHeaders returns the headers with their sort indicators.
func sortedHeaders(t *tablesort.Table, s *tablesort.Sorter) []string {
	out := make([]string, len(t.Headers))
	for i := range t.Headers {
		out[i] = s.Label(i)
	}
	return out
}
