package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"weinstein/internal/domain"
)

// ParquetArchive keeps columnar copies of daily bars and weekly history on
// disk, for offline analysis and for rebuilding a database.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates an archive rooted at the given data directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// DailyRecord is the Parquet schema for daily bars.
type DailyRecord struct {
	Ticker    string  `parquet:"ticker"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, midnight UTC
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// WeeklyParquetRecord is the Parquet schema for weekly stage history.
// Optional columns stay null when the value was unavailable.
type WeeklyParquetRecord struct {
	Ticker      string   `parquet:"ticker"`
	WeekEndDate int64    `parquet:"week_end_date,timestamp(millisecond)"`
	Open        *float64 `parquet:"open,optional"`
	High        *float64 `parquet:"high,optional"`
	Low         *float64 `parquet:"low,optional"`
	Close       *float64 `parquet:"close,optional"`
	Volume      *int64   `parquet:"volume,optional"`
	MA30        *float64 `parquet:"ma30,optional"`
	MA30Slope   *float64 `parquet:"ma30_slope,optional"`
	RS          *float64 `parquet:"rs,optional"`
	Stage       *int32   `parquet:"stage,optional"`
}

// ---------------------------------------------------------------------------
// Daily bars
// ---------------------------------------------------------------------------

// WriteDaily merges bars into the yearly files of ticker, replacing bars
// with the same date.
func (a *ParquetArchive) WriteDaily(ticker string, bars []domain.DailyBar) error {
	byYear := make(map[int][]DailyRecord)
	for _, b := range bars {
		byYear[b.Date.Year()] = append(byYear[b.Date.Year()], DailyRecord{
			Ticker:    strings.ToUpper(ticker),
			Timestamp: b.Date.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	for year, records := range byYear {
		path := a.dailyPath(ticker, year)
		existing, _ := readParquetFile[DailyRecord](path)
		if err := writeParquetFile(path, mergeDailyRecords(existing, records)); err != nil {
			return fmt.Errorf("writing daily bars for %s/%d: %w", ticker, year, err)
		}
	}
	return nil
}

// ReadDaily returns the archived bars of ticker within [start, end].
func (a *ParquetArchive) ReadDaily(ticker string, stockID int64, start, end time.Time) ([]domain.DailyBar, error) {
	var bars []domain.DailyBar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[DailyRecord](a.dailyPath(ticker, year))
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.DailyBar{
				StockID: stockID,
				Date:    domain.NewDate(ts),
				Open:    r.Open,
				High:    r.High,
				Low:     r.Low,
				Close:   r.Close,
				Volume:  r.Volume,
			})
		}
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Weekly history
// ---------------------------------------------------------------------------

// WriteWeekly replaces the weekly history file of ticker.
func (a *ParquetArchive) WriteWeekly(ticker string, recs []domain.WeeklyRecord) error {
	rows := make([]WeeklyParquetRecord, len(recs))
	for i, r := range recs {
		rows[i] = WeeklyParquetRecord{
			Ticker:      strings.ToUpper(ticker),
			WeekEndDate: r.WeekEndDate.UnixMilli(),
			Open:        r.Open,
			High:        r.High,
			Low:         r.Low,
			Close:       r.Close,
			Volume:      r.Volume,
			MA30:        r.MA30,
			MA30Slope:   r.MA30Slope,
			RS:          r.RS,
		}
		if r.Stage.Valid() {
			st := int32(r.Stage)
			rows[i].Stage = &st
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].WeekEndDate < rows[j].WeekEndDate })
	if err := writeParquetFile(a.weeklyPath(ticker), rows); err != nil {
		return fmt.Errorf("writing weekly history for %s: %w", ticker, err)
	}
	return nil
}

// ReadWeekly loads the weekly history of ticker, ascending, tagging every
// record with stockID.
func (a *ParquetArchive) ReadWeekly(ticker string, stockID int64) ([]domain.WeeklyRecord, error) {
	rows, err := readParquetFile[WeeklyParquetRecord](a.weeklyPath(ticker))
	if err != nil {
		return nil, fmt.Errorf("reading weekly history for %s: %w", ticker, err)
	}
	out := make([]domain.WeeklyRecord, len(rows))
	for i, r := range rows {
		out[i] = domain.WeeklyRecord{
			StockID:     stockID,
			WeekEndDate: domain.NewDate(time.UnixMilli(r.WeekEndDate).UTC()),
			Open:        r.Open,
			High:        r.High,
			Low:         r.Low,
			Close:       r.Close,
			Volume:      r.Volume,
			MA30:        r.MA30,
			MA30Slope:   r.MA30Slope,
			RS:          r.RS,
		}
		if r.Stage != nil {
			out[i].Stage = domain.StageFromInt(int(*r.Stage))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekEndDate.Before(out[j].WeekEndDate.Time) })
	return out, nil
}

// ListWeeklyTickers lists tickers that have an archived weekly history.
func (a *ParquetArchive) ListWeeklyTickers() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.DataDir, "weekly"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tickers []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".parquet") {
			tickers = append(tickers, strings.TrimSuffix(e.Name(), ".parquet"))
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// dailyPath returns the file of one ticker-year of daily bars.
// Layout: <dataDir>/daily/<TICKER>/<YYYY>.parquet
func (a *ParquetArchive) dailyPath(ticker string, year int) string {
	return filepath.Join(a.DataDir, "daily", strings.ToUpper(ticker), fmt.Sprintf("%d.parquet", year))
}

// weeklyPath returns the weekly history file of a ticker.
// Layout: <dataDir>/weekly/<TICKER>.parquet
func (a *ParquetArchive) weeklyPath(ticker string) string {
	return filepath.Join(a.DataDir, "weekly", strings.ToUpper(ticker)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeDailyRecords deduplicates by timestamp, preferring incoming records.
func mergeDailyRecords(existing, incoming []DailyRecord) []DailyRecord {
	seen := make(map[int64]DailyRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}
	merged := make([]DailyRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
