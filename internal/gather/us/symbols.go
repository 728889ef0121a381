package us

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"weinstein/internal/domain"
	"weinstein/internal/store"
)

// LoadUniverseCSV reads tracked stocks from a CSV file whose header names
// the columns ticker (or symbol), name and exchange in any order. Only the
// ticker column is required; duplicates keep their first row.
func LoadUniverseCSV(path string) ([]domain.Stock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	col := map[string]int{"ticker": -1, "name": -1, "exchange": -1}
	for i, h := range records[0] {
		switch h = strings.ToLower(strings.TrimSpace(h)); h {
		case "ticker", "symbol":
			col["ticker"] = i
		case "name", "exchange":
			col[h] = i
		}
	}
	if col["ticker"] < 0 {
		return nil, fmt.Errorf("CSV %s: no ticker or symbol column", path)
	}

	field := func(row []string, name string) string {
		i := col[name]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	seen := make(map[string]struct{})
	stocks := make([]domain.Stock, 0, len(records)-1)
	for _, row := range records[1:] {
		sym := strings.ToUpper(field(row, "ticker"))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		stocks = append(stocks, domain.Stock{
			Ticker:   sym,
			Name:     field(row, "name"),
			Exchange: field(row, "exchange"),
			Active:   true,
		})
	}
	return stocks, nil
}

// SeedUniverse upserts stocks into st and returns how many were written.
func SeedUniverse(ctx context.Context, st store.StockStore, stocks []domain.Stock) (int, error) {
	for i := range stocks {
		if err := st.UpsertStock(ctx, &stocks[i]); err != nil {
			return i, fmt.Errorf("upserting %s: %w", stocks[i].Ticker, err)
		}
	}
	return len(stocks), nil
}
