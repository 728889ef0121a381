package main

import (
	"bytes"
	"strings"
	"testing"

	"weinstein/internal/tablesort"
)

func TestApplySort(t *testing.T) {
	mk := func() *tablesort.Table {
		return &tablesort.Table{
			Headers: []string{"Ticker", "Price"},
			Rows:    [][]string{{"B", "20.00 $"}, {"A", "100.00 $"}, {"C", "3.50 $"}},
		}
	}
	specs := []tablesort.ColumnSpec{{Index: 0, Type: tablesort.String}, {Index: 1, Type: tablesort.Currency}}

	tbl := mk()
	s, err := applySort(tbl, specs, "price:desc")
	if err != nil {
		t.Fatal(err)
	}
	if got := tbl.Rows[0][0] + tbl.Rows[1][0] + tbl.Rows[2][0]; got != "ABC" {
		t.Errorf("price desc order = %s", got)
	}
	if h := sortedHeaders(tbl, s); h[1] != "Price ↓" || h[0] != "Ticker ↕" {
		t.Errorf("headers = %v", h)
	}

	tbl = mk()
	if _, err := applySort(tbl, specs, "TICKER"); err != nil {
		t.Fatal(err)
	}
	if tbl.Rows[0][0] != "A" {
		t.Errorf("ticker asc first = %s", tbl.Rows[0][0])
	}

	if _, err := applySort(mk(), specs, "volume:asc"); err == nil {
		t.Error("unknown column accepted")
	}
	if _, err := applySort(mk(), specs, "price:up"); err == nil {
		t.Error("bad direction accepted")
	}
	if _, err := applySort(mk(), specs, ""); err != nil {
		t.Errorf("empty spec: %v", err)
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, []string{"Ticker", "Stage"}, [][]string{{"AAPL", "Stage 2"}}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "AAPL") || !strings.Contains(out, "Stage 2") {
		t.Errorf("output = %q", out)
	}
}
