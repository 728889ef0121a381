package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"weinstein/internal/domain"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "weinstein.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addStock(t *testing.T, s *SQLStore, ticker, name string) *domain.Stock {
	t.Helper()
	st := &domain.Stock{Ticker: ticker, Name: name, Exchange: "NYSE", Active: true}
	if err := s.UpsertStock(context.Background(), st); err != nil {
		t.Fatalf("UpsertStock(%s): %v", ticker, err)
	}
	return st
}

func week(stockID int64, date string, close, slope float64, stage domain.Stage) domain.WeeklyRecord {
	return domain.WeeklyRecord{
		StockID:     stockID,
		WeekEndDate: domain.MustDate(date),
		Open:        domain.Float(close - 1),
		High:        domain.Float(close + 1),
		Low:         domain.Float(close - 2),
		Close:       domain.Float(close),
		Volume:      domain.Int(1000),
		MA30:        domain.Float(close - 0.5),
		MA30Slope:   domain.Float(slope),
		Stage:       stage,
	}
}

func TestStockCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st := addStock(t, s, "aapl", "Apple")
	if st.ID == 0 || st.Ticker != "AAPL" {
		t.Fatalf("UpsertStock result = %+v", st)
	}
	again := &domain.Stock{Ticker: "AAPL", Name: "Apple Inc.", Active: true}
	if err := s.UpsertStock(ctx, again); err != nil {
		t.Fatalf("second UpsertStock: %v", err)
	}
	if again.ID != st.ID {
		t.Errorf("upsert changed id: %d != %d", again.ID, st.ID)
	}

	got, err := s.GetStock(ctx, "aapl")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if got.Name != "Apple Inc." {
		t.Errorf("Name = %q", got.Name)
	}

	got.Active = false
	if err := s.UpdateStock(ctx, got); err != nil {
		t.Fatalf("UpdateStock: %v", err)
	}
	active, err := s.ListStocks(ctx, true)
	if err != nil {
		t.Fatalf("ListStocks: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active stocks = %d, want 0", len(active))
	}

	if err := s.DeleteStock(ctx, st.ID); err != nil {
		t.Fatalf("DeleteStock: %v", err)
	}
	if _, err := s.GetStock(ctx, "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetStock after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteStock(ctx, st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteStock err = %v, want ErrNotFound", err)
	}
}

func TestDailyBars(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := addStock(t, s, "MSFT", "Microsoft")

	bars := []domain.DailyBar{
		{StockID: st.ID, Date: domain.MustDate("2024-01-03"), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{StockID: st.ID, Date: domain.MustDate("2024-01-02"), Open: 1, High: 2, Low: 0.5, Close: 1.2, Volume: 20},
	}
	if err := s.WriteDailyBars(ctx, bars); err != nil {
		t.Fatalf("WriteDailyBars: %v", err)
	}
	// Rewriting a date replaces the bar.
	bars[0].Close = 1.7
	if err := s.WriteDailyBars(ctx, bars[:1]); err != nil {
		t.Fatalf("WriteDailyBars again: %v", err)
	}

	got, err := s.ReadDailyBars(ctx, st.ID, domain.Date{}, domain.Date{})
	if err != nil {
		t.Fatalf("ReadDailyBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bars, want 2", len(got))
	}
	if got[0].Date.String() != "2024-01-02" || got[1].Close != 1.7 {
		t.Errorf("bars = %+v", got)
	}

	last, err := s.LastBarDate(ctx, st.ID)
	if err != nil {
		t.Fatalf("LastBarDate: %v", err)
	}
	if last.String() != "2024-01-03" {
		t.Errorf("LastBarDate = %s", last)
	}
	none, err := s.LastBarDate(ctx, 999)
	if err != nil || !none.IsZero() {
		t.Errorf("LastBarDate(unknown) = %s, %v", none, err)
	}
}

func TestWeeklyAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := addStock(t, s, "AAA", "Alpha Corp")
	b := addStock(t, s, "BBB", "Beta Inc")

	recs := []domain.WeeklyRecord{
		week(a.ID, "2024-01-05", 10, 0.01, domain.StageBase),
		week(a.ID, "2024-01-12", 11, 0.03, domain.StageUptrend),
		week(b.ID, "2024-01-12", 20, -0.02, domain.StageDowntrend),
	}
	recs = append(recs, domain.WeeklyRecord{StockID: b.ID, WeekEndDate: domain.MustDate("2024-01-05")})
	if err := s.WriteWeekly(ctx, recs); err != nil {
		t.Fatalf("WriteWeekly: %v", err)
	}

	hist, err := s.ReadWeekly(ctx, b.ID, 0)
	if err != nil {
		t.Fatalf("ReadWeekly: %v", err)
	}
	if len(hist) != 2 || hist[0].Close != nil || hist[0].Stage != domain.StageUnknown {
		t.Fatalf("absent fields not preserved: %+v", hist)
	}
	if hist[1].Stage != domain.StageDowntrend || *hist[1].Close != 20 {
		t.Errorf("second week = %+v", hist[1])
	}

	last, err := s.ReadWeekly(ctx, a.ID, 1)
	if err != nil || len(last) != 1 || last[0].WeekEndDate.String() != "2024-01-12" {
		t.Fatalf("ReadWeekly limit 1 = %+v, %v", last, err)
	}

	snaps, total, err := s.ListLatest(ctx, LatestFilter{})
	if err != nil {
		t.Fatalf("ListLatest: %v", err)
	}
	if total != 2 || len(snaps) != 2 {
		t.Fatalf("ListLatest = %d rows, total %d", len(snaps), total)
	}
	if snaps[0].Stock.Ticker != "AAA" || snaps[0].Latest.Stage != domain.StageUptrend {
		t.Errorf("first snapshot = %+v", snaps[0])
	}

	snaps, total, err = s.ListLatest(ctx, LatestFilter{Stage: domain.StageDowntrend})
	if err != nil || total != 1 || snaps[0].Stock.Ticker != "BBB" {
		t.Errorf("stage filter = %+v, %d, %v", snaps, total, err)
	}
	snaps, _, err = s.ListLatest(ctx, LatestFilter{Search: "alpha"})
	if err != nil || len(snaps) != 1 || snaps[0].Stock.Ticker != "AAA" {
		t.Errorf("search filter = %+v, %v", snaps, err)
	}
	snaps, total, err = s.ListLatest(ctx, LatestFilter{Limit: 1, Offset: 1})
	if err != nil || total != 2 || len(snaps) != 1 || snaps[0].Stock.Ticker != "BBB" {
		t.Errorf("pagination = %+v, %d, %v", snaps, total, err)
	}

	dist, err := s.StageDistribution(ctx)
	if err != nil {
		t.Fatalf("StageDistribution: %v", err)
	}
	if dist[domain.StageUptrend] != 1 || dist[domain.StageDowntrend] != 1 {
		t.Errorf("distribution = %v", dist)
	}
	lu, err := s.LastUpdate(ctx)
	if err != nil || lu.String() != "2024-01-12" {
		t.Errorf("LastUpdate = %s, %v", lu, err)
	}
}

func TestSignalsDeduplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := addStock(t, s, "NVDA", "Nvidia")

	sigs := []domain.Signal{
		{StockID: st.ID, Date: domain.MustDate("2024-02-02"), Type: domain.SignalBuy,
			FromStage: domain.StageBase, ToStage: domain.StageUptrend, Price: 10, MA30: domain.Float(9)},
		{StockID: st.ID, Date: domain.MustDate("2024-03-01"), Type: domain.SignalSell,
			FromStage: domain.StageUptrend, ToStage: domain.StageDowntrend, Price: 8},
	}
	n, err := s.SaveSignals(ctx, sigs)
	if err != nil || n != 2 {
		t.Fatalf("SaveSignals = %d, %v", n, err)
	}
	if sigs[0].ID == 0 {
		t.Error("inserted signal has no ID")
	}
	n, err = s.SaveSignals(ctx, sigs[:1])
	if err != nil || n != 0 {
		t.Fatalf("duplicate SaveSignals = %d, %v", n, err)
	}

	all, err := s.ListSignals(ctx, SignalFilter{})
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(all) != 2 || all[0].Type != domain.SignalSell || all[0].Ticker != "NVDA" {
		t.Fatalf("ListSignals = %+v", all)
	}
	if all[1].MA30 == nil || *all[1].MA30 != 9 || all[0].MA30 != nil {
		t.Errorf("ma30 not preserved: %+v", all)
	}

	buys, err := s.ListSignals(ctx, SignalFilter{Type: domain.SignalBuy})
	if err != nil || len(buys) != 1 {
		t.Errorf("type filter = %+v, %v", buys, err)
	}
	recent, err := s.ListSignals(ctx, SignalFilter{Since: domain.MustDate("2024-02-15")})
	if err != nil || len(recent) != 1 || recent[0].Type != domain.SignalSell {
		t.Errorf("since filter = %+v, %v", recent, err)
	}

	counts, err := s.CountSignalsSince(ctx, domain.MustDate("2024-01-01"))
	if err != nil || counts[domain.SignalBuy] != 1 || counts[domain.SignalSell] != 1 {
		t.Errorf("counts = %v, %v", counts, err)
	}

	if err := s.MarkNotified(ctx, []int64{sigs[0].ID}); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	buys, _ = s.ListSignals(ctx, SignalFilter{Type: domain.SignalBuy})
	if !buys[0].Notified {
		t.Error("signal not marked notified")
	}
}

func TestPositions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := addStock(t, s, "AMD", "Advanced Micro Devices")

	p := &domain.Position{
		ID:         "pos-1",
		StockID:    st.ID,
		EntryDate:  domain.MustDate("2024-01-10"),
		EntryPrice: 100,
		Quantity:   5,
		StopLoss:   92,
		Status:     domain.PositionOpen,
	}
	if err := s.CreatePosition(ctx, p); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}
	if err := s.UpdateStop(ctx, "pos-1", 95); err != nil {
		t.Fatalf("UpdateStop: %v", err)
	}
	got, err := s.GetPosition(ctx, "pos-1")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got.StopLoss != 95 || got.Ticker != "AMD" || got.ExitPrice != nil || !got.ExitDate.IsZero() {
		t.Errorf("position = %+v", got)
	}

	if err := s.ClosePosition(ctx, "pos-1", domain.MustDate("2024-02-01"), 110); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if err := s.ClosePosition(ctx, "pos-1", domain.MustDate("2024-02-01"), 110); !errors.Is(err, ErrNotFound) {
		t.Errorf("closing twice err = %v, want ErrNotFound", err)
	}
	open, _ := s.ListPositions(ctx, domain.PositionOpen)
	closed, _ := s.ListPositions(ctx, domain.PositionClosed)
	if len(open) != 0 || len(closed) != 1 || *closed[0].ExitPrice != 110 {
		t.Errorf("open=%d closed=%+v", len(open), closed)
	}
	n, err := s.DeleteClosed(ctx)
	if err != nil || n != 1 {
		t.Errorf("DeleteClosed = %d, %v", n, err)
	}
	if _, err := s.GetPosition(ctx, "pos-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPosition after delete err = %v", err)
	}
}

func TestOpenUnknownDialect(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Error("expected error for unknown dialect")
	}
}

func TestParquetArchivePaths(t *testing.T) {
	a := NewParquetArchive("/data")
	if got, want := a.dailyPath("aapl", 2024), filepath.Join("/data", "daily", "AAPL", "2024.parquet"); got != want {
		t.Errorf("dailyPath = %s, want %s", got, want)
	}
	if got, want := a.weeklyPath("msft"), filepath.Join("/data", "weekly", "MSFT.parquet"); got != want {
		t.Errorf("weeklyPath = %s, want %s", got, want)
	}
}

func TestParquetArchiveWeeklyRoundTrip(t *testing.T) {
	a := NewParquetArchive(t.TempDir())
	recs := []domain.WeeklyRecord{
		week(1, "2024-01-12", 11, 0.02, domain.StageUptrend),
		{WeekEndDate: domain.MustDate("2024-01-05"), Close: domain.Float(10)},
	}
	if err := a.WriteWeekly("abc", recs); err != nil {
		t.Fatalf("WriteWeekly: %v", err)
	}
	got, err := a.ReadWeekly("ABC", 7)
	if err != nil {
		t.Fatalf("ReadWeekly: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].WeekEndDate.String() != "2024-01-05" || got[0].Stage != domain.StageUnknown || got[0].MA30 != nil {
		t.Errorf("first record = %+v", got[0])
	}
	if got[1].Stage != domain.StageUptrend || got[1].StockID != 7 || *got[1].MA30 != 10.5 {
		t.Errorf("second record = %+v", got[1])
	}
	tickers, err := a.ListWeeklyTickers()
	if err != nil || len(tickers) != 1 || tickers[0] != "ABC" {
		t.Errorf("ListWeeklyTickers = %v, %v", tickers, err)
	}
}

func TestParquetArchiveDailyMerge(t *testing.T) {
	a := NewParquetArchive(t.TempDir())
	d := func(s string, c float64) domain.DailyBar {
		return domain.DailyBar{Date: domain.MustDate(s), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	if err := a.WriteDaily("XYZ", []domain.DailyBar{d("2023-12-29", 1), d("2024-01-02", 2)}); err != nil {
		t.Fatalf("WriteDaily: %v", err)
	}
	if err := a.WriteDaily("XYZ", []domain.DailyBar{d("2024-01-02", 3), d("2024-01-03", 4)}); err != nil {
		t.Fatalf("WriteDaily merge: %v", err)
	}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	bars, err := a.ReadDaily("XYZ", 3, start, end)
	if err != nil {
		t.Fatalf("ReadDaily: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	if bars[1].Close != 3 || bars[2].Date.String() != "2024-01-03" || bars[0].StockID != 3 {
		t.Errorf("bars = %+v", bars)
	}
}
