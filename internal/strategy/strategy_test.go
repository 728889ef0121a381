package strategy

import (
	"math"
	"testing"

	"weinstein/internal/domain"
)

// stubClassifier always returns the same stage.
type stubClassifier struct {
	name  string
	stage domain.Stage
}

func (s *stubClassifier) Name() string                              { return s.name }
func (s *stubClassifier) Classify(Input, domain.Stage) domain.Stage { return s.stage }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubClassifier{name: "test-classifier"})

	got, ok := r.Get("test-classifier")
	if !ok {
		t.Fatal("Get returned false for registered classifier")
	}
	if got.Name() != "test-classifier" {
		t.Errorf("Get returned classifier with Name() = %q", got.Name())
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get returned true for unregistered classifier")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubClassifier{name: "beta"})
	r.Register(&stubClassifier{name: "alpha"})

	names := r.List()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List() = %v, want [alpha beta]", names)
	}
}

func TestClassifyHistoryCarriesStageOverMissingClose(t *testing.T) {
	hist := []domain.WeeklyRecord{
		{Close: domain.Float(10)},
		{},
		{Close: domain.Float(11)},
	}
	ClassifyHistory(&stubClassifier{name: "x", stage: domain.StageTop}, hist)
	for i, w := range hist {
		if w.Stage != domain.StageTop {
			t.Errorf("week %d stage = %d, want 3", i, w.Stage)
		}
	}

	hist = []domain.WeeklyRecord{{}, {Close: domain.Float(1)}}
	ClassifyHistory(&stubClassifier{name: "x", stage: domain.StageBase}, hist)
	if hist[0].Stage != domain.StageUnknown {
		t.Errorf("leading week without close = %d, want unknown", hist[0].Stage)
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func bar(date string, low, close float64) domain.DailyBar {
	return domain.DailyBar{Date: domain.MustDate(date), Open: close, High: close, Low: low, Close: close}
}

func TestSimulateTradeStopLoss(t *testing.T) {
	sig := domain.Signal{Ticker: "AAA", Date: domain.MustDate("2024-01-05"), Price: 100}
	daily := []domain.DailyBar{
		bar("2024-01-05", 99, 100), // entry day is skipped
		bar("2024-01-08", 103, 120),
		bar("2024-01-09", 101, 110),
		bar("2024-01-10", 101.5, 105),
	}
	tr, ok := SimulateTrade(sig, daily, nil, DefaultBacktestOptions())
	if !ok {
		t.Fatal("expected a trade")
	}
	if tr.ExitReason != ExitStopLoss {
		t.Fatalf("exit reason = %s, want %s", tr.ExitReason, ExitStopLoss)
	}
	// Trailing stop: 120 * 0.85 = 102.
	if !approx(tr.ExitPrice, 102) || tr.ExitDate.String() != "2024-01-09" {
		t.Errorf("exit = %v on %s", tr.ExitPrice, tr.ExitDate)
	}
	if !approx(tr.InitialStop, 92) || tr.HighestPrice != 120 {
		t.Errorf("initial stop %v highest %v", tr.InitialStop, tr.HighestPrice)
	}
	if !approx(tr.ReturnPct, 2) || !tr.Winner() || tr.DaysHeld != 4 {
		t.Errorf("return %v days %d", tr.ReturnPct, tr.DaysHeld)
	}
}

func TestSimulateTradeStageExit(t *testing.T) {
	sig := domain.Signal{Date: domain.MustDate("2024-01-05"), Price: 50}
	weekly := []domain.WeeklyRecord{
		{WeekEndDate: domain.MustDate("2024-01-05"), Stage: domain.StageDowntrend}, // entry week is ignored
		{WeekEndDate: domain.MustDate("2024-01-12"), Stage: domain.StageUptrend, Close: domain.Float(52), MA30: domain.Float(45)},
		{WeekEndDate: domain.MustDate("2024-01-19"), Stage: domain.StageTop, Close: domain.Float(51), MA30: domain.Float(48)},
	}
	daily := []domain.DailyBar{
		bar("2024-01-08", 49, 50),
		bar("2024-01-12", 51, 52),
		bar("2024-01-16", 51, 52),
		bar("2024-01-19", 50, 51),
		bar("2024-01-22", 50, 50.5),
	}
	tr, ok := SimulateTrade(sig, daily, weekly, DefaultBacktestOptions())
	if !ok {
		t.Fatal("expected a trade")
	}
	if tr.ExitReason != "STAGE_CHANGE_TO_3" || tr.ExitDate.String() != "2024-01-19" || tr.ExitPrice != 51 {
		t.Errorf("trade = %+v", tr)
	}
}

func TestSimulateTradeHoldAndNoData(t *testing.T) {
	sig := domain.Signal{Date: domain.MustDate("2024-01-05"), Price: 10}
	if _, ok := SimulateTrade(sig, nil, nil, DefaultBacktestOptions()); ok {
		t.Error("no bars should produce no trade")
	}
	tr, ok := SimulateTrade(sig, []domain.DailyBar{bar("2024-01-08", 9.5, 9.8)}, nil, DefaultBacktestOptions())
	if !ok || tr.ExitReason != ExitHold || tr.Winner() {
		t.Errorf("trade = %+v, %v", tr, ok)
	}
}

func TestSummarize(t *testing.T) {
	trades := []Trade{
		{ExitDate: domain.MustDate("2024-01-01"), ReturnPct: 10, ExitReason: ExitHold},
		{ExitDate: domain.MustDate("2024-02-01"), ReturnPct: -5, ExitReason: ExitStopLoss},
		{ExitDate: domain.MustDate("2024-03-01"), ReturnPct: -3, ExitReason: ExitStopLoss},
		{ExitDate: domain.MustDate("2024-04-01"), ReturnPct: 6, ExitReason: ExitBelowMA30},
	}
	res := Summarize(trades)
	if res.TotalTrades != 4 || res.Winners != 2 || res.WinRate != 50 {
		t.Errorf("counts = %+v", res)
	}
	if res.TotalReturn != 8 || res.AvgReturn != 2 {
		t.Errorf("returns = %v / %v", res.TotalReturn, res.AvgReturn)
	}
	if res.MaxDrawdown != 8 || res.ProfitFactor != 2 {
		t.Errorf("drawdown %v profit factor %v", res.MaxDrawdown, res.ProfitFactor)
	}
	if res.ExitReasons[ExitStopLoss] != 2 {
		t.Errorf("exit reasons = %v", res.ExitReasons)
	}
	if empty := Summarize(nil); empty.TotalTrades != 0 || empty.WinRate != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}
