package analysis

import "weinstein/internal/domain"

// MovingAverage returns the mean of the last period values, or nil when
// fewer than period values are available.
func MovingAverage(values []float64, period int) *float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return domain.Float(sum / float64(period))
}

// Slope returns the relative change (cur - prev) / prev, or nil when either
// value is missing or prev is zero.
func Slope(cur, prev *float64) *float64 {
	if cur == nil || prev == nil || *prev == 0 {
		return nil
	}
	return domain.Float((*cur - *prev) / *prev)
}

// ComputeIndicators fills MA30 and MA30Slope on ascending weekly records.
// Weeks without a close are skipped by the average and get no indicators.
func ComputeIndicators(weekly []domain.WeeklyRecord, period int) {
	closes := make([]float64, 0, len(weekly))
	var prevMA *float64
	for i := range weekly {
		w := &weekly[i]
		w.MA30, w.MA30Slope = nil, nil
		if w.Close == nil {
			continue
		}
		closes = append(closes, *w.Close)
		w.MA30 = MovingAverage(closes, period)
		w.MA30Slope = Slope(w.MA30, prevMA)
		prevMA = w.MA30
	}
}

// BenchmarkCloses indexes the weekly closes of a benchmark by week end.
func BenchmarkCloses(weekly []domain.WeeklyRecord) map[domain.Date]float64 {
	out := make(map[domain.Date]float64, len(weekly))
	for _, w := range weekly {
		if w.Close != nil && *w.Close != 0 {
			out[w.WeekEndDate] = *w.Close
		}
	}
	return out
}

// ApplyRelativeStrength sets RS to close divided by the benchmark close of
// the same week. Weeks the benchmark does not cover get no RS.
func ApplyRelativeStrength(weekly []domain.WeeklyRecord, bench map[domain.Date]float64) {
	for i := range weekly {
		w := &weekly[i]
		w.RS = nil
		if w.Close == nil {
			continue
		}
		if b, ok := bench[w.WeekEndDate]; ok {
			w.RS = domain.Float(*w.Close / b)
		}
	}
}
