// Package analysis turns daily bars into weekly stage history: weekly
// aggregation, the 30-week moving average and its slope, relative strength
// against a benchmark, stage classification and signal generation.
package analysis

import (
	"weinstein/internal/domain"
	"weinstein/internal/util"
)

// WeekEnd returns the Friday that closes the trading week containing d.
// Saturday and Sunday belong to the week that ended the day(s) before.
func WeekEnd(d domain.Date) domain.Date {
	return domain.NewDate(util.WeekEnd(d.Time))
}

// AggregateWeekly groups ascending daily bars into weeks ending on Friday:
// first open, highest high, lowest low, last close and total volume. The
// result is ascending and carries no indicators or stage yet.
func AggregateWeekly(stockID int64, daily []domain.DailyBar) []domain.WeeklyRecord {
	var out []domain.WeeklyRecord
	for _, b := range daily {
		we := WeekEnd(b.Date)
		n := len(out)
		if n == 0 || out[n-1].WeekEndDate != we {
			out = append(out, domain.WeeklyRecord{
				StockID:     stockID,
				WeekEndDate: we,
				Open:        domain.Float(b.Open),
				High:        domain.Float(b.High),
				Low:         domain.Float(b.Low),
				Close:       domain.Float(b.Close),
				Volume:      domain.Int(b.Volume),
			})
			continue
		}
		w := &out[n-1]
		if b.High > *w.High {
			w.High = domain.Float(b.High)
		}
		if b.Low < *w.Low {
			w.Low = domain.Float(b.Low)
		}
		w.Close = domain.Float(b.Close)
		w.Volume = domain.Int(*w.Volume + b.Volume)
	}
	return out
}
