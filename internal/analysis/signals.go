package analysis

import "weinstein/internal/domain"

// ClassifySignal names a stage transition: 1→2 is a buy, 2→4 and 3→4 are
// sells, anything else is a plain stage change.
func ClassifySignal(from, to domain.Stage) domain.SignalType {
	switch {
	case from == domain.StageBase && to == domain.StageUptrend:
		return domain.SignalBuy
	case to == domain.StageDowntrend && (from == domain.StageUptrend || from == domain.StageTop):
		return domain.SignalSell
	}
	return domain.SignalStageChange
}

// SignalOptions tunes signal generation.
type SignalOptions struct {
	// MaxBuyDistance drops BUY signals whose price sits more than this
	// fraction above MA30. Zero disables the filter.
	MaxBuyDistance float64
}

// GenerateSignals emits a signal for every pair of consecutive weeks whose
// stages are both known and differ. At most one signal of each type is
// emitted per date.
func GenerateSignals(stock domain.Stock, weekly []domain.WeeklyRecord, opts SignalOptions) []domain.Signal {
	type key struct {
		date domain.Date
		typ  domain.SignalType
	}
	seen := make(map[key]bool)
	var out []domain.Signal
	for i := 1; i < len(weekly); i++ {
		prev, cur := weekly[i-1], weekly[i]
		if !prev.Stage.Valid() || !cur.Stage.Valid() || prev.Stage == cur.Stage || cur.Close == nil {
			continue
		}
		typ := ClassifySignal(prev.Stage, cur.Stage)
		if typ == domain.SignalBuy && opts.MaxBuyDistance > 0 && cur.MA30 != nil && *cur.MA30 != 0 {
			if (*cur.Close-*cur.MA30) / *cur.MA30 > opts.MaxBuyDistance {
				continue
			}
		}
		k := key{cur.WeekEndDate, typ}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, domain.Signal{
			StockID:   stock.ID,
			Ticker:    stock.Ticker,
			Name:      stock.Name,
			Date:      cur.WeekEndDate,
			Type:      typ,
			FromStage: prev.Stage,
			ToStage:   cur.Stage,
			Price:     *cur.Close,
			MA30:      cur.MA30,
		})
	}
	return out
}
