package dashboard

import (
	"context"

	"weinstein/internal/domain"
)

const statsKey = "stats"

// StageCount is one slice of the stage distribution.
type StageCount struct {
	StageStyle
	Count int `json:"count"`
}

// Stats is the dashboard summary.
type Stats struct {
	TotalStocks     int                       `json:"total_stocks"`
	Stages          []StageCount              `json:"stages"`
	SignalsLastWeek map[domain.SignalType]int `json:"signals_last_week"`
	LastUpdate      *domain.Date              `json:"last_update"`
}

// Stats counts active stocks by latest stage and signals by type over the
// last seven days.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if s.opts.CacheTTL > 0 {
		var cached Stats
		ok, err := s.cache.Get(ctx, statsKey, &cached)
		if err != nil {
			s.logger.Warn("cache read failed", "key", statsKey, "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	dist, err := s.store.StageDistribution(ctx)
	if err != nil {
		return nil, err
	}
	stocks, err := s.store.ListStocks(ctx, true)
	if err != nil {
		return nil, err
	}
	since := domain.NewDate(s.now().AddDate(0, 0, -7))
	counts, err := s.store.CountSignalsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	last, err := s.store.LastUpdate(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		TotalStocks: len(stocks),
		SignalsLastWeek: map[domain.SignalType]int{
			domain.SignalBuy:         counts[domain.SignalBuy],
			domain.SignalSell:        counts[domain.SignalSell],
			domain.SignalStageChange: counts[domain.SignalStageChange],
		},
	}
	for _, style := range AllStages() {
		st.Stages = append(st.Stages, StageCount{StageStyle: style, Count: dist[style.Stage]})
	}
	if !last.IsZero() {
		st.LastUpdate = &last
	}

	if s.opts.CacheTTL > 0 {
		if err := s.cache.Set(ctx, statsKey, st, s.opts.CacheTTL); err != nil {
			s.logger.Warn("cache write failed", "key", statsKey, "error", err)
		}
	}
	return st, nil
}
