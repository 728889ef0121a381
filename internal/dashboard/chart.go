package dashboard

import (
	"weinstein/internal/domain"
	"weinstein/internal/history"
)

// Candle is one week of OHLC for a candlestick series.
type Candle struct {
	Index int         `json:"index"`
	Date  domain.Date `json:"date"`
	Open  float64     `json:"open"`
	High  float64     `json:"high"`
	Low   float64     `json:"low"`
	Close float64     `json:"close"`
}

// Chart is the chart-ready view of a windowed history. Series indexed by
// week (Close, MA30, Volume, StageColors) have one entry per label and use
// nil for absent values. Candles skip weeks without complete OHLC.
type Chart struct {
	Weeks       int                  `json:"weeks"`
	Labels      []string             `json:"labels"`
	Close       []*float64           `json:"close"`
	MA30        []*float64           `json:"ma30"`
	Volume      []*int64             `json:"volume"`
	StageColors []string             `json:"stage_colors"`
	Candles     []Candle             `json:"candles"`
	RS          []history.RSPoint    `json:"rs"`
	RSBaseline  float64              `json:"rs_baseline"`
	Transitions []history.Transition `json:"transitions"`
}

// BuildChart windows hist to the trailing weeks records and derives every
// series from that window. The RS series is rebased to the window's first
// point.
func BuildChart(hist []domain.WeeklyRecord, weeks int) Chart {
	win := history.SliceWindow(hist, weeks)
	c := Chart{
		Weeks:       weeks,
		Labels:      make([]string, len(win)),
		Close:       make([]*float64, len(win)),
		MA30:        make([]*float64, len(win)),
		Volume:      make([]*int64, len(win)),
		StageColors: make([]string, len(win)),
		Candles:     []Candle{},
		RS:          history.RebaseRelativeStrength(win),
		RSBaseline:  history.RSBaseline,
		Transitions: history.DetectTransitions(win),
	}
	for i, w := range win {
		c.Labels[i] = w.WeekEndDate.String()
		c.Close[i] = w.Close
		c.MA30[i] = w.MA30
		c.Volume[i] = w.Volume
		c.StageColors[i] = StageInfo(w.Stage).Color
		if w.HasOHLC() {
			c.Candles = append(c.Candles, Candle{
				Index: i,
				Date:  w.WeekEndDate,
				Open:  *w.Open,
				High:  *w.High,
				Low:   *w.Low,
				Close: *w.Close,
			})
		}
	}
	if c.RS == nil {
		c.RS = []history.RSPoint{}
	}
	return c
}
