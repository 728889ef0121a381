// Package builtins provides the stage classifiers that ship with weinstein.
package builtins

import (
	"weinstein/internal/domain"
	"weinstein/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Classifier = (*Weinstein)(nil)
	_ strategy.Classifier = (*Hysteresis)(nil)
)

// Default thresholds.
const (
	DefaultSlopeThreshold      = 0.015
	DefaultSlopeEntryThreshold = 0.025
	DefaultPriceBand           = 0.05
)

// Weinstein is the classic four-stage classifier. Price is "above" or
// "below" the 30-week average when it sits outside a band of PriceBand
// around it; the average is rising or falling when its weekly slope exceeds
// SlopeThreshold in either direction, and flat otherwise.
type Weinstein struct {
	SlopeThreshold float64
	PriceBand      float64
}

// NewWeinstein creates a Weinstein classifier with the given thresholds.
func NewWeinstein(slopeThreshold, priceBand float64) *Weinstein {
	return &Weinstein{SlopeThreshold: slopeThreshold, PriceBand: priceBand}
}

// Name returns "weinstein".
func (w *Weinstein) Name() string { return "weinstein" }

// Classify applies the stage rules in order: Stage 2 above a rising
// average, Stage 4 below a falling one, Stage 3 when a flat average follows
// Stage 2 or 3, Stage 1 when a flat or falling average follows Stage 4, 1
// or nothing. Otherwise the previous stage carries over.
func (w *Weinstein) Classify(in strategy.Input, prev domain.Stage) domain.Stage {
	return classify(in, prev, w.PriceBand, w.SlopeThreshold, w.SlopeThreshold)
}

// Hysteresis requires a steeper slope to enter Stage 2 or 4 than to stay
// in it, which damps flip-flopping around the threshold.
type Hysteresis struct {
	EntryThreshold float64
	ExitThreshold  float64
	PriceBand      float64
}

// NewHysteresis creates a Hysteresis classifier.
func NewHysteresis(entry, exit, priceBand float64) *Hysteresis {
	return &Hysteresis{EntryThreshold: entry, ExitThreshold: exit, PriceBand: priceBand}
}

// Name returns "hysteresis".
func (h *Hysteresis) Name() string { return "hysteresis" }

// Classify is Weinstein.Classify with the entry threshold applied to moves
// into Stage 2 or 4.
func (h *Hysteresis) Classify(in strategy.Input, prev domain.Stage) domain.Stage {
	return classify(in, prev, h.PriceBand, h.EntryThreshold, h.ExitThreshold)
}

// classify implements the stage rules. entry gates a move into Stage 2 or
// 4, exit decides whether the average counts as flat.
func classify(in strategy.Input, prev domain.Stage, band, entry, exit float64) domain.Stage {
	fallback := prev
	if !fallback.Valid() {
		fallback = domain.StageBase
	}
	if in.MA30 == nil || *in.MA30 == 0 {
		return fallback
	}
	ma := *in.MA30
	dist := (in.Close - ma) / ma
	above := dist > band
	below := dist < -band
	near := !above && !below

	var slope float64
	if in.Slope != nil {
		slope = *in.Slope
	}
	up := func(th float64) bool { return slope > th }
	down := func(th float64) bool { return slope < -th }
	flat := slope >= -exit && slope <= exit

	upTh, downTh := entry, entry
	if prev == domain.StageUptrend {
		upTh = exit
	}
	if prev == domain.StageDowntrend {
		downTh = exit
	}

	switch {
	case above && up(upTh):
		return domain.StageUptrend
	case below && down(downTh):
		return domain.StageDowntrend
	case (near || above) && flat && (prev == domain.StageUptrend || prev == domain.StageTop):
		return domain.StageTop
	case (near || below) && (flat || down(exit)) &&
		(prev == domain.StageDowntrend || prev == domain.StageBase || !prev.Valid()):
		return domain.StageBase
	}
	return fallback
}

// Register adds every builtin classifier to r using the given thresholds.
func Register(r *strategy.Registry, slopeThreshold, entryThreshold, priceBand float64) {
	r.Register(NewWeinstein(slopeThreshold, priceBand))
	r.Register(NewHysteresis(entryThreshold, slopeThreshold, priceBand))
}
