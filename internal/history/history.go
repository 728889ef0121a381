// Package history derives chart windows, stage transitions and rebased
// relative strength from an ascending sequence of weekly records.
//
// Every function here is pure. Inputs are never modified and results never
// alias the input slice.
package history

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	"weinstein/internal/domain"
)

// SliceWindow returns the trailing weeks records of history in their
// original order. weeks <= 0 selects the full sequence, as does any value
// at or beyond len(history).
func SliceWindow(history []domain.WeeklyRecord, weeks int) []domain.WeeklyRecord {
	if weeks <= 0 || weeks >= len(history) {
		return slices.Clone(history)
	}
	return slices.Clone(history[len(history)-weeks:])
}

// Transition marks a week whose stage differs from the week before it.
// From is nil for the first record of a sequence.
type Transition struct {
	Date          domain.Date   `json:"date"`
	From          *domain.Stage `json:"from_stage"`
	To            domain.Stage  `json:"to_stage"`
	SequenceIndex int           `json:"sequence_index"`
}

// unknownFrom encodes a From stage that was unknown. null is reserved for
// the first record, which has no previous stage at all.
const unknownFrom = `"unknown"`

type transitionJSON struct {
	Date          domain.Date     `json:"date"`
	From          json.RawMessage `json:"from_stage"`
	To            domain.Stage    `json:"to_stage"`
	SequenceIndex int             `json:"sequence_index"`
}

// MarshalJSON writes from_stage as null for the first record, "unknown"
// when the previous week had no stage, and 1-4 otherwise.
func (t Transition) MarshalJSON() ([]byte, error) {
	from := json.RawMessage("null")
	if t.From != nil {
		if t.From.Valid() {
			from = strconv.AppendInt(nil, int64(*t.From), 10)
		} else {
			from = json.RawMessage(unknownFrom)
		}
	}
	return json.Marshal(transitionJSON{Date: t.Date, From: from, To: t.To, SequenceIndex: t.SequenceIndex})
}

// UnmarshalJSON reverses MarshalJSON.
func (t *Transition) UnmarshalJSON(b []byte) error {
	var raw transitionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Transition{Date: raw.Date, To: raw.To, SequenceIndex: raw.SequenceIndex}
	switch string(raw.From) {
	case "", "null":
	case unknownFrom:
		from := domain.StageUnknown
		t.From = &from
	default:
		var from domain.Stage
		if err := json.Unmarshal(raw.From, &from); err != nil {
			return fmt.Errorf("decoding from_stage: %w", err)
		}
		t.From = &from
	}
	return nil
}

// DetectTransitions walks history once and emits a Transition wherever the
// stage changes. The first record always yields one with a nil From.
// Unknown is a stage value of its own and only equals another unknown.
func DetectTransitions(history []domain.WeeklyRecord) []Transition {
	var out []Transition
	for i, rec := range history {
		if i == 0 {
			out = append(out, Transition{Date: rec.WeekEndDate, To: rec.Stage, SequenceIndex: 0})
			continue
		}
		prev := history[i-1].Stage
		if rec.Stage == prev {
			continue
		}
		out = append(out, Transition{
			Date:          rec.WeekEndDate,
			From:          &prev,
			To:            rec.Stage,
			SequenceIndex: i,
		})
	}
	return out
}

// Recent returns the last k transitions, most recent first.
func Recent(transitions []Transition, k int) []Transition {
	if k <= 0 {
		return nil
	}
	if k > len(transitions) {
		k = len(transitions)
	}
	out := slices.Clone(transitions[len(transitions)-k:])
	slices.Reverse(out)
	return out
}

// RSPoint is one relative-strength value rebased to 100.
type RSPoint struct {
	Date  domain.Date `json:"date"`
	Value float64     `json:"value"`
}

// RSBaseline is the parity level of a rebased series.
const RSBaseline = 100.0

// RebaseRelativeStrength rebases the rs values of history so the first
// record carrying rs reads 100. Records without rs are dropped. The result
// is empty when no record carries rs, or when the anchor is zero and no
// ratio can be formed.
//
// The anchor is the first rs of the slice passed in, so rebasing a window
// reads as performance since the left edge of that window.
func RebaseRelativeStrength(history []domain.WeeklyRecord) []RSPoint {
	var base float64
	found := false
	var out []RSPoint
	for _, rec := range history {
		if rec.RS == nil {
			continue
		}
		if !found {
			base = *rec.RS
			found = true
			if base == 0 {
				return nil
			}
		}
		out = append(out, RSPoint{
			Date:  rec.WeekEndDate,
			Value: round(*rec.RS/base*100, 4),
		})
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
