package history

import "strconv"

// Period is a chart window preset.
type Period struct {
	Weeks int    `json:"weeks"`
	Label string `json:"label"`
}

// Periods lists the selectable chart windows. Weeks 0 means all history.
var Periods = []Period{
	{Weeks: 26, Label: "6M"},
	{Weeks: 52, Label: "1Y"},
	{Weeks: 104, Label: "2Y"},
	{Weeks: 0, Label: "All"},
}

// DefaultWeeks is the window shown before the user picks a period.
const DefaultWeeks = 52

// ParsePeriod accepts a label ("6M") or a week count ("26"). Anything else
// yields DefaultWeeks and false.
func ParsePeriod(s string) (int, bool) {
	for _, p := range Periods {
		if s == p.Label {
			return p.Weeks, true
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n, true
	}
	return DefaultWeeks, false
}
