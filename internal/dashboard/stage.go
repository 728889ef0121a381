package dashboard

import "weinstein/internal/domain"

// StageStyle is how a stage is labelled and colored on screen.
type StageStyle struct {
	Stage domain.Stage `json:"stage"`
	Name  string       `json:"name"`
	Color string       `json:"color"`
}

var stageColors = map[domain.Stage]string{
	domain.StageBase:      "#6c757d",
	domain.StageUptrend:   "#10b981",
	domain.StageTop:       "#f59e0b",
	domain.StageDowntrend: "#ef4444",
}

const unknownColor = "#6c757d"

// StageInfo returns the display name and color of a stage.
func StageInfo(s domain.Stage) StageStyle {
	color, ok := stageColors[s]
	if !ok {
		color = unknownColor
	}
	return StageStyle{Stage: s, Name: s.String(), Color: color}
}

// AllStages lists the styles of the four valid stages in order.
func AllStages() []StageStyle {
	out := make([]StageStyle, 0, 4)
	for s := domain.StageBase; s <= domain.StageDowntrend; s++ {
		out = append(out, StageInfo(s))
	}
	return out
}
