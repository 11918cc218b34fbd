package domain

// WarningLevel is the coarse risk bucket derived from a numeric score.
type WarningLevel string

const (
	WarningHigh   WarningLevel = "HIGH"
	WarningMedium WarningLevel = "MEDIUM"
	WarningLow    WarningLevel = "LOW"
)

// Thresholds maps scores to warning levels. High must be >= Medium.
type Thresholds struct {
	High   int `yaml:"high"`
	Medium int `yaml:"medium"`
}

// Level is a pure function of score: HIGH if score >= High,
// MEDIUM if score >= Medium, LOW otherwise.
func (t Thresholds) Level(score int) WarningLevel {
	switch {
	case score >= t.High:
		return WarningHigh
	case score >= t.Medium:
		return WarningMedium
	default:
		return WarningLow
	}
}

// rank orders levels for minimum-level filtering.
func (w WarningLevel) rank() int {
	switch w {
	case WarningHigh:
		return 2
	case WarningMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether w is at least as severe as min.
// An empty min matches everything.
func (w WarningLevel) AtLeast(min WarningLevel) bool {
	if min == "" {
		return true
	}
	return w.rank() >= min.rank()
}
