package engine

import (
	"crewboard/internal/domain"
)

// WIPCheck reports whether a stage can accept one more item.
type WIPCheck struct {
	Allowed   bool `json:"allowed"`
	Current   int  `json:"current"`
	Limit     *int `json:"limit"`
	Available *int `json:"available,omitempty"`
}

// CheckWIP evaluates the stage's occupancy against its configured limit. A
// nil limit means unlimited and always allows; a limit of zero permits
// nothing; at-capacity denies.
func CheckWIP(board *domain.Board, stage domain.Stage) WIPCheck {
	current := len(board.Phases[stage])
	limit := board.WIPLimits[stage]
	if limit == nil {
		return WIPCheck{Allowed: true, Current: current}
	}
	available := *limit - current
	if available < 0 {
		available = 0
	}
	return WIPCheck{
		Allowed:   current < *limit,
		Current:   current,
		Limit:     limit,
		Available: &available,
	}
}
