package engine

import (
	"crewboard/internal/domain"
)

// transitions is the fixed, total stage state machine. Every stage has a
// closed set of legal next stages; self-transitions are never legal; done is
// terminal; blocked only drains back to ready.
var transitions = map[domain.Stage][]domain.Stage{
	domain.StageIntake:  {domain.StageReady},
	domain.StageReady:   {domain.StageInTest, domain.StageInBuild, domain.StageBlocked},
	domain.StageInTest:  {domain.StageInBuild, domain.StageReady, domain.StageBlocked},
	domain.StageInBuild: {domain.StageReview, domain.StageReady, domain.StageBlocked},
	domain.StageReview:  {domain.StageVerify, domain.StageReady, domain.StageBlocked},
	domain.StageVerify:  {domain.StageDone, domain.StageReview, domain.StageReady, domain.StageBlocked},
	domain.StageDone:    {},
	domain.StageBlocked: {domain.StageReady},
}

// TransitionCheck is the result of validating one stage transition.
type TransitionCheck struct {
	Legal       bool           `json:"legal"`
	AllowedNext []domain.Stage `json:"allowed_next"`
}

// ValidateTransition answers whether from -> to is legal and always supplies
// the legal next-stage set so callers can render actionable guidance. Pure
// function of the two stage labels.
func ValidateTransition(from, to domain.Stage) TransitionCheck {
	allowed := transitions[from]
	check := TransitionCheck{AllowedNext: append([]domain.Stage(nil), allowed...)}
	if from == to {
		return check
	}
	for _, next := range allowed {
		if next == to {
			check.Legal = true
			return check
		}
	}
	return check
}

// AllowedNext returns the legal next stages for a stage.
func AllowedNext(from domain.Stage) []domain.Stage {
	return append([]domain.Stage(nil), transitions[from]...)
}
