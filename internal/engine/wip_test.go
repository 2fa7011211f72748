package engine_test

import (
	"testing"

	"crewboard/internal/domain"
	"crewboard/internal/engine"
)

func boardWithOccupancy(stage domain.Stage, n int, limit *int) *domain.Board {
	board := domain.NewBoard("wip")
	for i := 0; i < n; i++ {
		board.Phases[stage] = append(board.Phases[stage], string(rune('a'+i)))
	}
	if limit != nil {
		board.WIPLimits[stage] = limit
	}
	return board
}

func TestCheckWIPUnlimited(t *testing.T) {
	board := boardWithOccupancy(domain.StageInBuild, 5, nil)
	check := engine.CheckWIP(board, domain.StageInBuild)
	if !check.Allowed || check.Limit != nil {
		t.Fatalf("nil limit must always allow, got %+v", check)
	}
}

func TestCheckWIPZeroPermitsNothing(t *testing.T) {
	zero := 0
	board := boardWithOccupancy(domain.StageInBuild, 0, &zero)
	check := engine.CheckWIP(board, domain.StageInBuild)
	if check.Allowed {
		t.Fatalf("zero limit must deny, got %+v", check)
	}
	if check.Available == nil || *check.Available != 0 {
		t.Fatalf("expected zero available, got %+v", check)
	}
}

func TestCheckWIPAtCapacity(t *testing.T) {
	two := 2
	board := boardWithOccupancy(domain.StageInTest, 2, &two)
	check := engine.CheckWIP(board, domain.StageInTest)
	if check.Allowed || check.Current != 2 || *check.Limit != 2 {
		t.Fatalf("at capacity must deny, got %+v", check)
	}
}

func TestCheckWIPBelowCapacity(t *testing.T) {
	three := 3
	board := boardWithOccupancy(domain.StageReview, 1, &three)
	check := engine.CheckWIP(board, domain.StageReview)
	if !check.Allowed || *check.Available != 2 {
		t.Fatalf("expected 2 available, got %+v", check)
	}
}
