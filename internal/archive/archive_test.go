package archive_test

import (
	"strings"
	"testing"
	"time"

	"crewboard/internal/archive"
	"crewboard/internal/domain"
)

func TestLabel(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := archive.Label("Operation Orion!", at); got != "operation-orion-2026-01-02" {
		t.Fatalf("got %q", got)
	}
	if got := archive.Label("", at); got != "mission-2026-01-02" {
		t.Fatalf("empty name fallback: got %q", got)
	}
}

func TestSelectDefaultsToDone(t *testing.T) {
	board := domain.NewBoard("m")
	board.Phases[domain.StageDone] = []string{"a", "b"}
	board.Phases[domain.StageReady] = []string{"c"}
	selected, err := archive.Select(board, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 2 || selected[0] != "a" || selected[1] != "b" {
		t.Fatalf("got %v", selected)
	}
}

func TestSelectRejectsUnfinished(t *testing.T) {
	board := domain.NewBoard("m")
	board.Phases[domain.StageReady] = []string{"c"}
	if _, err := archive.Select(board, []string{"c"}); domain.CodeOf(err) != domain.CodeInvalidStage {
		t.Fatalf("expected INVALID_STAGE, got %v", err)
	}
	if _, err := archive.Select(board, []string{"ghost"}); domain.CodeOf(err) != domain.CodeItemNotFound {
		t.Fatalf("expected ITEM_NOT_FOUND, got %v", err)
	}
}

func TestExecuteRemovesBoardTraces(t *testing.T) {
	board := domain.NewBoard("m")
	board.Phases[domain.StageDone] = []string{"a"}
	board.Assignments["a"] = domain.Assignment{Agent: "agentA"}
	board.History["a"] = []domain.HistoryEntry{{Stage: domain.StageDone}}
	archive.Execute(board, []string{"a"})
	if _, ok := board.StageOf("a"); ok {
		t.Fatal("item still on board")
	}
	if _, ok := board.Assignments["a"]; ok {
		t.Fatal("assignment not removed")
	}
	if _, ok := board.History["a"]; ok {
		t.Fatal("history not removed")
	}
}

func TestSummaryContents(t *testing.T) {
	board := domain.NewBoard("orion")
	board.Mission.Status = "completed"
	board.Mission.StartedAt = "2026-01-01T00:00:00Z"
	board.Mission.CompletedAt = "2026-01-02T00:00:00Z"
	board.Mission.DurationSeconds = 86400
	board.Mission.FinalReview = "approved"
	board.Stats.Rejections = 1
	items := []*domain.WorkItem{
		{ID: "a", Title: "quiet work", Type: "feature"},
		{ID: "b", Title: "noisy work", Type: "bug", RejectionCount: 1, RejectionHistory: []domain.Rejection{
			{Reason: "flaky tests", Agent: "agentB", At: "2026-01-01T12:00:00Z"},
		}},
	}
	summary := archive.Summary(board, items, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	for _, want := range []string{
		"# Mission Summary: orion",
		"Final review: approved",
		"quiet work",
		"noisy work",
		"## Rejection Reasons",
		"flaky tests",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}
