// Package archive moves completed work items out of the active board into a
// dated per-mission archive and renders the mission summary.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/jedib0t/go-pretty/v6/table"

	"crewboard/internal/domain"
)

// SummaryFileName is the mission summary written alongside archived items.
const SummaryFileName = "SUMMARY.md"

// Label returns the dated archive directory name for a mission.
func Label(missionName string, t time.Time) string {
	name := slug.Make(missionName)
	if name == "" {
		name = "mission"
	}
	return name + "-" + t.UTC().Format("2006-01-02")
}

// Select resolves the archive selection: the explicit IDs when given
// (each must exist and sit in done), otherwise every item currently in done.
func Select(board *domain.Board, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return append([]string(nil), board.Phases[domain.StageDone]...), nil
	}
	selected := make([]string, 0, len(ids))
	for _, id := range ids {
		stage, ok := board.StageOf(id)
		if !ok {
			return nil, domain.Errf(domain.CodeItemNotFound, id, "item %s not found", id)
		}
		if stage != domain.StageDone {
			return nil, domain.Errf(domain.CodeInvalidStage, id,
				"item %s is in %s; only done items can be archived", id, stage)
		}
		selected = append(selected, id)
	}
	return selected, nil
}

// Execute drops the selected IDs from the active board. Item content is
// preserved by the caller's file relocation; here only the document changes.
func Execute(board *domain.Board, ids []string) {
	for _, id := range ids {
		board.RemoveFromPhase(domain.StageDone, id)
		delete(board.Assignments, id)
		delete(board.History, id)
	}
}

// Summary renders the human-readable mission summary: duration, per-item
// rejection counts, and a rejection reasons table.
func Summary(board *domain.Board, items []*domain.WorkItem, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Mission Summary: %s\n\n", board.Mission.Name)
	fmt.Fprintf(&b, "- Status: %s\n", board.Mission.Status)
	if board.Mission.StartedAt != "" {
		fmt.Fprintf(&b, "- Started: %s\n", board.Mission.StartedAt)
	}
	completed := board.Mission.CompletedAt
	if completed == "" {
		completed = now.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(&b, "- Completed: %s\n", completed)
	if board.Mission.DurationSeconds > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", (time.Duration(board.Mission.DurationSeconds) * time.Second).String())
	}
	if board.Mission.FinalReview != "" {
		fmt.Fprintf(&b, "- Final review: %s\n", board.Mission.FinalReview)
	}
	fmt.Fprintf(&b, "- Items archived: %d\n", len(items))
	fmt.Fprintf(&b, "- Total rejections: %d\n\n", board.Stats.Rejections)

	b.WriteString("## Items\n\n")
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Title", "Type", "Rejections"})
	for _, item := range items {
		tw.AppendRow(table.Row{item.ID, item.Title, item.Type, item.RejectionCount})
	}
	b.WriteString(tw.RenderMarkdown())
	b.WriteString("\n")

	var rejected []*domain.WorkItem
	for _, item := range items {
		if len(item.RejectionHistory) > 0 {
			rejected = append(rejected, item)
		}
	}
	if len(rejected) > 0 {
		b.WriteString("\n## Rejection Reasons\n\n")
		rw := table.NewWriter()
		rw.AppendHeader(table.Row{"Item", "Reason", "Agent", "At"})
		for _, item := range rejected {
			for _, r := range item.RejectionHistory {
				rw.AppendRow(table.Row{item.ID, r.Reason, r.Agent, r.At})
			}
		}
		b.WriteString(rw.RenderMarkdown())
		b.WriteString("\n")
	}
	return b.String()
}

// WriteSummary writes the mission summary into the archive directory.
func WriteSummary(dir string, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SummaryFileName), []byte(content), 0o644)
}
