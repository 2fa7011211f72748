package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"crewboard/internal/archive"
	"crewboard/internal/config"
	"crewboard/internal/domain"
	"crewboard/internal/events"
	"crewboard/internal/graph"
	"crewboard/internal/store"
)

// InitMission creates the board directory layout, an empty board document,
// and a default mission.yml when none exists.
func InitMission(ctx context.Context, dir, name string, cfg *config.Config) (*domain.Board, error) {
	if name == "" {
		return nil, domain.Errf(domain.CodeValidation, "", "mission name is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.Errf(domain.CodeServerError, "", "create board dir: %v", err)
	}
	cfg.Mission.Name = name
	st := store.New(dir)
	e := New(st, cfg)

	var board *domain.Board
	err := e.Lock.WithLock(ctx, func() error {
		var err error
		board, err = st.Init(name)
		if err != nil {
			return err
		}
		board.WIPLimits = cfg.StageWIPLimits()
		if err := st.SaveBoard(board); err != nil {
			return err
		}
		if _, statErr := os.Stat(config.Path(dir)); os.IsNotExist(statErr) {
			if err := cfg.Write(dir); err != nil {
				return err
			}
		}
		return e.Events.Append("system", "mission %q initialized", name)
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

// PrecheckReport is the result of the pre-mission validation pass.
type PrecheckReport struct {
	OK       bool          `json:"ok"`
	Graph    *graph.Report `json:"graph"`
	Problems []string      `json:"problems,omitempty"`
}

// Precheck validates the board before work starts: strict dependency-graph
// validation plus the document's own invariants. Lock-free; it mutates
// nothing.
func (e Engine) Precheck() (*PrecheckReport, error) {
	board, err := e.Store.LoadBoard()
	if err != nil {
		return nil, err
	}
	g := graph.Build(board.DependencyGraph)
	report := g.Validate()
	pre := &PrecheckReport{Graph: &report}

	for _, cycle := range report.Cycles {
		pre.Problems = append(pre.Problems, fmt.Sprintf("dependency cycle: %v", cycle))
	}
	for _, m := range report.Missing {
		pre.Problems = append(pre.Problems, fmt.Sprintf("item %s depends on nonexistent %s", m.ItemID, m.DependsOn))
	}

	seen := map[string]domain.Stage{}
	total := 0
	for _, stage := range domain.Stages {
		for _, id := range board.Phases[stage] {
			total++
			if prev, dup := seen[id]; dup {
				pre.Problems = append(pre.Problems,
					fmt.Sprintf("item %s listed in both %s and %s", id, prev, stage))
			}
			seen[id] = stage
		}
	}
	if board.Stats.Total != total {
		pre.Problems = append(pre.Problems,
			fmt.Sprintf("stats.total_items is %d but phases hold %d", board.Stats.Total, total))
	}
	for id, assignment := range board.Assignments {
		stage, ok := seen[id]
		if !ok {
			pre.Problems = append(pre.Problems, fmt.Sprintf("assignment for unknown item %s", id))
			continue
		}
		if !stage.IsClaimable() {
			pre.Problems = append(pre.Problems,
				fmt.Sprintf("item %s assigned to %s but sits in %s", id, assignment.Agent, stage))
		}
	}
	pre.OK = len(pre.Problems) == 0
	return pre, nil
}

// PostcheckReport is the result of the end-of-mission verification pass.
type PostcheckReport struct {
	Passed  bool     `json:"passed"`
	Pending []string `json:"pending,omitempty"`
}

// Postcheck verifies every item reached the terminal stage and records the
// verdict on the mission metadata.
func (e Engine) Postcheck(ctx context.Context) (*PostcheckReport, error) {
	var result *PostcheckReport
	err := e.mutate(ctx, func(t *txn) error {
		board := t.Board
		var pending []string
		for _, stage := range domain.Stages {
			if stage == domain.StageDone {
				continue
			}
			pending = append(pending, board.Phases[stage]...)
		}
		result = &PostcheckReport{Passed: len(pending) == 0, Pending: pending}
		if result.Passed {
			board.Mission.PostCheck = "passed"
		} else {
			board.Mission.PostCheck = "failed"
		}
		t.Log("system", "postcheck %s (%d pending)", board.Mission.PostCheck, len(pending))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ArchiveOptions are parameters for the archival engine.
type ArchiveOptions struct {
	IDs      []string
	Complete bool
	DryRun   bool
	Verdict  string
	Agent    string
}

// ArchiveResult reports an archival run.
type ArchiveResult struct {
	Archived   []string `json:"archived"`
	DryRun     bool     `json:"dry_run,omitempty"`
	ArchiveDir string   `json:"archive_dir,omitempty"`
	Completed  bool     `json:"completed,omitempty"`
}

// Archive relocates completed items into a dated per-mission archive. A dry
// run reports the selection without mutating anything. With Complete set it
// also writes the mission summary, rotates the activity log into the
// archive, and stamps the mission completed.
func (e Engine) Archive(ctx context.Context, opts ArchiveOptions) (*ArchiveResult, error) {
	if opts.DryRun {
		board, err := e.Store.LoadBoard()
		if err != nil {
			return nil, err
		}
		selected, err := archive.Select(board, opts.IDs)
		if err != nil {
			return nil, err
		}
		return &ArchiveResult{Archived: selected, DryRun: true}, nil
	}

	var result *ArchiveResult
	err := e.mutate(ctx, func(t *txn) error {
		board := t.Board
		selected, err := archive.Select(board, opts.IDs)
		if err != nil {
			return err
		}
		label := archive.Label(board.Mission.Name, e.now())
		dir := e.Store.ArchiveDir(label)

		items := make([]*domain.WorkItem, 0, len(selected))
		for _, id := range selected {
			item, _, err := e.Store.ReadItem(id, domain.StageDone)
			if err != nil {
				return err
			}
			item.Stage = domain.StageDone
			items = append(items, item)
		}
		archive.Execute(board, selected)

		now := e.nowString()
		if opts.Complete {
			board.Mission.Status = "completed"
			if board.Mission.CompletedAt == "" {
				board.Mission.CompletedAt = now
			}
			if board.Mission.DurationSeconds == 0 {
				board.Mission.DurationSeconds = durationSeconds(board.Mission.StartedAt, board.Mission.CompletedAt)
			}
			if opts.Verdict != "" {
				board.Mission.FinalReview = opts.Verdict
			}
		}
		result = &ArchiveResult{Archived: selected, ArchiveDir: dir, Completed: opts.Complete}

		summary := ""
		if opts.Complete {
			summary = archive.Summary(board, items, e.now())
		}
		t.Project(func() error {
			for _, item := range items {
				if err := e.Store.ArchiveItem(item, dir); err != nil {
					return err
				}
			}
			if !opts.Complete {
				return nil
			}
			if err := archive.WriteSummary(dir, summary); err != nil {
				return err
			}
			return e.Events.Rotate(filepath.Join(dir, events.FileName))
		})
		t.Log(opts.Agent, "archived %d item(s) to %s", len(selected), label)
		if opts.Complete {
			t.Log(opts.Agent, "mission %q completed", board.Mission.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
