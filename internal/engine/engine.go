// Package engine orchestrates every board mutation: item lifecycle, stage
// transitions, claims, rejections, and mission workflows. Each mutating
// operation acquires the board lock, re-reads the document, applies the
// change, writes it back atomically, and appends to the activity feed before
// the lock is released. Read-only queries take no lock and return a
// best-effort snapshot.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"crewboard/internal/config"
	"crewboard/internal/domain"
	"crewboard/internal/events"
	"crewboard/internal/graph"
	"crewboard/internal/lock"
	"crewboard/internal/store"
)

type Engine struct {
	Store  *store.Store
	Lock   *lock.Manager
	Events *events.Logger
	Config *config.Config
	Now    func() time.Time
}

// New wires an Engine over a board directory.
func New(st *store.Store, cfg *config.Config) Engine {
	return Engine{
		Store:  st,
		Lock:   lock.New(st.Dir, cfg.LockTimeout(), cfg.LockInitialDelay()),
		Events: events.New(st.ActivityLogPath()),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// txn is one locked read-modify-write pass over the board. Activity lines and
// file projections queue up and run only after the document write succeeds,
// so the feed stays causally ordered with the mutation it describes and the
// document is always updated first.
type txn struct {
	Board *domain.Board
	logs  []logLine
	after []func() error
}

type logLine struct {
	alert  bool
	agent  string
	format string
	args   []any
}

func (t *txn) Log(agent, format string, args ...any) {
	t.logs = append(t.logs, logLine{agent: agent, format: format, args: args})
}

func (t *txn) Alert(agent, format string, args ...any) {
	t.logs = append(t.logs, logLine{alert: true, agent: agent, format: format, args: args})
}

// Project queues a best-effort file projection to run after the document
// write. Projection failures are logged, not fatal: the document is
// authoritative and reads reconcile against it.
func (t *txn) Project(fn func() error) {
	t.after = append(t.after, fn)
}

func (e Engine) mutate(ctx context.Context, fn func(t *txn) error) error {
	return e.Lock.WithLock(ctx, func() error {
		board, err := e.Store.LoadBoard()
		if err != nil {
			return err
		}
		t := &txn{Board: board}
		if err := fn(t); err != nil {
			return err
		}
		board.Recount()
		if err := e.Store.SaveBoard(board); err != nil {
			return err
		}
		for _, project := range t.after {
			if err := project(); err != nil {
				t.Log("system", "projection failed: %v", err)
			}
		}
		for _, line := range t.logs {
			if line.alert {
				if err := e.Events.Alert(line.agent, line.format, line.args...); err != nil {
					return domain.Errf(domain.CodeServerError, "", "append activity: %v", err)
				}
				continue
			}
			if err := e.Events.Append(line.agent, line.format, line.args...); err != nil {
				return domain.Errf(domain.CodeServerError, "", "append activity: %v", err)
			}
		}
		return nil
	})
}

// CreateOptions are parameters for creating a work item.
type CreateOptions struct {
	ID            string
	Title         string
	Type          string
	Dependencies  []string
	ParallelGroup string
	Outputs       map[string]string
	Body          string
	Agent         string
}

// ItemResult pairs an item with non-fatal diagnostics.
type ItemResult struct {
	Item     *domain.WorkItem   `json:"item"`
	Warnings []graph.MissingDep `json:"warnings,omitempty"`
}

// CreateItem adds a new item to the intake stage. Dependencies may reference
// not-yet-created IDs; those come back as warnings, never hard errors.
func (e Engine) CreateItem(ctx context.Context, opts CreateOptions) (*ItemResult, error) {
	if opts.Title == "" {
		return nil, domain.Errf(domain.CodeValidation, "", "title is required")
	}
	if opts.Type == "" {
		opts.Type = e.Config.ItemTypes[0]
	}
	if !e.Config.ItemTypeKnown(opts.Type) {
		return nil, domain.Errf(domain.CodeValidation, "", "unknown item type %q", opts.Type).
			With("types", e.Config.ItemTypes)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}

	var result *ItemResult
	err := e.mutate(ctx, func(t *txn) error {
		if _, exists := t.Board.StageOf(id); exists {
			return domain.Errf(domain.CodeDuplicateID, id, "item %s already exists", id)
		}
		now := e.nowString()
		item := &domain.WorkItem{
			ID:            id,
			Title:         opts.Title,
			Type:          opts.Type,
			Status:        "pending",
			Stage:         domain.StageIntake,
			Dependencies:  append([]string(nil), opts.Dependencies...),
			ParallelGroup: opts.ParallelGroup,
			Outputs:       opts.Outputs,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		t.Board.Phases[domain.StageIntake] = append(t.Board.Phases[domain.StageIntake], id)
		t.Board.DependencyGraph[id] = append([]string(nil), opts.Dependencies...)
		if opts.ParallelGroup != "" {
			t.Board.ParallelGroups[opts.ParallelGroup] = append(t.Board.ParallelGroups[opts.ParallelGroup], id)
		}
		t.Board.History[id] = []domain.HistoryEntry{{Stage: domain.StageIntake, EnteredAt: now}}

		warnings := graph.Build(t.Board.DependencyGraph).Missing()
		var itemWarnings []graph.MissingDep
		for _, w := range warnings {
			if w.ItemID == id {
				itemWarnings = append(itemWarnings, w)
			}
		}
		result = &ItemResult{Item: item, Warnings: itemWarnings}

		body := []byte(opts.Body)
		t.Project(func() error { return e.Store.WriteItem(item, body) })
		t.Log(opts.Agent, "created item %s (%s) in intake", id, opts.Title)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateOptions are the allowed item edits.
type UpdateOptions struct {
	ID         string
	Title      string
	Type       string
	Status     string
	AddDeps    []string
	RemoveDeps []string
	SetGroup   *string
	Outputs    map[string]string
	Strict     bool
	Agent      string
}

// UpdateItem edits item metadata. With Strict set, a dependency edit that
// introduces a cycle fails with DEPENDENCY_CYCLE; otherwise cycles and
// missing dependencies are reported as warnings.
func (e Engine) UpdateItem(ctx context.Context, opts UpdateOptions) (*ItemResult, error) {
	if opts.Type != "" && !e.Config.ItemTypeKnown(opts.Type) {
		return nil, domain.Errf(domain.CodeValidation, opts.ID, "unknown item type %q", opts.Type).
			With("types", e.Config.ItemTypes)
	}
	var result *ItemResult
	err := e.mutate(ctx, func(t *txn) error {
		stage, ok := t.Board.StageOf(opts.ID)
		if !ok {
			return domain.Errf(domain.CodeItemNotFound, opts.ID, "item %s not found", opts.ID)
		}
		item, body, err := e.Store.ReadItem(opts.ID, stage)
		if err != nil {
			return err
		}
		if opts.Title != "" {
			// The slugified file name embeds the title; reproject under it.
			t.Project(removeItemFile(e.Store, item, stage))
			item.Title = opts.Title
		}
		if opts.Type != "" {
			item.Type = opts.Type
		}
		if opts.Status != "" {
			item.Status = opts.Status
		}
		deps := item.Dependencies
		for _, dep := range opts.AddDeps {
			if !contains(deps, dep) {
				deps = append(deps, dep)
			}
		}
		for _, dep := range opts.RemoveDeps {
			deps = remove(deps, dep)
		}
		item.Dependencies = deps
		t.Board.DependencyGraph[opts.ID] = append([]string(nil), deps...)
		if opts.SetGroup != nil {
			if item.ParallelGroup != "" {
				t.Board.ParallelGroups[item.ParallelGroup] = remove(t.Board.ParallelGroups[item.ParallelGroup], opts.ID)
				if len(t.Board.ParallelGroups[item.ParallelGroup]) == 0 {
					delete(t.Board.ParallelGroups, item.ParallelGroup)
				}
			}
			item.ParallelGroup = *opts.SetGroup
			if item.ParallelGroup != "" {
				t.Board.ParallelGroups[item.ParallelGroup] = append(t.Board.ParallelGroups[item.ParallelGroup], opts.ID)
			}
		}
		for name, path := range opts.Outputs {
			if item.Outputs == nil {
				item.Outputs = map[string]string{}
			}
			item.Outputs[name] = path
		}
		item.UpdatedAt = e.nowString()

		g := graph.Build(t.Board.DependencyGraph)
		cycles := g.Cycles()
		if opts.Strict && len(cycles) > 0 {
			return domain.Errf(domain.CodeDependencyCycle, opts.ID,
				"dependency update would close a cycle").With("cycles", cycles)
		}
		result = &ItemResult{Item: item, Warnings: g.Missing()}
		t.Project(func() error { return e.Store.WriteItem(item, body) })
		t.Log(opts.Agent, "updated item %s", opts.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetItem reads an item and its markdown body without taking the lock.
func (e Engine) GetItem(id string) (*domain.WorkItem, []byte, error) {
	board, err := e.Store.LoadBoard()
	if err != nil {
		return nil, nil, err
	}
	stage, ok := board.StageOf(id)
	if !ok {
		return nil, nil, domain.Errf(domain.CodeItemNotFound, id, "item %s not found", id)
	}
	item, body, err := e.Store.ReadItem(id, stage)
	if err != nil {
		return nil, nil, err
	}
	item.Stage = stage
	return item, body, nil
}

// ListFilters narrow ListItems output.
type ListFilters struct {
	Stage domain.Stage
	Agent string
	Type  string
	Group string
}

// ListItems returns items in board presentation order, lock-free.
func (e Engine) ListItems(filters ListFilters) ([]*domain.WorkItem, error) {
	board, err := e.Store.LoadBoard()
	if err != nil {
		return nil, err
	}
	var items []*domain.WorkItem
	for _, id := range board.ItemIDs() {
		stage, _ := board.StageOf(id)
		if filters.Stage != "" && stage != filters.Stage {
			continue
		}
		item, _, err := e.Store.ReadItem(id, stage)
		if err != nil {
			// Tolerate transient staleness: the file may be mid-relocation
			// by a concurrent writer.
			continue
		}
		item.Stage = stage
		if filters.Agent != "" && board.Assignments[id].Agent != filters.Agent {
			continue
		}
		if filters.Type != "" && item.Type != filters.Type {
			continue
		}
		if filters.Group != "" && item.ParallelGroup != filters.Group {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Board returns a lock-free snapshot of the board document.
func (e Engine) Board() (*domain.Board, error) {
	return e.Store.LoadBoard()
}

// DepsReport runs the dependency engine over a lock-free snapshot.
func (e Engine) DepsReport() (*graph.Report, []string, error) {
	board, err := e.Store.LoadBoard()
	if err != nil {
		return nil, nil, err
	}
	report := graph.Build(board.DependencyGraph).Validate()
	return &report, graph.ReadySet(board), nil
}

func removeItemFile(st *store.Store, item *domain.WorkItem, stage domain.Stage) func() error {
	// Capture the current path before the title (and thus the slug) changes.
	stale := *item
	return func() error {
		path := st.ItemPath(stage, &stale)
		if err := removeIfExists(path); err != nil {
			return fmt.Errorf("remove renamed item file: %w", err)
		}
		return nil
	}
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, cur := range list {
		if cur == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, cur := range list {
		if cur != v {
			out = append(out, cur)
		}
	}
	return out
}
