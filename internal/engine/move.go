package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"crewboard/internal/domain"
	"crewboard/internal/graph"
)

// MoveOptions are parameters for a stage transition.
type MoveOptions struct {
	ID    string
	To    domain.Stage
	Agent string
	Token string
}

// MoveResult reports a completed transition.
type MoveResult struct {
	Item           *domain.WorkItem `json:"item"`
	From           domain.Stage     `json:"from"`
	To             domain.Stage     `json:"to"`
	Token          string           `json:"token,omitempty"`
	FinalReviewDue bool             `json:"final_review_due,omitempty"`
}

// Move transitions an item to a new stage. Checks run in a fixed order:
// existence, transition legality, WIP capacity, dependency satisfaction
// (forward moves only), agent presence for agent-bound targets, then claim
// ownership: a claimed item only enters an agent-bound stage moved by its
// holder, who keeps the claim token. Any prior assignment is dropped before
// the new one is recorded, so no two agent records point at one item. The
// document is updated first under the lock; the item file relocation is a
// best-effort projection reconciled on the next read.
func (e Engine) Move(ctx context.Context, opts MoveOptions) (*MoveResult, error) {
	var result *MoveResult
	err := e.mutate(ctx, func(t *txn) error {
		board := t.Board
		from, ok := board.StageOf(opts.ID)
		if !ok {
			return domain.Errf(domain.CodeItemNotFound, opts.ID, "item %s not found", opts.ID)
		}
		if check := ValidateTransition(from, opts.To); !check.Legal {
			return domain.Errf(domain.CodeInvalidTransition, opts.ID,
				"cannot move %s from %s to %s", opts.ID, from, opts.To).
				With("from", from).With("to", opts.To).With("allowed_next", check.AllowedNext)
		}
		if check := CheckWIP(board, opts.To); !check.Allowed {
			return domain.Errf(domain.CodeWIPLimitExceeded, opts.ID,
				"stage %s is at its WIP limit (%d/%d)", opts.To, check.Current, *check.Limit).
				With("stage", opts.To).With("current", check.Current).With("limit", *check.Limit)
		}
		forward := opts.To != domain.StageBlocked && opts.To != domain.StageReady
		if forward {
			if pending := graph.Pending(board, opts.ID); len(pending) > 0 {
				return domain.Errf(domain.CodeDependencyBlocked, opts.ID,
					"item %s has unfinished dependencies", opts.ID).With("pending", pending)
			}
		}
		if opts.To.IsAgentBound() && opts.Agent == "" {
			return domain.Errf(domain.CodeAgentRequired, opts.ID,
				"moving to %s requires an agent", opts.To)
		}
		existing, held := board.Assignments[opts.ID]
		if held && opts.To.IsAgentBound() && existing.Agent != opts.Agent {
			return domain.Errf(domain.CodeAlreadyClaimed, opts.ID,
				"item %s is already claimed by %s", opts.ID, existing.Agent).
				With("holder", existing.Agent)
		}

		item, _, err := e.Store.ReadItem(opts.ID, from)
		if err != nil {
			return err
		}
		now := e.nowString()

		board.RemoveFromPhase(from, opts.ID)
		board.Phases[opts.To] = append(board.Phases[opts.To], opts.ID)
		e.closeHistory(board, opts.ID, now)

		if held {
			e.dropAssignment(board, opts.ID)
		}
		token := opts.Token
		entry := domain.HistoryEntry{Stage: opts.To, EnteredAt: now}
		if opts.To.IsAgentBound() {
			if token == "" && held {
				// The holder moving their own item keeps the claim token.
				token = existing.Token
			}
			if token == "" {
				token = uuid.New().String()
			}
			board.Assignments[opts.ID] = domain.Assignment{Agent: opts.Agent, ClaimedAt: now, Token: token}
			board.Agents[opts.Agent] = domain.AgentInfo{Status: "active", CurrentItem: opts.ID}
			entry.Agent = opts.Agent
			item.AssignedAgent = opts.Agent
			if board.Mission.StartedAt == "" {
				board.Mission.StartedAt = now
			}
		} else {
			item.AssignedAgent = ""
			token = ""
		}
		board.History[opts.ID] = append(board.History[opts.ID], entry)

		item.Stage = opts.To
		item.UpdatedAt = now
		switch opts.To {
		case domain.StageDone:
			item.Status = "done"
			board.Stats.Completed++
		case domain.StageBlocked:
			item.Status = "blocked"
		case domain.StageReady:
			item.Status = "pending"
		default:
			item.Status = "in-progress"
		}

		result = &MoveResult{Item: item, From: from, To: opts.To, Token: token}
		if opts.To == domain.StageDone && e.allItemsTerminal(board) {
			board.Mission.Status = "review-due"
			board.Mission.CompletedAt = now
			board.Mission.DurationSeconds = durationSeconds(board.Mission.StartedAt, now)
			result.FinalReviewDue = true
			t.Alert(opts.Agent, "all items done; mission %q awaits final review", board.Mission.Name)
		}

		t.Project(func() error { return e.Store.MoveItem(item, from, opts.To) })
		t.Log(opts.Agent, "moved %s from %s to %s", opts.ID, from, opts.To)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// closeHistory stamps LeftAt and duration on the item's open history entry.
func (e Engine) closeHistory(board *domain.Board, id, now string) {
	entries := board.History[id]
	if len(entries) == 0 {
		return
	}
	last := &entries[len(entries)-1]
	if last.LeftAt == "" {
		last.LeftAt = now
		last.DurationSeconds = durationSeconds(last.EnteredAt, now)
	}
}

// dropAssignment removes an item's assignment and idles the agent unless it
// still holds another claim.
func (e Engine) dropAssignment(board *domain.Board, id string) {
	assignment, ok := board.Assignments[id]
	if !ok {
		return
	}
	delete(board.Assignments, id)
	for otherID, other := range board.Assignments {
		if other.Agent == assignment.Agent {
			board.Agents[assignment.Agent] = domain.AgentInfo{Status: "active", CurrentItem: otherID}
			return
		}
	}
	board.Agents[assignment.Agent] = domain.AgentInfo{Status: "idle"}
}

func (e Engine) allItemsTerminal(board *domain.Board) bool {
	for _, stage := range domain.Stages {
		if stage == domain.StageDone {
			continue
		}
		if len(board.Phases[stage]) > 0 {
			return false
		}
	}
	return len(board.Phases[domain.StageDone]) > 0
}

func durationSeconds(from, to string) int64 {
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return 0
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return 0
	}
	d := int64(end.Sub(start).Seconds())
	if d < 0 {
		return 0
	}
	return d
}
