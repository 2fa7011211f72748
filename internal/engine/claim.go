package engine

import (
	"context"

	"github.com/google/uuid"

	"crewboard/internal/domain"
)

// Claim assigns an item to an agent. Claiming an item the same agent already
// holds is an idempotent success; a different holder yields ALREADY_CLAIMED
// naming the current holder.
func (e Engine) Claim(ctx context.Context, id, agent string) (*domain.Assignment, error) {
	if agent == "" {
		return nil, domain.Errf(domain.CodeAgentRequired, id, "claim requires an agent")
	}
	var result *domain.Assignment
	err := e.mutate(ctx, func(t *txn) error {
		board := t.Board
		stage, ok := board.StageOf(id)
		if !ok {
			return domain.Errf(domain.CodeItemNotFound, id, "item %s not found", id)
		}
		if !stage.IsClaimable() {
			return domain.Errf(domain.CodeInvalidStage, id,
				"items in %s cannot be claimed", stage).
				With("stage", stage).With("claimable", domain.ClaimableStages)
		}
		if existing, held := board.Assignments[id]; held {
			if existing.Agent == agent {
				result = &existing
				return nil
			}
			return domain.Errf(domain.CodeAlreadyClaimed, id,
				"item %s is already claimed by %s", id, existing.Agent).
				With("holder", existing.Agent)
		}
		assignment := domain.Assignment{Agent: agent, ClaimedAt: e.nowString(), Token: uuid.New().String()}
		board.Assignments[id] = assignment
		board.Agents[agent] = domain.AgentInfo{Status: "active", CurrentItem: id}
		result = &assignment

		t.Project(func() error {
			item, body, err := e.Store.ReadItem(id, stage)
			if err != nil {
				return err
			}
			item.AssignedAgent = agent
			item.Stage = stage
			return e.Store.WriteItem(item, body)
		})
		t.Log(agent, "claimed %s", id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseResult reports a release. Released is false when the item held no
// assignment; that is a success, not an error.
type ReleaseResult struct {
	Released bool   `json:"released"`
	Agent    string `json:"agent,omitempty"`
}

// Release removes an item's assignment. Releasing an unclaimed item is an
// idempotent no-op. When expectedAgent is supplied it must match the holder.
// A non-empty note is appended to the item's work log.
func (e Engine) Release(ctx context.Context, id, expectedAgent, note string) (*ReleaseResult, error) {
	var result *ReleaseResult
	err := e.mutate(ctx, func(t *txn) error {
		board := t.Board
		stage, ok := board.StageOf(id)
		if !ok {
			return domain.Errf(domain.CodeItemNotFound, id, "item %s not found", id)
		}
		assignment, held := board.Assignments[id]
		if !held {
			result = &ReleaseResult{Released: false}
			return nil
		}
		if expectedAgent != "" && expectedAgent != assignment.Agent {
			return domain.Errf(domain.CodeInvalidAgent, id,
				"item %s is held by %s, not %s", id, assignment.Agent, expectedAgent).
				With("holder", assignment.Agent)
		}
		e.dropAssignment(board, id)
		result = &ReleaseResult{Released: true, Agent: assignment.Agent}

		now := e.nowString()
		t.Project(func() error {
			item, body, err := e.Store.ReadItem(id, stage)
			if err != nil {
				return err
			}
			item.AssignedAgent = ""
			item.Stage = stage
			if note != "" {
				item.WorkLog = append(item.WorkLog, domain.WorkLogEntry{
					Agent: assignment.Agent,
					Note:  note,
					At:    now,
				})
			}
			return e.Store.WriteItem(item, body)
		})
		t.Log(assignment.Agent, "released %s", id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
