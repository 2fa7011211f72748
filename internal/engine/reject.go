package engine

import (
	"context"

	"crewboard/internal/domain"
)

// RejectResult reports a recorded rejection.
type RejectResult struct {
	Item      *domain.WorkItem `json:"item"`
	Escalated bool             `json:"escalated"`
	NewStage  domain.Stage     `json:"new_stage"`
}

// Reject records a review rejection: the rejection count rises by one, any
// assignment is cleared, and the item returns to ready. Reaching the
// escalation threshold instead moves the item to blocked and raises an alert
// for human intervention.
func (e Engine) Reject(ctx context.Context, id, reason, agent string) (*RejectResult, error) {
	if reason == "" {
		return nil, domain.Errf(domain.CodeValidation, id, "rejection reason is required")
	}
	if agent == "" {
		return nil, domain.Errf(domain.CodeAgentRequired, id, "reject requires an agent")
	}
	var result *RejectResult
	err := e.mutate(ctx, func(t *txn) error {
		board := t.Board
		from, ok := board.StageOf(id)
		if !ok {
			return domain.Errf(domain.CodeItemNotFound, id, "item %s not found", id)
		}
		if from == domain.StageDone {
			return domain.Errf(domain.CodeInvalidStage, id, "completed items cannot be rejected")
		}
		item, _, err := e.Store.ReadItem(id, from)
		if err != nil {
			return err
		}
		now := e.nowString()
		item.RejectionCount++
		item.RejectionHistory = append(item.RejectionHistory, domain.Rejection{
			Reason: reason,
			Agent:  agent,
			At:     now,
		})
		board.Stats.Rejections++
		e.dropAssignment(board, id)
		item.AssignedAgent = ""

		target := domain.StageReady
		escalated := item.RejectionCount >= e.Config.Rejection.EscalationThreshold
		if escalated {
			target = domain.StageBlocked
			item.Status = "blocked"
		} else {
			item.Status = "pending"
		}
		if from != target {
			board.RemoveFromPhase(from, id)
			board.Phases[target] = append(board.Phases[target], id)
			e.closeHistory(board, id, now)
			board.History[id] = append(board.History[id], domain.HistoryEntry{Stage: target, EnteredAt: now})
		}
		item.UpdatedAt = now
		item.Stage = target
		result = &RejectResult{Item: item, Escalated: escalated, NewStage: target}

		t.Project(func() error { return e.Store.MoveItem(item, from, target) })
		t.Log(agent, "rejected %s: %s (rejection %d)", id, reason, item.RejectionCount)
		if escalated {
			t.Alert(agent, "item %s escalated to blocked after %d rejections", id, item.RejectionCount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
