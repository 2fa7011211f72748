package domain

import (
	"fmt"
	"strings"
)

// Stage is one discrete position in the fixed pipeline a work item passes
// through. Stages are validated once at the boundary via ParseStage; the rest
// of the code trusts the value.
type Stage string

const (
	StageIntake  Stage = "intake"
	StageReady   Stage = "ready"
	StageInTest  Stage = "in-test"
	StageInBuild Stage = "in-build"
	StageReview  Stage = "review"
	StageVerify  Stage = "verify"
	StageDone    Stage = "done"
	StageBlocked Stage = "blocked"
)

// Stages lists every pipeline stage in presentation order.
var Stages = []Stage{
	StageIntake,
	StageReady,
	StageInTest,
	StageInBuild,
	StageReview,
	StageVerify,
	StageDone,
	StageBlocked,
}

// AgentBoundStages require an assigned agent while an item sits in them.
var AgentBoundStages = []Stage{StageInTest, StageInBuild, StageReview, StageVerify}

// ClaimableStages are the stages in which an agent may claim an item.
var ClaimableStages = []Stage{StageReady, StageInTest, StageInBuild, StageReview, StageVerify}

// ParseStage validates a raw stage label.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Stages {
		if s == known {
			return s, nil
		}
	}
	return "", &Error{
		Code:    CodeInvalidStage,
		Message: fmt.Sprintf("unknown stage %q", raw),
		Details: map[string]any{"stages": StageNames()},
	}
}

// StageNames returns all stage labels as plain strings.
func StageNames() []string {
	names := make([]string, len(Stages))
	for i, s := range Stages {
		names[i] = string(s)
	}
	return names
}

// IsAgentBound reports whether the stage requires an assigned agent.
func (s Stage) IsAgentBound() bool {
	for _, b := range AgentBoundStages {
		if s == b {
			return true
		}
	}
	return false
}

// IsClaimable reports whether items in the stage may be claimed.
func (s Stage) IsClaimable() bool {
	for _, c := range ClaimableStages {
		if s == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the stage has no outgoing transitions.
func (s Stage) IsTerminal() bool { return s == StageDone }

// Rejection records one review rejection of an item.
type Rejection struct {
	Reason string `json:"reason" yaml:"reason"`
	Agent  string `json:"agent" yaml:"agent"`
	At     string `json:"at" yaml:"at"`
}

// WorkLogEntry is a completion record appended by a worker, never removed.
type WorkLogEntry struct {
	Agent string `json:"agent" yaml:"agent"`
	Note  string `json:"note" yaml:"note"`
	At    string `json:"at" yaml:"at"`
}

// WorkItem is a single unit of work on the board. Stage is derived from the
// item file's physical location and must match the board's phase lists.
type WorkItem struct {
	ID               string            `json:"id" yaml:"id"`
	Title            string            `json:"title" yaml:"title"`
	Type             string            `json:"type" yaml:"type"`
	Status           string            `json:"status" yaml:"status"`
	Stage            Stage             `json:"stage" yaml:"stage"`
	Dependencies     []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	ParallelGroup    string            `json:"parallel_group,omitempty" yaml:"parallel_group,omitempty"`
	Outputs          map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	RejectionCount   int               `json:"rejection_count" yaml:"rejection_count"`
	RejectionHistory []Rejection       `json:"rejection_history,omitempty" yaml:"rejection_history,omitempty"`
	AssignedAgent    string            `json:"assigned_agent,omitempty" yaml:"assigned_agent,omitempty"`
	WorkLog          []WorkLogEntry    `json:"work_log,omitempty" yaml:"work_log,omitempty"`
	CreatedAt        string            `json:"created_at" yaml:"created_at"`
	UpdatedAt        string            `json:"updated_at" yaml:"updated_at"`
}

// Assignment records a single agent working a single item.
type Assignment struct {
	Agent     string `json:"agent"`
	ClaimedAt string `json:"claimed_at" format:"date-time"`
	Token     string `json:"token,omitempty"`
}

// AgentInfo tracks an agent's status on the board.
type AgentInfo struct {
	Status      string `json:"status" enum:"idle,active"`
	CurrentItem string `json:"current_item,omitempty"`
}

// HistoryEntry records one stay of an item in a stage.
type HistoryEntry struct {
	Stage           Stage  `json:"stage"`
	Agent           string `json:"agent,omitempty"`
	EnteredAt       string `json:"entered_at" format:"date-time"`
	LeftAt          string `json:"left_at,omitempty" format:"date-time"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
}

// Stats aggregates board counters. Total always equals the sum of the phase
// list lengths; Completed counts lifetime completions including archived items.
type Stats struct {
	Total      int `json:"total_items"`
	Completed  int `json:"completed"`
	InFlight   int `json:"in_flight"`
	Blocked    int `json:"blocked"`
	Rejections int `json:"rejections"`
}

// Mission holds per-mission metadata on the board document.
type Mission struct {
	Name            string `json:"name"`
	Status          string `json:"status" enum:"active,review-due,completed"`
	StartedAt       string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt     string `json:"completed_at,omitempty" format:"date-time"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	FinalReview     string `json:"final_review,omitempty"`
	PostCheck       string `json:"post_check,omitempty"`
}

// Board is the durable store's root document. A nil WIP limit means
// unlimited; consumers must not read absence as zero.
type Board struct {
	Mission         Mission                   `json:"mission"`
	Phases          map[Stage][]string        `json:"phases"`
	Assignments     map[string]Assignment     `json:"assignments"`
	Agents          map[string]AgentInfo      `json:"agents"`
	History         map[string][]HistoryEntry `json:"history"`
	Stats           Stats                     `json:"stats"`
	DependencyGraph map[string][]string       `json:"dependency_graph"`
	ParallelGroups  map[string][]string       `json:"parallel_groups"`
	WIPLimits       map[Stage]*int            `json:"wip_limits"`
}

// NewBoard returns an empty board for a mission.
func NewBoard(missionName string) *Board {
	phases := make(map[Stage][]string, len(Stages))
	for _, s := range Stages {
		phases[s] = []string{}
	}
	return &Board{
		Mission:         Mission{Name: missionName, Status: "active"},
		Phases:          phases,
		Assignments:     map[string]Assignment{},
		Agents:          map[string]AgentInfo{},
		History:         map[string][]HistoryEntry{},
		DependencyGraph: map[string][]string{},
		ParallelGroups:  map[string][]string{},
		WIPLimits:       map[Stage]*int{},
	}
}

// Normalize fills nil maps after decoding an older or hand-edited document.
func (b *Board) Normalize() {
	if b.Phases == nil {
		b.Phases = map[Stage][]string{}
	}
	for _, s := range Stages {
		if b.Phases[s] == nil {
			b.Phases[s] = []string{}
		}
	}
	if b.Assignments == nil {
		b.Assignments = map[string]Assignment{}
	}
	if b.Agents == nil {
		b.Agents = map[string]AgentInfo{}
	}
	if b.History == nil {
		b.History = map[string][]HistoryEntry{}
	}
	if b.DependencyGraph == nil {
		b.DependencyGraph = map[string][]string{}
	}
	if b.ParallelGroups == nil {
		b.ParallelGroups = map[string][]string{}
	}
	if b.WIPLimits == nil {
		b.WIPLimits = map[Stage]*int{}
	}
}

// StageOf returns the stage whose phase list contains id.
func (b *Board) StageOf(id string) (Stage, bool) {
	for stage, ids := range b.Phases {
		for _, cur := range ids {
			if cur == id {
				return stage, true
			}
		}
	}
	return "", false
}

// ItemIDs returns every item ID on the board, stage presentation order first,
// arrival order within a stage.
func (b *Board) ItemIDs() []string {
	var ids []string
	for _, stage := range Stages {
		ids = append(ids, b.Phases[stage]...)
	}
	return ids
}

// RemoveFromPhase drops id from the given stage list.
func (b *Board) RemoveFromPhase(stage Stage, id string) {
	ids := b.Phases[stage]
	for i, cur := range ids {
		if cur == id {
			b.Phases[stage] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// Recount refreshes the derived stats counters from the phase lists.
func (b *Board) Recount() {
	total := 0
	for _, ids := range b.Phases {
		total += len(ids)
	}
	inFlight := 0
	for _, stage := range AgentBoundStages {
		inFlight += len(b.Phases[stage])
	}
	b.Stats.Total = total
	b.Stats.InFlight = inFlight
	b.Stats.Blocked = len(b.Phases[StageBlocked])
}
