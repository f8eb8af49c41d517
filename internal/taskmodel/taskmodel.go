// Package taskmodel defines the immutable task/subtask data model shared
// by every component of the orchestration engine: the Task a caller
// submits, the Subtasks decomposition produces, the state machine that
// governs a subtask's lifecycle, and the Plan an execution planner
// emits over their dependency graph.
package taskmodel

import "time"

// Complexity classifies a task's difficulty. Ordering matters: values
// increase with difficulty so callers can compare with <, >.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityMedium
	ComplexityComplex
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityMedium:
		return "medium"
	case ComplexityComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// Domain is a tag drawn from a closed vocabulary of subtask domains.
type Domain string

const (
	DomainDevelopment Domain = "development"
	DomainDevOps      Domain = "devops"
	DomainData        Domain = "data"
	DomainResearch    Domain = "research"
	DomainDesign      Domain = "design"
	DomainTesting     Domain = "testing"
	DomainSecurity    Domain = "security"
	DomainOther       Domain = "other"
)

// Task is a unit of work submitted by the caller. Immutable once created.
type Task struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Context     map[string]string `json:"context,omitempty"`
	Complexity  Complexity        `json:"complexity"`
	Domains     []Domain          `json:"domains"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// State is a subtask's position in the lifecycle state machine:
//
//	pending -> assigned -> in_progress -> (completed | failed)
type State string

const (
	StatePending    State = "pending"
	StateAssigned   State = "assigned"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// validTransitions enumerates every legal State->State edge. Any edge
// not listed here is illegal and transition(...) callers must reject it.
var validTransitions = map[State][]State{
	StatePending:    {StateAssigned},
	StateAssigned:   {StateInProgress},
	StateInProgress: {StateCompleted, StateFailed},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// single edge of the state machine.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state has no outgoing transitions.
func Terminal(s State) bool {
	return s == StateCompleted || s == StateFailed
}

// Subtask is a leaf unit of work produced by decomposition.
type Subtask struct {
	ID                 string     `json:"id"`
	ParentTaskID       string     `json:"parent_task_id"`
	Description        string     `json:"description"`
	Domain             Domain     `json:"domain"`
	Prerequisites      []string   `json:"prerequisites,omitempty"`
	SuggestedPersonaID string     `json:"suggested_persona_id,omitempty"`
	State              State      `json:"state"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	AgentID            string     `json:"agent_id,omitempty"`
	Output             string     `json:"output,omitempty"`
	FailureReason      string     `json:"failure_reason,omitempty"`
}

// Stage is a maximal set of subtask ids with no inter-dependencies;
// members of a stage may run concurrently.
type Stage struct {
	SubtaskIDs []string `json:"subtask_ids"`
}

// Plan is the output of the execution planner: an ordered sequence of
// stages plus the critical path.
type Plan struct {
	Stages             []Stage  `json:"stages"`
	CriticalPathIDs    []string `json:"critical_path_ids"`
	CriticalPathLength int      `json:"critical_path_length"`
	CanParallelize     bool     `json:"can_parallelize"`
}

// WorkflowStatus describes the terminal outcome of a top-level task.
type WorkflowStatus string

const (
	WorkflowStatusOK        WorkflowStatus = "ok"
	WorkflowStatusPartial   WorkflowStatus = "partial"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// SubtaskScore holds the outcome-evaluator's score for one finished subtask.
type SubtaskScore struct {
	SubtaskID    string  `json:"subtask_id"`
	Quality      float64 `json:"quality"`
	Completeness float64 `json:"completeness"`
	Success      float64 `json:"success"`
	Overall      float64 `json:"overall"`
}

// WorkflowRecord is the persisted outcome of one top-level task.
type WorkflowRecord struct {
	TaskID          string         `json:"task_id"`
	Task            Task           `json:"task"`
	Plan            Plan           `json:"plan"`
	Subtasks        []Subtask      `json:"subtasks"`
	AggregatedOutput string        `json:"aggregated_output"`
	Status          WorkflowStatus `json:"status"`
	Scores          []SubtaskScore `json:"scores,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	WallClock       time.Duration  `json:"wall_clock_ns"`
}

// ConversationTurn is one entry in the short-term memory FIFO.
type ConversationTurn struct {
	Role      string    `json:"role"` // user | assistant
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
