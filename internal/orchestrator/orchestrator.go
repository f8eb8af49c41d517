// Package orchestrator drives the full pipeline: analyze, decompose,
// map dependencies, plan, dispatch agents stage by stage, track state,
// aggregate, evaluate, and archive. It is the central state machine of
// the engine.
//
// Concurrency within a stage uses golang.org/x/sync/errgroup with
// SetLimit: an errgroup.WithContext fan-out over mutex-protected
// shared result accumulation, with per-item errors swallowed into a
// report rather than aborting the group.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/forge-orchestrator/internal/aggregate"
	"github.com/nugget/forge-orchestrator/internal/agentrun"
	"github.com/nugget/forge-orchestrator/internal/analyzer"
	"github.com/nugget/forge-orchestrator/internal/decompose"
	"github.com/nugget/forge-orchestrator/internal/delegation"
	"github.com/nugget/forge-orchestrator/internal/depgraph"
	"github.com/nugget/forge-orchestrator/internal/evaluate"
	"github.com/nugget/forge-orchestrator/internal/events"
	"github.com/nugget/forge-orchestrator/internal/forgeerr"
	"github.com/nugget/forge-orchestrator/internal/inference"
	"github.com/nugget/forge-orchestrator/internal/longmem"
	"github.com/nugget/forge-orchestrator/internal/persona"
	"github.com/nugget/forge-orchestrator/internal/planner"
	"github.com/nugget/forge-orchestrator/internal/shortmem"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
	"github.com/nugget/forge-orchestrator/internal/tracker"
)

// DefaultWorkerPoolSize bounds concurrent subtask dispatch within a
// stage.
const DefaultWorkerPoolSize = 4

// DefaultAggregateFormat is the aggregate output format used when the
// caller does not specify one.
const DefaultAggregateFormat = aggregate.FormatDetailed

// DefaultWorkflowTimeout bounds how long a single Execute call may run
// before the workflow is cancelled, preserving whatever subtasks
// completed by then.
const DefaultWorkflowTimeout = 600 * time.Second

// Environment bundles every dependency the orchestrator needs into an
// explicit struct the caller constructs once and passes in, rather
// than relying on package-level config/logging globals.
type Environment struct {
	Inference       inference.Client
	Personas        *persona.Store
	Tracker         *tracker.Tracker
	Bus             *events.Bus
	LongTerm        *longmem.Store
	ShortTerm       *shortmem.Memory
	Delegation      *delegation.Optimizer
	Logger          *slog.Logger
	WorkerPoolSize  int
	AggregateFormat aggregate.Format
	WorkflowTimeout time.Duration
	PersonalityText string // resolved personality preamble, injected into every agent prompt
}

func (e *Environment) workerPoolSize() int {
	if e.WorkerPoolSize <= 0 {
		return DefaultWorkerPoolSize
	}
	return e.WorkerPoolSize
}

func (e *Environment) aggregateFormat() aggregate.Format {
	if e.AggregateFormat == "" {
		return DefaultAggregateFormat
	}
	return e.AggregateFormat
}

func (e *Environment) workflowTimeout() time.Duration {
	if e.WorkflowTimeout <= 0 {
		return DefaultWorkflowTimeout
	}
	return e.WorkflowTimeout
}

func (e *Environment) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Orchestrator is the top-level state machine. It holds no mutable
// state of its own beyond what Environment exposes — every piece of
// durable state lives in Tracker, Personas, or LongTerm.
type Orchestrator struct {
	env Environment
}

// New creates an Orchestrator over env. Personas, Tracker and LongTerm
// must be non-nil; Bus, Delegation, ShortTerm and Logger may be nil.
// Inference may be nil only in tests that never reach decomposition
// refinement or agent dispatch.
func New(env Environment) *Orchestrator {
	return &Orchestrator{env: env}
}

// Execute runs a task end to end and returns its WorkflowRecord.
func (o *Orchestrator) Execute(ctx context.Context, taskID, taskText string, taskContext map[string]string) *taskmodel.WorkflowRecord {
	// Idempotence: a call with a task id that already has a terminal
	// record returns it without re-running.
	if rec, ok := o.env.LongTerm.Lookup(taskID); ok {
		return &rec
	}

	task := taskmodel.Task{ID: taskID, Text: taskText, Context: taskContext, SubmittedAt: time.Now()}

	deadlineCtx, cancel := context.WithTimeout(ctx, o.env.workflowTimeout())
	defer cancel()

	rec, err := o.run(deadlineCtx, task)
	if err != nil {
		rec = cancelledRecord(task, ctxErr(deadlineCtx, err))
	}

	o.env.Bus.Publish(events.Event{
		Source: events.SourceOrchestrator,
		Kind:   events.KindTaskFinished,
		Data:   map[string]any{"task_id": task.ID, "status": rec.Status},
	})

	_ = o.env.LongTerm.Store(*rec)
	return rec
}

// ctxErr maps ctx's own cancellation/deadline into the forgeerr
// taxonomy so cancelledRecord reports status=cancelled rather than
// status=partial for a deadline or an operator-cancelled request. When
// ctx is still live it returns err unchanged.
func ctxErr(ctx context.Context, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return forgeerr.WorkflowTimeout("workflow exceeded its timeout")
	case context.Canceled:
		return forgeerr.Cancelled("workflow was cancelled")
	default:
		return err
	}
}

func cancelledRecord(task taskmodel.Task, err error) *taskmodel.WorkflowRecord {
	now := time.Now()
	status := taskmodel.WorkflowStatusCancelled
	msg := err.Error()
	if fe, ok := forgeerr.As(err); ok && fe.Code() != forgeerr.CodeCancelled && fe.Code() != forgeerr.CodeWorkflowTimeout {
		status = taskmodel.WorkflowStatusPartial
	}
	return &taskmodel.WorkflowRecord{
		TaskID:           task.ID,
		Task:             task,
		Status:           status,
		AggregatedOutput: fmt.Sprintf("workflow did not complete: %s", msg),
		StartedAt:        now,
		FinishedAt:       now,
	}
}

// run executes the pipeline end to end and never returns a non-nil
// error for a subtask-level failure — only for infrastructure-level
// failures: decomposition/cycle errors and tracker create failures,
// which abort before dispatch, and an aggregation error after it.
func (o *Orchestrator) run(ctx context.Context, task taskmodel.Task) (*taskmodel.WorkflowRecord, error) {
	startedAt := time.Now()
	log := o.env.logger().With("task_id", task.ID)

	breakdown := analyzer.Analyze(task.Text, task.Context)
	task.Complexity = breakdown.Complexity
	task.Domains = breakdown.Domains

	resolver := func(domain taskmodel.Domain, roleHint string) string {
		if o.env.Delegation == nil {
			return ""
		}
		return o.env.Delegation.Recommend(domain, roleHint)
	}
	subtasks, err := decompose.Decompose(ctx, task, breakdown, o.env.Inference, resolver)
	if err != nil {
		return nil, err
	}

	graph, err := depgraph.Build(subtasks)
	if err != nil {
		return nil, err
	}

	weight := func(id string) float64 {
		if o.env.Delegation == nil {
			return 1
		}
		st := findSubtask(subtasks, id)
		if st == nil || st.SuggestedPersonaID == "" {
			return 1
		}
		if d, ok := o.env.Delegation.MeanDuration(st.SuggestedPersonaID, st.Domain); ok {
			return d.Seconds()
		}
		return 1
	}
	plan := planner.Plan(graph, weight)

	if err := o.env.Tracker.Create(ctx, task, plan, subtasks); err != nil {
		return nil, err
	}

	subtasks = o.dispatchStages(ctx, task, plan, subtasks, log)

	final, _ := o.env.Tracker.Get(task.ID)
	if final != nil {
		subtasks = final.Subtasks
	}

	scores := o.scoreSubtasks(subtasks)
	output, err := aggregate.Aggregate(plan, subtasks, o.env.aggregateFormat())
	if err != nil {
		return nil, err
	}

	status := taskmodel.WorkflowStatusOK
	for _, st := range subtasks {
		if st.State == taskmodel.StateFailed {
			status = taskmodel.WorkflowStatusPartial
			break
		}
	}
	// A deadline or cancellation reached mid-dispatch takes priority over
	// the subtask-derived status: the caller asked to stop, not to fail.
	// Subtasks that finished before then are still reported as completed.
	if ctx.Err() != nil {
		status = taskmodel.WorkflowStatusCancelled
	}

	finishedAt := time.Now()
	return &taskmodel.WorkflowRecord{
		TaskID:           task.ID,
		Task:             task,
		Plan:             plan,
		Subtasks:         subtasks,
		AggregatedOutput: output,
		Status:           status,
		Scores:           scores,
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
		WallClock:        finishedAt.Sub(startedAt),
	}, nil
}

func findSubtask(subtasks []taskmodel.Subtask, id string) *taskmodel.Subtask {
	for i := range subtasks {
		if subtasks[i].ID == id {
			return &subtasks[i]
		}
	}
	return nil
}

// dispatchStages walks the plan stage by stage: for each stage, obtain
// personas, construct agents, dispatch concurrently, record each
// subtask's completed/failed state in the tracker once the whole stage
// has returned, and mark dependents of any failed subtask
// as failed with reason "upstream failure" without running them.
func (o *Orchestrator) dispatchStages(ctx context.Context, task taskmodel.Task, plan taskmodel.Plan, subtasks []taskmodel.Subtask, log *slog.Logger) []taskmodel.Subtask {
	byID := make(map[string]*taskmodel.Subtask, len(subtasks))
	for i := range subtasks {
		byID[subtasks[i].ID] = &subtasks[i]
	}
	failed := make(map[string]bool)

	for _, stage := range plan.Stages {
		runnable, skipped := partitionStage(stage.SubtaskIDs, byID, failed)
		for _, id := range skipped {
			o.markUpstreamFailure(ctx, task.ID, byID[id])
			failed[id] = true
		}
		if len(runnable) == 0 {
			continue
		}

		results := o.dispatchStageSubtasks(ctx, task, runnable, byID, log)
		for id, out := range results {
			st := byID[id]
			if out.err != nil {
				o.env.Tracker.Transition(ctx, task.ID, id, taskmodel.StateFailed, out.err.Error())
				st.State = taskmodel.StateFailed
				st.FailureReason = out.err.Error()
				failed[id] = true
				continue
			}
			o.env.Tracker.Transition(ctx, task.ID, id, taskmodel.StateCompleted, out.text)
			st.State = taskmodel.StateCompleted
			st.Output = out.text
			if o.env.Delegation != nil && st.SuggestedPersonaID != "" {
				score := evaluate.Evaluate(*st)
				o.env.Delegation.RecordOutcome(st.SuggestedPersonaID, st.Domain, score.Overall, out.duration)
			}
		}
	}

	out := make([]taskmodel.Subtask, len(subtasks))
	for i, st := range subtasks {
		out[i] = *byID[st.ID]
	}
	return out
}

func partitionStage(ids []string, byID map[string]*taskmodel.Subtask, failed map[string]bool) (runnable, skipped []string) {
	for _, id := range ids {
		st := byID[id]
		blocked := false
		for _, dep := range st.Prerequisites {
			if failed[dep] {
				blocked = true
				break
			}
		}
		if blocked {
			skipped = append(skipped, id)
		} else {
			runnable = append(runnable, id)
		}
	}
	return runnable, skipped
}

func (o *Orchestrator) markUpstreamFailure(ctx context.Context, taskID string, st *taskmodel.Subtask) {
	st.State = taskmodel.StateFailed
	st.FailureReason = "upstream failure"
	o.env.Tracker.Transition(ctx, taskID, st.ID, taskmodel.StateAssigned, "")
	o.env.Tracker.Transition(ctx, taskID, st.ID, taskmodel.StateInProgress, "")
	o.env.Tracker.Transition(ctx, taskID, st.ID, taskmodel.StateFailed, "upstream failure")
}

type dispatchResult struct {
	text     string
	err      error
	duration time.Duration
}

// dispatchStageSubtasks runs every runnable subtask in a stage
// concurrently, bounded by the configured worker pool size.
func (o *Orchestrator) dispatchStageSubtasks(ctx context.Context, task taskmodel.Task, runnable []string, byID map[string]*taskmodel.Subtask, log *slog.Logger) map[string]dispatchResult {
	results := make(map[string]dispatchResult, len(runnable))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.env.workerPoolSize())

	for _, id := range runnable {
		id := id
		st := byID[id]
		eg.Go(func() error {
			p := o.resolvePersona(egCtx, *st)
			o.env.Tracker.Transition(egCtx, task.ID, id, taskmodel.StateAssigned, p.ID)
			o.env.Tracker.Transition(egCtx, task.ID, id, taskmodel.StateInProgress, "")

			in := agentrun.Input{
				Subtask:             *st,
				Persona:             p,
				PersonalityPreamble: o.env.PersonalityText,
				ShortTermContext:    shortTermTurns(o.env.ShortTerm),
				PrerequisiteOutputs: prerequisiteOutputs(*st, byID),
			}
			out, err := agentrun.Run(egCtx, o.env.Inference, in, log)

			r := dispatchResult{err: err}
			if out != nil {
				r.text = out.Text
				r.duration = out.Duration
			}
			mu.Lock()
			results[id] = r
			mu.Unlock()
			return nil // per-subtask errors are recorded, not propagated to the group
		})
	}
	_ = eg.Wait()
	return results
}

func prerequisiteOutputs(st taskmodel.Subtask, byID map[string]*taskmodel.Subtask) map[string]string {
	if len(st.Prerequisites) == 0 {
		return nil
	}
	out := make(map[string]string, len(st.Prerequisites))
	for _, dep := range st.Prerequisites {
		if d := byID[dep]; d != nil {
			out[dep] = d.Output
		}
	}
	return out
}

func shortTermTurns(m *shortmem.Memory) []taskmodel.ConversationTurn {
	if m == nil {
		return nil
	}
	return m.AsMessages()
}

// resolvePersona matches a subtask's requirements against the persona
// store (after trying the subtask's suggested persona id); if no
// >=0.7-similarity match exists, it generates a new one with
// generatePersona.
func (o *Orchestrator) resolvePersona(ctx context.Context, st taskmodel.Subtask) persona.Persona {
	requirements := persona.DNA{RoleSeniority: "specialist", Domain: string(st.Domain)}
	if st.SuggestedPersonaID != "" {
		if p, ok := o.env.Personas.Get(st.SuggestedPersonaID); ok {
			return p
		}
	}
	if match, ok := o.env.Personas.Match(requirements); ok {
		return match.Persona
	}
	return o.generatePersona(ctx, st, requirements)
}

// generatePersona asks the inference client for a role-and-seniority
// phrase to put into the requirements DNA (keeping the requirements
// unchanged if that call fails) and persists the result. If the store
// insert fails it falls back to an in-memory persona scoped to this
// workflow only, rather than propagating a PersonaStoreError and
// aborting the subtask.
func (o *Orchestrator) generatePersona(ctx context.Context, st taskmodel.Subtask, requirements persona.DNA) persona.Persona {
	dna := requirements
	if o.env.Inference != nil {
		if refined := refineDNAViaInference(ctx, o.env.Inference, st, requirements); refined != nil {
			dna = *refined
		}
	}

	id, err := o.env.Personas.Insert(dna)
	if err != nil {
		o.env.logger().Warn("persona store insert failed, using in-memory fallback",
			"subtask_id", st.ID, "error", err)
		return persona.Persona{ID: "ephemeral-" + st.ID, DNA: dna, CreatedAt: time.Now()}
	}
	o.env.Bus.Publish(events.Event{
		Source: events.SourcePersona,
		Kind:   events.KindPersonaCreated,
		Data:   map[string]any{"persona_id": id, "domain": string(st.Domain)},
	})
	p, _ := o.env.Personas.Get(id)
	return p
}

func refineDNAViaInference(ctx context.Context, client inference.Client, st taskmodel.Subtask, base persona.DNA) *persona.DNA {
	resp, err := client.Chat(ctx, inference.ClassAnalysis, []inference.Message{
		{Role: "system", Content: "Describe, in one short phrase, the ideal specialist role-and-seniority for the following task. Reply with the phrase only."},
		{Role: "user", Content: st.Description},
	}, inference.Options{})
	if err != nil || resp.Message.Content == "" {
		return nil
	}
	refined := base
	refined.RoleSeniority = resp.Message.Content
	return &refined
}

func (o *Orchestrator) scoreSubtasks(subtasks []taskmodel.Subtask) []taskmodel.SubtaskScore {
	scores := make([]taskmodel.SubtaskScore, 0, len(subtasks))
	for _, st := range subtasks {
		if st.State == taskmodel.StateCompleted || st.State == taskmodel.StateFailed {
			scores = append(scores, evaluate.Evaluate(st))
		}
	}
	return scores
}
