// Package tracker owns subtask-state mutation for the whole
// orchestration pipeline. It enforces the state machine declared in
// internal/taskmodel and persists it to SQLite so in-flight progress
// survives a process restart.
//
// It uses a WAL-mode open string, migrates its schema on open, and
// lays out one table per concept (tasks, subtasks).
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/forge-orchestrator/internal/events"
	"github.com/nugget/forge-orchestrator/internal/forgeerr"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// Tracker enforces the subtask state machine and persists every
// transition. One entry per subtask id is locked independently so
// concurrent stage dispatch never serializes on a single global lock.
type Tracker struct {
	db  *sql.DB
	bus *events.Bus

	mu      sync.Mutex // protects locks map itself, not individual entries
	locks   map[string]*sync.Mutex
	records map[string]*taskmodel.WorkflowRecord // in-memory, by task id
}

// Open creates or opens a SQLite-backed tracker at dbPath. Passing
// ":memory:" is valid and commonly used in tests.
func Open(dbPath string, bus *events.Bus) (*Tracker, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open tracker database: %w", err)
	}
	t := &Tracker{
		db:      db,
		bus:     bus,
		locks:   make(map[string]*sync.Mutex),
		records: make(map[string]*taskmodel.WorkflowRecord),
	}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker schema: %w", err)
	}
	return t, nil
}

func (t *Tracker) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		submitted_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subtasks (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		description TEXT NOT NULL,
		domain TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		agent_id TEXT,
		output TEXT,
		failure_reason TEXT,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_subtasks_task ON subtasks(task_id);
	`
	_, err := t.db.Exec(schema)
	return err
}

func (t *Tracker) lockFor(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

// Create records the top-level task and all of its subtasks in their
// initial state.
func (t *Tracker) Create(ctx context.Context, task taskmodel.Task, plan taskmodel.Plan, subtasks []taskmodel.Subtask) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return forgeerr.StateError("begin create transaction: " + err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO tasks (id, text, submitted_at) VALUES (?, ?, ?)`,
		task.ID, task.Text, task.SubmittedAt); err != nil {
		return forgeerr.StateError("insert task: " + err.Error())
	}
	for _, st := range subtasks {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO subtasks
			(id, task_id, description, domain, state, started_at, completed_at, agent_id, output, failure_reason)
			VALUES (?, ?, ?, ?, ?, NULL, NULL, NULL, NULL, NULL)`,
			st.ID, st.ParentTaskID, st.Description, string(st.Domain), string(st.State)); err != nil {
			return forgeerr.StateError("insert subtask: " + err.Error())
		}
	}
	if err := tx.Commit(); err != nil {
		return forgeerr.StateError("commit create transaction: " + err.Error())
	}

	t.mu.Lock()
	t.records[task.ID] = &taskmodel.WorkflowRecord{
		TaskID:    task.ID,
		Task:      task,
		Plan:      plan,
		Subtasks:  subtasks,
		StartedAt: time.Now(),
	}
	t.mu.Unlock()

	t.bus.Publish(events.Event{
		Source: events.SourceOrchestrator,
		Kind:   events.KindTaskStarted,
		Data:   map[string]any{"task_id": task.ID},
	})
	return nil
}

// Transition moves a subtask to a new state, enforcing the state
// machine in taskmodel.CanTransition.
func (t *Tracker) Transition(ctx context.Context, taskID, subtaskID string, newState taskmodel.State, detail string) error {
	lock := t.lockFor(subtaskID)
	lock.Lock()
	defer lock.Unlock()

	current, err := t.currentState(ctx, subtaskID)
	if err != nil {
		return err
	}
	if !taskmodel.CanTransition(current, newState) {
		return forgeerr.StateError(fmt.Sprintf("illegal transition %s -> %s for subtask %s", current, newState, subtaskID))
	}

	now := time.Now()
	switch newState {
	case taskmodel.StateInProgress:
		if _, err := t.db.ExecContext(ctx, `UPDATE subtasks SET state=?, started_at=? WHERE id=?`, string(newState), now, subtaskID); err != nil {
			return forgeerr.StateError("update subtask state: " + err.Error())
		}
	case taskmodel.StateCompleted:
		if _, err := t.db.ExecContext(ctx, `UPDATE subtasks SET state=?, completed_at=?, output=? WHERE id=?`, string(newState), now, detail, subtaskID); err != nil {
			return forgeerr.StateError("update subtask state: " + err.Error())
		}
	case taskmodel.StateFailed:
		if _, err := t.db.ExecContext(ctx, `UPDATE subtasks SET state=?, completed_at=?, failure_reason=? WHERE id=?`, string(newState), now, detail, subtaskID); err != nil {
			return forgeerr.StateError("update subtask state: " + err.Error())
		}
	default:
		if _, err := t.db.ExecContext(ctx, `UPDATE subtasks SET state=? WHERE id=?`, string(newState), subtaskID); err != nil {
			return forgeerr.StateError("update subtask state: " + err.Error())
		}
	}

	t.updateInMemory(taskID, subtaskID, newState, now, detail)
	t.publishTransition(taskID, subtaskID, newState, detail)
	return nil
}

func (t *Tracker) updateInMemory(taskID, subtaskID string, newState taskmodel.State, now time.Time, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[taskID]
	if !ok {
		return
	}
	for i := range rec.Subtasks {
		if rec.Subtasks[i].ID != subtaskID {
			continue
		}
		rec.Subtasks[i].State = newState
		switch newState {
		case taskmodel.StateInProgress:
			rec.Subtasks[i].StartedAt = &now
		case taskmodel.StateCompleted:
			rec.Subtasks[i].CompletedAt = &now
			rec.Subtasks[i].Output = detail
		case taskmodel.StateFailed:
			rec.Subtasks[i].CompletedAt = &now
			rec.Subtasks[i].FailureReason = detail
		}
		break
	}
}

func (t *Tracker) publishTransition(taskID, subtaskID string, newState taskmodel.State, detail string) {
	var kind string
	data := map[string]any{"task_id": taskID, "subtask_id": subtaskID}
	switch newState {
	case taskmodel.StateAssigned:
		kind = events.KindSubtaskAssigned
		data["persona_id"] = detail
	case taskmodel.StateInProgress:
		kind = events.KindSubtaskStarted
	case taskmodel.StateCompleted:
		kind = events.KindSubtaskCompleted
	case taskmodel.StateFailed:
		kind = events.KindSubtaskFailed
		data["reason"] = detail
	default:
		return
	}
	t.bus.Publish(events.Event{Source: events.SourceTracker, Kind: kind, Data: data})
}

func (t *Tracker) currentState(ctx context.Context, subtaskID string) (taskmodel.State, error) {
	var state string
	err := t.db.QueryRowContext(ctx, `SELECT state FROM subtasks WHERE id=?`, subtaskID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", forgeerr.StateError("unknown subtask " + subtaskID)
	}
	if err != nil {
		return "", forgeerr.StateError("read subtask state: " + err.Error())
	}
	return taskmodel.State(state), nil
}

// Get returns the in-memory workflow record for a task id.
func (t *Tracker) Get(taskID string) (*taskmodel.WorkflowRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[taskID]
	return rec, ok
}

// OverallProgress reports (completed + failed) / total across a
// task's subtasks.
func (t *Tracker) OverallProgress(taskID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[taskID]
	if !ok || len(rec.Subtasks) == 0 {
		return 0
	}
	done := 0
	for _, st := range rec.Subtasks {
		if st.State == taskmodel.StateCompleted || st.State == taskmodel.StateFailed {
			done++
		}
	}
	return float64(done) / float64(len(rec.Subtasks))
}

// ListByState returns every subtask currently in the given state.
func (t *Tracker) ListByState(ctx context.Context, state taskmodel.State) ([]taskmodel.Subtask, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT id, task_id, description, domain, state, output, failure_reason FROM subtasks WHERE state=?`, string(state))
	if err != nil {
		return nil, forgeerr.StateError("list by state: " + err.Error())
	}
	defer rows.Close()

	var out []taskmodel.Subtask
	for rows.Next() {
		var st taskmodel.Subtask
		var domain, stateStr, output, reason sql.NullString
		if err := rows.Scan(&st.ID, &st.ParentTaskID, &st.Description, &domain, &stateStr, &output, &reason); err != nil {
			return nil, forgeerr.StateError("scan subtask row: " + err.Error())
		}
		st.Domain = taskmodel.Domain(domain.String)
		st.State = taskmodel.State(stateStr.String)
		st.Output = output.String
		st.FailureReason = reason.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (t *Tracker) Close() error {
	return t.db.Close()
}
