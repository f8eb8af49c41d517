// Package aggregate composes the per-subtask outputs of a finished
// plan into a single artifact. The json format mirrors the envelope
// convention used by the HTTP layer's response writers.
package aggregate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/forge-orchestrator/internal/forgeerr"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// Format selects the shape of the aggregated artifact.
type Format string

const (
	FormatSummary  Format = "summary"
	FormatDetailed Format = "detailed"
	FormatJSON     Format = "json"
)

// DefaultFormat is used when the caller does not specify one.
const DefaultFormat = FormatDetailed

// jsonEnvelope is the structured form emitted by FormatJSON.
type jsonEnvelope struct {
	Plan     taskmodel.Plan `json:"plan"`
	Subtasks []subtaskEntry `json:"subtasks"`
	Skipped  []string       `json:"skipped,omitempty"`
	Failed   []string       `json:"failed,omitempty"`
}

type subtaskEntry struct {
	ID     string          `json:"id"`
	State  taskmodel.State `json:"state"`
	Output string          `json:"output,omitempty"`
	Reason string          `json:"failure_reason,omitempty"`
}

// Aggregate combines a plan's subtask outputs into one artifact.
// Ordering of outputs follows the plan (stage order, then within-stage
// input order), never completion time.
func Aggregate(plan taskmodel.Plan, subtasks []taskmodel.Subtask, format Format) (string, error) {
	if format == "" {
		format = DefaultFormat
	}

	ordered := orderByPlan(plan, subtasks)

	switch format {
	case FormatSummary:
		return summary(ordered), nil
	case FormatDetailed:
		return detailed(ordered), nil
	case FormatJSON:
		return jsonFormat(plan, ordered)
	default:
		return "", forgeerr.ValidationError("unknown aggregate format " + string(format))
	}
}

// orderByPlan returns subtasks in plan order: stage by stage, and
// within a stage in the order the stage lists subtask ids.
func orderByPlan(plan taskmodel.Plan, subtasks []taskmodel.Subtask) []taskmodel.Subtask {
	byID := make(map[string]taskmodel.Subtask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}

	ordered := make([]taskmodel.Subtask, 0, len(subtasks))
	seen := make(map[string]bool, len(subtasks))
	for _, stage := range plan.Stages {
		for _, id := range stage.SubtaskIDs {
			if st, ok := byID[id]; ok {
				ordered = append(ordered, st)
				seen[id] = true
			}
		}
	}
	// Any subtask not referenced by the plan (shouldn't happen in
	// practice) is appended in its original order, so no output is
	// ever silently dropped.
	for _, st := range subtasks {
		if !seen[st.ID] {
			ordered = append(ordered, st)
		}
	}
	return ordered
}

func summary(ordered []taskmodel.Subtask) string {
	var b strings.Builder
	for _, st := range ordered {
		switch st.State {
		case taskmodel.StateCompleted:
			fmt.Fprintf(&b, "## %s\n%s\n\n", st.ID, firstLine(st.Output))
		case taskmodel.StateFailed:
			fmt.Fprintf(&b, "## %s (failed)\n%s\n\n", st.ID, st.FailureReason)
		default:
			fmt.Fprintf(&b, "## %s (skipped)\n\n", st.ID)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func detailed(ordered []taskmodel.Subtask) string {
	var b strings.Builder
	for _, st := range ordered {
		fmt.Fprintf(&b, "## %s [%s]\n", st.ID, st.State)
		switch st.State {
		case taskmodel.StateCompleted:
			b.WriteString(st.Output)
		case taskmodel.StateFailed:
			fmt.Fprintf(&b, "failed: %s", st.FailureReason)
		default:
			b.WriteString("skipped: upstream failure")
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func jsonFormat(plan taskmodel.Plan, ordered []taskmodel.Subtask) (string, error) {
	env := jsonEnvelope{Plan: plan}
	for _, st := range ordered {
		env.Subtasks = append(env.Subtasks, subtaskEntry{
			ID:     st.ID,
			State:  st.State,
			Output: st.Output,
			Reason: st.FailureReason,
		})
		switch st.State {
		case taskmodel.StateFailed:
			env.Failed = append(env.Failed, st.ID)
		case taskmodel.StatePending, taskmodel.StateAssigned:
			env.Skipped = append(env.Skipped, st.ID)
		}
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", forgeerr.ValidationError("marshal aggregate envelope: " + err.Error())
	}
	return string(out), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
