package aggregate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

func testPlanAndSubtasks() (taskmodel.Plan, []taskmodel.Subtask) {
	plan := taskmodel.Plan{Stages: []taskmodel.Stage{
		{SubtaskIDs: []string{"a", "b"}},
		{SubtaskIDs: []string{"c"}},
	}}
	// Deliberately out of plan order and out of completion-time order,
	// to prove Aggregate reorders by plan, not input order.
	subtasks := []taskmodel.Subtask{
		{ID: "c", State: taskmodel.StateCompleted, Output: "third"},
		{ID: "a", State: taskmodel.StateCompleted, Output: "first"},
		{ID: "b", State: taskmodel.StateFailed, FailureReason: "boom"},
	}
	return plan, subtasks
}

func TestAggregateOrdersByPlanNotInputOrder(t *testing.T) {
	plan, subtasks := testPlanAndSubtasks()
	out, err := Aggregate(plan, subtasks, FormatDetailed)
	if err != nil {
		t.Fatal(err)
	}
	ia := strings.Index(out, "## a")
	ib := strings.Index(out, "## b")
	ic := strings.Index(out, "## c")
	if !(ia < ib && ib < ic) {
		t.Errorf("expected plan order a, b, c; got offsets a=%d b=%d c=%d", ia, ib, ic)
	}
}

func TestAggregateSummaryIncludesFailureReason(t *testing.T) {
	plan, subtasks := testPlanAndSubtasks()
	out, err := Aggregate(plan, subtasks, FormatSummary)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("summary missing failure reason: %q", out)
	}
}

func TestAggregateJSONRoundTrips(t *testing.T) {
	plan, subtasks := testPlanAndSubtasks()
	out, err := Aggregate(plan, subtasks, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	var env jsonEnvelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("round-trip unmarshal failed: %v", err)
	}
	if len(env.Subtasks) != 3 {
		t.Fatalf("len(Subtasks) = %d, want 3", len(env.Subtasks))
	}
	if len(env.Failed) != 1 || env.Failed[0] != "b" {
		t.Errorf("Failed = %v, want [b]", env.Failed)
	}
}

func TestAggregateDefaultFormatIsDetailed(t *testing.T) {
	plan, subtasks := testPlanAndSubtasks()
	withDefault, err := Aggregate(plan, subtasks, "")
	if err != nil {
		t.Fatal(err)
	}
	explicit, err := Aggregate(plan, subtasks, FormatDetailed)
	if err != nil {
		t.Fatal(err)
	}
	if withDefault != explicit {
		t.Errorf("default format output differs from explicit detailed output")
	}
}

func TestAggregateUnknownFormatErrors(t *testing.T) {
	plan, subtasks := testPlanAndSubtasks()
	if _, err := Aggregate(plan, subtasks, Format("bogus")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
