package evaluate

import (
	"testing"

	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

func TestEvaluateFailedSubtaskScoresZeroSuccess(t *testing.T) {
	st := taskmodel.Subtask{ID: "s1", State: taskmodel.StateFailed, Description: "deploy the service"}
	score := Evaluate(st)
	if score.Success != 0 {
		t.Errorf("Success = %f, want 0", score.Success)
	}
	if score.Quality != 0 || score.Completeness != 0 {
		t.Errorf("expected zero quality/completeness for a failed subtask, got %+v", score)
	}
}

func TestEvaluateCompletedSubtaskWithStructuredOutput(t *testing.T) {
	st := taskmodel.Subtask{
		ID:          "s2",
		State:       taskmodel.StateCompleted,
		Description: "deploy the service to production",
		Output:      "## Deployment\n- deployed the service to production\n- verified health check",
	}
	score := Evaluate(st)
	if score.Success != 1 {
		t.Errorf("Success = %f, want 1", score.Success)
	}
	if score.Quality <= 0.3 {
		t.Errorf("Quality = %f, want > 0.3 for structured output", score.Quality)
	}
	if score.Completeness < 0.5 {
		t.Errorf("Completeness = %f, want high coverage of description keywords", score.Completeness)
	}
}

func TestEvaluateOverallIsWeightedMean(t *testing.T) {
	st := taskmodel.Subtask{
		ID:          "s3",
		State:       taskmodel.StateCompleted,
		Description: "x",
		Output:      "plain text with no structural markers",
	}
	score := Evaluate(st)
	want := weightQuality*score.Quality + weightCompleteness*score.Completeness + weightSuccess*score.Success
	if score.Overall != want {
		t.Errorf("Overall = %f, want %f", score.Overall, want)
	}
}

func TestEvaluateEmptyOutputScoresZero(t *testing.T) {
	st := taskmodel.Subtask{ID: "s4", State: taskmodel.StateCompleted, Description: "do something"}
	score := Evaluate(st)
	if score.Quality != 0 || score.Completeness != 0 {
		t.Errorf("expected zero quality/completeness for empty output, got %+v", score)
	}
}
