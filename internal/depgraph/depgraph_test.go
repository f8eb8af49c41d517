package depgraph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nugget/forge-orchestrator/internal/forgeerr"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

func sub(id string, prereqs ...string) taskmodel.Subtask {
	return taskmodel.Subtask{ID: id, Prerequisites: prereqs}
}

func TestBuildRejectsCycle(t *testing.T) {
	subtasks := []taskmodel.Subtask{
		sub("a", "c"),
		sub("b", "a"),
		sub("c", "b"),
	}
	_, err := Build(subtasks)
	if err == nil {
		t.Fatal("expected error for cyclic input")
	}
	fe, ok := forgeerr.As(err)
	if !ok || fe.Code() != forgeerr.CodeDecomposition {
		t.Fatalf("err = %v, want DecompositionError", err)
	}
}

func TestBuildRejectsUnknownPrerequisite(t *testing.T) {
	subtasks := []taskmodel.Subtask{sub("a", "ghost")}
	_, err := Build(subtasks)
	if err == nil {
		t.Fatal("expected error for unknown prerequisite")
	}
}

func TestLayersGroupsIndependentSubtasks(t *testing.T) {
	subtasks := []taskmodel.Subtask{
		sub("a"),
		sub("b"),
		sub("c", "a", "b"),
	}
	g, err := Build(subtasks)
	if err != nil {
		t.Fatal(err)
	}
	layers := g.Layers()
	want := [][]string{{"a", "b"}, {"c"}}
	if diff := cmp.Diff(want, layers); diff != "" {
		t.Errorf("Layers() diff:\n%s", diff)
	}
}

func TestLayersChain(t *testing.T) {
	subtasks := []taskmodel.Subtask{
		sub("design"),
		sub("implement", "design"),
		sub("test", "implement"),
	}
	g, err := Build(subtasks)
	if err != nil {
		t.Fatal(err)
	}
	layers := g.Layers()
	want := [][]string{{"design"}, {"implement"}, {"test"}}
	if diff := cmp.Diff(want, layers); diff != "" {
		t.Errorf("Layers() diff:\n%s", diff)
	}
}

func TestLayersRespectAllPrerequisites(t *testing.T) {
	// Every prerequisite of a subtask in layer k must be in a layer < k.
	subtasks := []taskmodel.Subtask{
		sub("a"),
		sub("b", "a"),
		sub("c"),
		sub("d", "b", "c"),
	}
	g, err := Build(subtasks)
	if err != nil {
		t.Fatal(err)
	}
	layers := g.Layers()
	depth := make(map[string]int)
	for i, layer := range layers {
		for _, id := range layer {
			depth[id] = i
		}
	}
	for _, id := range g.IDs() {
		for _, dep := range g.Prerequisites(id) {
			if depth[dep] >= depth[id] {
				t.Errorf("subtask %q (layer %d) has prerequisite %q in layer %d, want < %d", id, depth[id], dep, depth[dep], depth[id])
			}
		}
	}
}
