package agentrun

import (
	"context"
	"strings"
	"testing"

	"github.com/nugget/forge-orchestrator/internal/inference"
	"github.com/nugget/forge-orchestrator/internal/persona"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

func TestRunSuccessReturnsOutput(t *testing.T) {
	fake := &inference.FakeClient{Responses: []*inference.Response{
		{Message: inference.Message{Role: "assistant", Content: "done"}, InputTokens: 10, OutputTokens: 5},
	}}
	in := Input{
		Subtask: taskmodel.Subtask{ID: "s1", Description: "implement the widget", Domain: taskmodel.DomainDevelopment},
		Persona: persona.Persona{ID: "p1", DNA: persona.DNA{RoleSeniority: "senior engineer", Domain: "development"}},
	}

	out, err := Run(context.Background(), fake, in, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != "done" {
		t.Errorf("Text = %q, want done", out.Text)
	}

	if len(fake.Calls) != 1 {
		t.Fatalf("len(Calls) = %d, want 1", len(fake.Calls))
	}
	if fake.Calls[0].Class != inference.ClassCode {
		t.Errorf("class = %q, want code (development domain)", fake.Calls[0].Class)
	}
}

func TestRunRejectsEmptyDescription(t *testing.T) {
	fake := &inference.FakeClient{}
	in := Input{Subtask: taskmodel.Subtask{ID: "s1"}}
	if _, err := Run(context.Background(), fake, in, nil); err == nil {
		t.Fatal("expected error for empty subtask description")
	}
}

func TestRunPropagatesInferenceError(t *testing.T) {
	fake := &inference.FakeClient{Err: context.DeadlineExceeded}
	in := Input{Subtask: taskmodel.Subtask{ID: "s1", Description: "do something"}}
	if _, err := Run(context.Background(), fake, in, nil); err == nil {
		t.Fatal("expected inference error to propagate")
	}
}

func TestBuildPromptIncludesPrerequisiteOutputs(t *testing.T) {
	in := Input{
		Subtask:             taskmodel.Subtask{ID: "s2", Description: "deploy the service"},
		Persona:             persona.Persona{DNA: persona.DNA{RoleSeniority: "devops engineer", Domain: "devops"}},
		PrerequisiteOutputs: map[string]string{"s1": "provisioned the VM"},
	}
	parts := buildPrompt(in)
	if !strings.Contains(parts.user, "provisioned the VM") {
		t.Errorf("user prompt missing prerequisite output: %q", parts.user)
	}
	if !strings.Contains(parts.user, "deploy the service") {
		t.Errorf("user prompt missing subtask description: %q", parts.user)
	}
	if !strings.Contains(parts.system, "devops engineer") {
		t.Errorf("system prompt missing persona role: %q", parts.system)
	}
}
