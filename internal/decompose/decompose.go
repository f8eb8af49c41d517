// Package decompose turns an analyzed task into an ordered set of
// subtasks. Simple tasks decompose to a single subtask (the original).
// A task that names its own steps explicitly ("A and then B", a
// numbered list) decomposes into one chained subtask per named step.
// Everything else follows a per-domain template. Either path is
// optionally refined by the inference client. Domain templates are
// declared as a Go map literal rather than loaded from config, keeping
// them type-checked and diffable.
package decompose

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/forge-orchestrator/internal/analyzer"
	"github.com/nugget/forge-orchestrator/internal/forgeerr"
	"github.com/nugget/forge-orchestrator/internal/inference"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// step is one entry in a domain template: a description pattern (with
// a single "%s" placeholder for the task text) and, for all but the
// first step of a domain, an implicit prerequisite on the previous
// step in the same domain.
type step struct {
	name        string // short verb used in generated subtask descriptions
	description string // template with a "%s" placeholder for the task text
}

// templates maps a domain to its ordered decomposition steps. Order
// within a slice is execution order.
var templates = map[taskmodel.Domain][]step{
	taskmodel.DomainDevelopment: {
		{name: "design", description: "Design the approach for: %s"},
		{name: "implement", description: "Implement: %s"},
		{name: "test", description: "Write and run tests for: %s"},
	},
	taskmodel.DomainDevOps: {
		{name: "provision", description: "Provision infrastructure for: %s"},
		{name: "configure", description: "Configure infrastructure for: %s"},
		{name: "deploy", description: "Deploy: %s"},
		{name: "verify", description: "Verify deployment of: %s"},
	},
	taskmodel.DomainData: {
		{name: "extract", description: "Extract the data needed for: %s"},
		{name: "transform", description: "Transform the data for: %s"},
		{name: "validate", description: "Validate the results of: %s"},
	},
	taskmodel.DomainResearch: {
		{name: "gather", description: "Gather sources relevant to: %s"},
		{name: "analyze", description: "Analyze findings for: %s"},
		{name: "summarize", description: "Summarize conclusions for: %s"},
	},
	taskmodel.DomainDesign: {
		{name: "draft", description: "Draft a design for: %s"},
		{name: "review", description: "Review the design for: %s"},
		{name: "finalize", description: "Finalize the design for: %s"},
	},
	taskmodel.DomainTesting: {
		{name: "plan", description: "Plan test coverage for: %s"},
		{name: "execute", description: "Execute tests for: %s"},
		{name: "report", description: "Report results for: %s"},
	},
	taskmodel.DomainSecurity: {
		{name: "assess", description: "Assess security posture for: %s"},
		{name: "remediate", description: "Remediate findings for: %s"},
		{name: "verify", description: "Verify remediation for: %s"},
	},
	taskmodel.DomainOther: {
		{name: "do", description: "Complete: %s"},
	},
}

// PersonaResolver fills suggested_persona_id for a subtask: every
// emitted subtask carries a suggested persona, resolved by calling the
// delegation optimizer. Implemented by
// internal/delegation.Optimizer.Recommend, injected here to avoid a
// decompose -> delegation -> persona -> decompose import cycle.
type PersonaResolver func(domain taskmodel.Domain, roleHint string) string

// refineMaxMessages is the number of refinement requests decompose
// sends per task. The refinement call has no timeout of its own: it
// ends with ctx or with the inference client's request timeout, and
// any error leaves the verbatim template descriptions in place.
const refineMaxMessages = 1

// Decompose turns an analyzed task into an ordered subtask list.
//
// client and resolver may both be nil: a nil client skips LLM
// refinement (templates are used verbatim); a nil resolver leaves
// SuggestedPersonaID empty.
func Decompose(ctx context.Context, task taskmodel.Task, analysis analyzer.Breakdown, client inference.Client, resolver PersonaResolver) ([]taskmodel.Subtask, error) {
	if analysis.Complexity == taskmodel.ComplexitySimple {
		st := singleSubtask(task, analysis)
		if resolver != nil {
			st.SuggestedPersonaID = resolver(st.Domain, st.Description)
		}
		return []taskmodel.Subtask{st}, nil
	}

	var subtasks []taskmodel.Subtask
	if steps := analyzer.SequentialSteps(task.Text); len(steps) > 1 {
		domain := taskmodel.DomainOther
		if len(analysis.Domains) > 0 {
			domain = analysis.Domains[0]
		}
		subtasks = buildSequentialSubtasks(task, domain, steps)
	} else {
		domains := analysis.Domains
		if len(domains) == 0 {
			domains = []taskmodel.Domain{taskmodel.DomainOther}
		}
		subtasks = make([]taskmodel.Subtask, 0, len(domains)*3)
		for _, domain := range domains {
			domainSteps := templates[domain]
			if domainSteps == nil {
				domainSteps = templates[taskmodel.DomainOther]
			}
			subtasks = append(subtasks, buildDomainSubtasks(task, domain, domainSteps)...)
		}
	}

	if len(subtasks) == 0 {
		return nil, forgeerr.DecompositionError("template produced no subtasks")
	}

	refineDescriptions(ctx, client, task, subtasks)

	if resolver != nil {
		for i := range subtasks {
			subtasks[i].SuggestedPersonaID = resolver(subtasks[i].Domain, subtasks[i].Description)
		}
	}

	return subtasks, nil
}

func singleSubtask(task taskmodel.Task, analysis analyzer.Breakdown) taskmodel.Subtask {
	domain := taskmodel.DomainOther
	if len(analysis.Domains) > 0 {
		domain = analysis.Domains[0]
	}
	return taskmodel.Subtask{
		ID:           fmt.Sprintf("%s-s0", task.ID),
		ParentTaskID: task.ID,
		Description:  task.Text,
		Domain:       domain,
		State:        taskmodel.StatePending,
	}
}

func buildDomainSubtasks(task taskmodel.Task, domain taskmodel.Domain, steps []step) []taskmodel.Subtask {
	out := make([]taskmodel.Subtask, len(steps))
	for i, st := range steps {
		id := fmt.Sprintf("%s-%s-%d", task.ID, domain, i)
		var prereqs []string
		if i > 0 {
			prereqs = []string{out[i-1].ID}
		}
		out[i] = taskmodel.Subtask{
			ID:            id,
			ParentTaskID:  task.ID,
			Description:   fmt.Sprintf(st.description, task.Text),
			Domain:        domain,
			Prerequisites: prereqs,
			State:         taskmodel.StatePending,
		}
	}
	return out
}

// buildSequentialSubtasks emits one subtask per literal step named in
// the task text, chained in the order they were named.
func buildSequentialSubtasks(task taskmodel.Task, domain taskmodel.Domain, steps []string) []taskmodel.Subtask {
	out := make([]taskmodel.Subtask, len(steps))
	for i, text := range steps {
		id := fmt.Sprintf("%s-seq-%d", task.ID, i)
		var prereqs []string
		if i > 0 {
			prereqs = []string{out[i-1].ID}
		}
		out[i] = taskmodel.Subtask{
			ID:            id,
			ParentTaskID:  task.ID,
			Description:   text,
			Domain:        domain,
			Prerequisites: prereqs,
			State:         taskmodel.StatePending,
		}
	}
	return out
}

// refineDescriptions asks the inference client to rewrite each
// subtask's description in place, substituting the task's specifics.
// Refinement must not add, remove, or reorder steps — only rewrite
// text — so the response is parsed strictly: one non-empty line per
// input subtask, in order. Any mismatch, error, or nil client falls
// back to the verbatim template descriptions already in subtasks.
func refineDescriptions(ctx context.Context, client inference.Client, task taskmodel.Task, subtasks []taskmodel.Subtask) {
	if client == nil || len(subtasks) == 0 {
		return
	}

	var prompt strings.Builder
	prompt.WriteString("Rewrite each of the following subtask descriptions to be specific to the task below. ")
	prompt.WriteString("Reply with exactly one rewritten line per input line, in the same order, and nothing else.\n\n")
	fmt.Fprintf(&prompt, "Task: %s\n\n", task.Text)
	for i, st := range subtasks {
		fmt.Fprintf(&prompt, "%d. %s\n", i+1, st.Description)
	}

	resp, err := client.Chat(ctx, inference.ClassAnalysis, []inference.Message{
		{Role: "system", Content: "You rewrite subtask descriptions. Never add, remove, or reorder steps."},
		{Role: "user", Content: prompt.String()},
	}, inference.Options{})
	if err != nil {
		return
	}

	lines := nonEmptyLines(resp.Message.Content)
	if len(lines) != len(subtasks) {
		return
	}
	for i := range subtasks {
		subtasks[i].Description = stripListPrefix(lines[i])
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// stripListPrefix removes a leading "1. " / "1) " / "- " style marker
// the model may echo back despite instructions not to.
func stripListPrefix(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".)"); i > 0 && i <= 3 {
		if _, err := fmt.Sscanf(s[:i], "%d", new(int)); err == nil {
			return strings.TrimSpace(s[i+1:])
		}
	}
	return strings.TrimPrefix(s, "- ")
}
