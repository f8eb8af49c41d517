// Package agentrun implements the Agent: a one-shot, non-retryable
// binding of a persona to an inference client plus the current
// subtask. An Agent holds no state between subtasks and is never
// reused — the orchestrator constructs one per dispatched subtask and
// discards it once the subtask terminates.
//
// Each run builds a system prompt, builds a user message, calls the
// inference client once, and logs start/response — there is no
// internal tool-use iteration loop; the orchestrator's core path does
// not execute arbitrary tools.
package agentrun

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/forge-orchestrator/internal/forgeerr"
	"github.com/nugget/forge-orchestrator/internal/inference"
	"github.com/nugget/forge-orchestrator/internal/persona"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// Input is everything one Agent invocation needs: the subtask to
// perform, the persona to perform it as, recent conversational
// context, and the outputs of any prerequisite subtasks.
type Input struct {
	Subtask             taskmodel.Subtask
	Persona             persona.Persona
	PersonalityPreamble string // resolved from the external personality config
	ShortTermContext    []taskmodel.ConversationTurn
	PrerequisiteOutputs map[string]string // subtask id -> output
}

// Output is the result of one Agent run.
type Output struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Run executes in.Subtask once, as in.Persona, against client. It does
// not retry: a failure here is the orchestrator's signal to mark the
// subtask failed and move on.
func Run(ctx context.Context, client inference.Client, in Input, logger *slog.Logger) (*Output, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if in.Subtask.Description == "" {
		return nil, forgeerr.ValidationError("subtask description is required")
	}

	prompt := buildPrompt(in)

	logger.Info("agent dispatched",
		"subtask_id", in.Subtask.ID,
		"persona_id", in.Persona.ID,
		"domain", in.Subtask.Domain,
	)

	start := time.Now()
	resp, err := client.Chat(ctx, classForDomain(in.Subtask.Domain), []inference.Message{
		{Role: "system", Content: prompt.system},
		{Role: "user", Content: prompt.user},
	}, inference.Options{})
	if err != nil {
		logger.Warn("agent dispatch failed",
			"subtask_id", in.Subtask.ID,
			"persona_id", in.Persona.ID,
			"error", err,
		)
		return nil, err
	}

	logger.Info("agent completed",
		"subtask_id", in.Subtask.ID,
		"persona_id", in.Persona.ID,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &Output{
		Text:         resp.Message.Content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Duration:     time.Since(start),
	}, nil
}

type promptParts struct {
	system string
	user   string
}

// buildPrompt assembles the prompt from: (1) persona preamble and
// (2) resolved personality prefix, as the system message; then, in the
// user message, (3) serialized prerequisite outputs, the recent
// conversation turns when there are any, (4) the subtask description,
// and (5) a trailer telling the model to answer this subtask only. The
// trailer does not ask for any particular response structure.
func buildPrompt(in Input) promptParts {
	var sys strings.Builder
	sys.WriteString(personaPreamble(in.Persona))
	if in.PersonalityPreamble != "" {
		sys.WriteString("\n\n")
		sys.WriteString(in.PersonalityPreamble)
	}

	var user strings.Builder
	if len(in.PrerequisiteOutputs) > 0 {
		user.WriteString("Prior work this subtask builds on:\n")
		for id, out := range in.PrerequisiteOutputs {
			fmt.Fprintf(&user, "- [%s]: %s\n", id, truncate(out, 2000))
		}
		user.WriteString("\n")
	}
	if len(in.ShortTermContext) > 0 {
		user.WriteString("Recent conversation:\n")
		for _, turn := range in.ShortTermContext {
			fmt.Fprintf(&user, "%s: %s\n", turn.Role, turn.Text)
		}
		user.WriteString("\n")
	}
	fmt.Fprintf(&user, "Task: %s\n\n", in.Subtask.Description)
	user.WriteString("Respond with the completed work for this subtask only. Do not perform any other subtask.")

	return promptParts{system: sys.String(), user: user.String()}
}

func personaPreamble(p persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s specializing in %s.\n", p.DNA.RoleSeniority, p.DNA.Domain)
	if len(p.DNA.Methodologies) > 0 {
		fmt.Fprintf(&b, "Follow these methodologies: %s.\n", strings.Join(p.DNA.Methodologies, ", "))
	}
	for k, v := range p.DNA.Constraints {
		fmt.Fprintf(&b, "Constraint — %s: %s.\n", k, v)
	}
	for k, v := range p.DNA.OutputFormat {
		fmt.Fprintf(&b, "Output format — %s: %s.\n", k, v)
	}
	return b.String()
}

// classForDomain maps a subtask domain to an inference.TaskClass, a
// narrower mapping than the persona DNA but enough to pick a
// reasonably-sized model for the call.
func classForDomain(d taskmodel.Domain) inference.TaskClass {
	switch d {
	case taskmodel.DomainDevelopment, taskmodel.DomainTesting, taskmodel.DomainSecurity:
		return inference.ClassCode
	case taskmodel.DomainResearch, taskmodel.DomainData:
		return inference.ClassAnalysis
	default:
		return inference.ClassGeneral
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
