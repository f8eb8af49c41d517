// Package evaluate scores a completed subtask on quality,
// completeness, and success. The keyword-coverage rubric follows the
// same "count matches against a published list" shape internal/analyzer
// uses for complexity scoring.
package evaluate

import (
	"strings"

	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// weights are the fixed mixing coefficients for the overall score:
// quality 0.4, completeness 0.3, success 0.3.
const (
	weightQuality      = 0.4
	weightCompleteness = 0.3
	weightSuccess      = 0.3
)

// outputFormatMarkers are structural cues that a subtask's output
// conforms to a requested output format (headings, bullet lists, code
// fences, key:value pairs). Presence of at least one raises the
// quality score; their total count (capped) scales it further.
var outputFormatMarkers = []string{"##", "- ", "* ", "```", ": "}

// Evaluate scores a finished subtask on three axes in [0, 1] and
// returns their weighted mean as Overall.
func Evaluate(st taskmodel.Subtask) taskmodel.SubtaskScore {
	success := successScore(st)
	quality := qualityScore(st)
	completeness := completenessScore(st)

	return taskmodel.SubtaskScore{
		SubtaskID:    st.ID,
		Quality:      quality,
		Completeness: completeness,
		Success:      success,
		Overall:      weightQuality*quality + weightCompleteness*completeness + weightSuccess*success,
	}
}

// successScore implements "did the subtask reach completed rather
// than failed" as a binary signal.
func successScore(st taskmodel.Subtask) float64 {
	if st.State == taskmodel.StateCompleted {
		return 1
	}
	return 0
}

// qualityScore checks whether the output conforms to the requested
// output format: a rubric of structural-marker coverage, since the
// orchestrator does not impose a single schema on every subtask.
func qualityScore(st taskmodel.Subtask) float64 {
	if st.State != taskmodel.StateCompleted || st.Output == "" {
		return 0
	}
	matched := 0
	for _, marker := range outputFormatMarkers {
		if strings.Contains(st.Output, marker) {
			matched++
		}
	}
	score := float64(matched) / float64(len(outputFormatMarkers))
	if score > 1 {
		score = 1
	}
	// An output with no structural markers at all, but non-empty text,
	// still partially conforms (plain prose is valid output); floor at 0.3.
	if matched == 0 {
		return 0.3
	}
	return 0.3 + 0.7*score
}

// completenessScore checks keyword coverage of the subtask
// description against its output: every significant word from the
// description that also appears in the output counts as addressed.
func completenessScore(st taskmodel.Subtask) float64 {
	if st.State != taskmodel.StateCompleted || st.Output == "" {
		return 0
	}
	keywords := significantWords(st.Description)
	if len(keywords) == 0 {
		return 1
	}
	output := strings.ToLower(st.Output)
	covered := 0
	for _, kw := range keywords {
		if strings.Contains(output, kw) {
			covered++
		}
	}
	return float64(covered) / float64(len(keywords))
}

// stopWords are excluded from the completeness rubric's keyword set
// since their presence/absence carries no signal.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "for": true,
	"to": true, "and": true, "in": true, "on": true, "is": true,
	"it": true, "this": true, "that": true, "with": true, "be": true,
}

func significantWords(description string) []string {
	fields := strings.Fields(strings.ToLower(description))
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, w := range fields {
		w = strings.Trim(w, ".,:;!?()")
		if w == "" || stopWords[w] || len(w) < 3 {
			continue
		}
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
