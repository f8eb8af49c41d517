// Package analyzer classifies a task's complexity and domain tags. It
// is pure and deterministic: the same text and context always produce
// the same Breakdown. A task's text is scored against a set of rules,
// and the scoring trail is kept on the Breakdown so the HTTP surface
// and tests can show why a task landed where it did.
package analyzer

import (
	"regexp"
	"strings"

	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// actionVerbs is the published set of verbs that each add 1 to the
// complexity score when present in the task text.
var actionVerbs = []string{
	"build", "deploy", "integrate", "refactor", "migrate", "design",
	"implement", "create", "provision", "configure", "optimize",
	"investigate", "research", "analyze", "test", "review",
}

// multiplicityMarkers signal the task names more than one thing to do.
var multiplicityMarkers = []string{"and then", "afterwards", "followed by"}

// conjunctions join verb phrases; each occurrence adds 1 to the score.
var conjunctions = []string{" and ", " then ", ", then ", "; "}

// domainKeywords maps each closed-vocabulary domain to the keywords that
// trigger it. Checked in a stable order so ties are broken
// deterministically.
var domainKeywords = []struct {
	domain   taskmodel.Domain
	keywords []string
}{
	{taskmodel.DomainDevelopment, []string{"build", "implement", "code", "api", "refactor", "feature", "app", "backend", "frontend", "develop"}},
	{taskmodel.DomainDevOps, []string{"deploy", "provision", "infra", "kubernetes", "docker", "ci/cd", "pipeline", "aws", "cloud", "terraform"}},
	{taskmodel.DomainData, []string{"data", "etl", "pipeline", "dataset", "database", "sql", "analytics", "warehouse"}},
	{taskmodel.DomainResearch, []string{"research", "investigate", "survey", "compare", "evaluate options", "literature"}},
	{taskmodel.DomainDesign, []string{"design", "wireframe", "mockup", "ui", "ux", "prototype"}},
	{taskmodel.DomainTesting, []string{"test", "qa", "verify", "validate", "regression"}},
	{taskmodel.DomainSecurity, []string{"security", "auth", "vulnerability", "pentest", "encrypt", "secrets"}},
}

// Breakdown is the full result of analyzing a task, including the
// scoring trail so callers can see why a classification was reached.
type Breakdown struct {
	Complexity            taskmodel.Complexity
	Domains               []taskmodel.Domain
	RequiresDecomposition bool
	Score                 int
	MatchedVerbs          []string
	MatchedConjunctions   int
	MatchedMultiplicity   []string
	TokenLength           int
}

// Analyze scores text+context and returns the classification. Pure and
// deterministic: no network or clock access.
func Analyze(text string, context map[string]string) Breakdown {
	lower := strings.ToLower(text)
	tokens := strings.Fields(text)

	b := Breakdown{TokenLength: len(tokens)}

	// Token-length contribution: long tasks read as more complex.
	score := 0
	switch {
	case len(tokens) > 25:
		score += 2
	case len(tokens) > 12:
		score += 1
	}

	for _, v := range actionVerbs {
		if strings.Contains(lower, v) {
			b.MatchedVerbs = append(b.MatchedVerbs, v)
			score++
		}
	}

	for _, c := range conjunctions {
		n := strings.Count(lower, c)
		score += n
		b.MatchedConjunctions += n
	}

	for _, m := range multiplicityMarkers {
		n := strings.Count(lower, m)
		if n > 0 {
			score += n
			for i := 0; i < n; i++ {
				b.MatchedMultiplicity = append(b.MatchedMultiplicity, m)
			}
		}
	}
	if hasNumberedList(text) {
		b.MatchedMultiplicity = append(b.MatchedMultiplicity, "numbered_list")
		score++
	}

	domains := classifyDomains(lower)
	b.Domains = domains
	// A task spanning more than one domain coordinates more moving parts
	// than its raw verb/conjunction count alone suggests; weight each
	// additional domain beyond the first accordingly.
	if len(domains) > 1 && domains[0] != taskmodel.DomainOther {
		score += 3 * (len(domains) - 1)
	}

	b.Score = score
	b.Complexity = classify(score)
	b.RequiresDecomposition = b.Complexity != taskmodel.ComplexitySimple

	return b
}

// classify maps a raw score to a Complexity band:
// <=2 simple, 3-5 medium, >=6 complex.
func classify(score int) taskmodel.Complexity {
	switch {
	case score <= 2:
		return taskmodel.ComplexitySimple
	case score <= 5:
		return taskmodel.ComplexityMedium
	default:
		return taskmodel.ComplexityComplex
	}
}

// classifyDomains runs the keyword classifier over lowercased text,
// returning every domain with at least one match, in the table's
// declaration order. Empty classification resolves to "other".
func classifyDomains(lower string) []taskmodel.Domain {
	var domains []taskmodel.Domain
	for _, entry := range domainKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				domains = append(domains, entry.domain)
				break
			}
		}
	}
	if len(domains) == 0 {
		return []taskmodel.Domain{taskmodel.DomainOther}
	}
	return domains
}

// hasNumberedList reports whether text contains an explicit numbered
// list marker like "1." or "2)".
func hasNumberedList(text string) bool {
	for i := 0; i < len(text)-1; i++ {
		if text[i] >= '1' && text[i] <= '9' && (text[i+1] == '.' || text[i+1] == ')') {
			return true
		}
	}
	return false
}

// sequentialConnectorRe splits text on the explicit ordering phrases
// multiplicityMarkers names: "and then", "followed by", "afterwards".
var sequentialConnectorRe = regexp.MustCompile(`(?i)\s+and then\s+|\s+followed by\s+|\s+afterwards\s+`)

// numberedListItemRe matches a numbered-list marker ("1.", "2)") that
// introduces each item in an enumerated list.
var numberedListItemRe = regexp.MustCompile(`(?:^|\s)\d{1,2}[.)]\s+`)

// SequentialSteps splits text into its literal ordered steps when the
// task names them explicitly — joined by "and then" / "followed by" /
// "afterwards", or laid out as a numbered list — and returns nil when
// fewer than two such steps are found.
func SequentialSteps(text string) []string {
	if parts := sequentialConnectorRe.Split(text, -1); len(parts) > 1 {
		return trimNonEmpty(parts)
	}
	if loc := numberedListItemRe.FindAllStringIndex(text, -1); len(loc) > 1 {
		out := make([]string, 0, len(loc))
		for i, l := range loc {
			start := l[1]
			end := len(text)
			if i+1 < len(loc) {
				end = loc[i+1][0]
			}
			out = append(out, text[start:end])
		}
		return trimNonEmpty(out)
	}
	return nil
}

func trimNonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}
