// Package persona implements the reusable library of agent
// specifications ("DNA"): matching an existing persona against a set of
// requirements, inserting newly generated ones, and recording usage
// outcomes. Personas live as a directory of files, loaded and indexed
// in memory, with the same fsync-before-return discipline as the
// engine's other file-backed stores — here applied to a
// YAML-per-persona file store.
package persona

import "time"

// DNA is the five-element specification that defines a specialized
// agent. Identity is the content of these five fields: two personas
// with identical DNA MUST collapse to one record.
type DNA struct {
	RoleSeniority string            `yaml:"role_seniority" json:"role_seniority"`
	Domain        string            `yaml:"domain" json:"domain"`
	Methodologies []string          `yaml:"methodologies" json:"methodologies"`
	Constraints   map[string]string `yaml:"constraints" json:"constraints"`
	OutputFormat  map[string]string `yaml:"output_format" json:"output_format"`
}

// Persona is a DNA specification plus its store metadata.
type Persona struct {
	ID         string    `yaml:"id" json:"id"`
	DNA        DNA       `yaml:"dna" json:"dna"`
	CreatedAt  time.Time `yaml:"created_at" json:"created_at"`
	UsageCount int       `yaml:"usage_count" json:"usage_count"`
	Score      float64   `yaml:"score" json:"score"` // EMA success score, [0,1]
	LastUsedAt time.Time `yaml:"last_used_at" json:"last_used_at"`
}

// MatchResult pairs a persona with its similarity to the requested DNA.
type MatchResult struct {
	Persona    Persona
	Similarity float64
}

// reuseThreshold is the minimum similarity at which an existing persona
// is reused instead of generating a new one.
const reuseThreshold = 0.7

// emaAlpha is the exponential-moving-average smoothing factor applied
// to a persona's success score on every RecordUse call.
const emaAlpha = 0.2

// Similarity computes the weighted overlap of two DNA specs:
// role+seniority 0.35, domain 0.25, methodologies (Jaccard) 0.20,
// constraints (matching keys) 0.10, output format (matching keys) 0.10.
func Similarity(a, b DNA) float64 {
	var score float64
	if a.RoleSeniority == b.RoleSeniority && a.RoleSeniority != "" {
		score += 0.35
	}
	if a.Domain == b.Domain && a.Domain != "" {
		score += 0.25
	}
	score += 0.20 * jaccard(a.Methodologies, b.Methodologies)
	score += 0.10 * keyOverlap(a.Constraints, b.Constraints)
	score += 0.10 * keyOverlap(a.OutputFormat, b.OutputFormat)
	return score
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for k := range setA {
		if setB[k] {
			inter++
		}
	}
	union := len(setA)
	for k := range setB {
		if !setA[k] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func keyOverlap(a, b map[string]string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a)
	for k := range b {
		if _, ok := a[k]; !ok {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}
