// Package delegation implements the Delegation Optimizer: it drives
// persona score updates via the exponential moving average already
// implemented in internal/persona.Store.RecordUse, and recommends
// personas for a (domain, role hint) pair. It also tracks historical
// mean durations per persona/domain so the execution planner can
// weight the critical path by observed reality instead of a flat 1.
//
// Scoring is owned by internal/evaluate and internal/persona;
// recommendation policy is owned here: the optimizer is a thin policy
// layer over the persona store, not a second store.
package delegation

import (
	"sync"
	"time"

	"github.com/nugget/forge-orchestrator/internal/persona"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// minUsesForRecommendation is the number of recorded uses a persona
// needs before the optimizer will actively recommend it over
// generating a fresh one.
const minUsesForRecommendation = 3

// Optimizer wraps a persona.Store with recommendation policy and
// historical duration tracking.
type Optimizer struct {
	store *persona.Store

	mu        sync.Mutex
	durations map[string][]time.Duration // key: domain|personaID
}

// New creates an Optimizer over the given persona store.
func New(store *persona.Store) *Optimizer {
	return &Optimizer{store: store, durations: make(map[string][]time.Duration)}
}

// RecordOutcome updates the persona's EMA score (delegating to
// persona.Store.RecordUse) and records the subtask's wall-clock
// duration for future planner weighting.
func (o *Optimizer) RecordOutcome(personaID string, domain taskmodel.Domain, successScore float64, duration time.Duration) error {
	if err := o.store.RecordUse(personaID, successScore); err != nil {
		return err
	}
	if duration > 0 {
		o.mu.Lock()
		key := durationKey(personaID, domain)
		o.durations[key] = append(o.durations[key], duration)
		o.mu.Unlock()
	}
	return nil
}

// Recommend picks a persona recommendation: among personas matching
// domain with at least minUsesForRecommendation prior uses, return the
// id of the one with the highest EMA score. roleHint is not used in
// the selection; only the domain filters candidates.
// Returns "" if no persona qualifies, signalling the caller should
// fall back to persona.Store.Match / generate a fresh persona.
func (o *Optimizer) Recommend(domain taskmodel.Domain, roleHint string) string {
	candidates := o.store.List(persona.Filter{Domain: string(domain)})
	best := ""
	bestScore := -1.0
	for _, p := range candidates {
		if p.UsageCount < minUsesForRecommendation {
			continue
		}
		if p.Score > bestScore {
			bestScore = p.Score
			best = p.ID
		}
	}
	return best
}

// MeanDuration returns the historical mean observed duration for a
// persona/domain pair, and whether any history exists. Wired into
// internal/planner.WeightFunc.
func (o *Optimizer) MeanDuration(personaID string, domain taskmodel.Domain) (time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	samples := o.durations[durationKey(personaID, domain)]
	if len(samples) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return total / time.Duration(len(samples)), true
}

func durationKey(personaID string, domain taskmodel.Domain) string {
	return string(domain) + "|" + personaID
}
