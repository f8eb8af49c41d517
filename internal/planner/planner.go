// Package planner turns a dependency graph into an execution Plan:
// stages of independent subtasks plus the critical-path length. Its
// style follows depgraph's layering trail.
package planner

import (
	"github.com/nugget/forge-orchestrator/internal/depgraph"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// WeightFunc returns the weight (expected duration, in arbitrary
// comparable units) of a subtask for critical-path computation. When
// nil, every subtask weighs 1. Wired by the orchestrator to
// internal/delegation.Optimizer.MeanDuration when a history exists.
type WeightFunc func(subtaskID string) float64

// Plan turns a dependency graph into stages plus critical-path length.
func Plan(g *depgraph.Graph, weight WeightFunc) taskmodel.Plan {
	layers := g.Layers()
	stages := make([]taskmodel.Stage, len(layers))
	canParallelize := false
	for i, layer := range layers {
		stages[i] = taskmodel.Stage{SubtaskIDs: layer}
		if len(layer) > 1 {
			canParallelize = true
		}
	}

	pathIDs, pathLen := criticalPath(g, weight)

	return taskmodel.Plan{
		Stages:             stages,
		CriticalPathIDs:    pathIDs,
		CriticalPathLength: pathLen,
		CanParallelize:     canParallelize,
	}
}

// criticalPath finds the longest-weight path through the DAG via
// longest-path-in-a-DAG dynamic programming over the graph's
// topological layering.
func criticalPath(g *depgraph.Graph, weight WeightFunc) ([]string, int) {
	w := func(id string) float64 {
		if weight == nil {
			return 1
		}
		return weight(id)
	}

	layers := g.Layers()
	best := make(map[string]float64, len(g.IDs()))
	prev := make(map[string]string, len(g.IDs()))

	var bestEnd string
	var bestTotal float64

	for _, layer := range layers {
		for _, id := range layer {
			var maxPrereq float64
			var from string
			for _, dep := range g.Prerequisites(id) {
				if best[dep] >= maxPrereq {
					maxPrereq = best[dep]
					from = dep
				}
			}
			total := maxPrereq + w(id)
			best[id] = total
			if from != "" {
				prev[id] = from
			}
			if total >= bestTotal {
				bestTotal = total
				bestEnd = id
			}
		}
	}

	if bestEnd == "" {
		return nil, 0
	}

	var path []string
	for id := bestEnd; id != ""; {
		path = append([]string{id}, path...)
		next, ok := prev[id]
		if !ok {
			break
		}
		id = next
	}
	return path, len(path)
}
