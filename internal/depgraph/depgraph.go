// Package depgraph builds a dependency DAG over a set of subtasks and
// computes its topological layering. New package; stylistically
// grounded on internal/router's habit of building an explainable trail
// (Decision.RulesEvaluated) alongside its decision — here, Layers
// records the layering trail so the HTTP surface can show the plan's
// shape, not just the final answer.
package depgraph

import (
	"fmt"

	"github.com/nugget/forge-orchestrator/internal/forgeerr"
	"github.com/nugget/forge-orchestrator/internal/taskmodel"
)

// Graph is a dependency DAG over a fixed set of subtask ids.
type Graph struct {
	ids     []string            // all subtask ids, in input order
	byID    map[string]taskmodel.Subtask
	forward map[string][]string // id -> ids that depend on it
}

// Build turns a set of subtasks into a dependency DAG. It returns
// DecompositionError if a subtask references a prerequisite outside
// the set or if the induced graph contains a cycle.
func Build(subtasks []taskmodel.Subtask) (*Graph, error) {
	g := &Graph{
		ids:     make([]string, 0, len(subtasks)),
		byID:    make(map[string]taskmodel.Subtask, len(subtasks)),
		forward: make(map[string][]string, len(subtasks)),
	}
	for _, st := range subtasks {
		g.ids = append(g.ids, st.ID)
		g.byID[st.ID] = st
	}
	for _, st := range subtasks {
		for _, dep := range st.Prerequisites {
			if _, ok := g.byID[dep]; !ok {
				return nil, forgeerr.DecompositionError(fmt.Sprintf("subtask %q references unknown prerequisite %q", st.ID, dep))
			}
			g.forward[dep] = append(g.forward[dep], st.ID)
		}
	}
	if cycle := g.findCycle(); cycle != nil {
		return nil, forgeerr.DecompositionError(fmt.Sprintf("cyclic dependency: %v", cycle))
	}
	return g, nil
}

// IDs returns all subtask ids in the graph, in input order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Prerequisites returns the prerequisite ids of id.
func (g *Graph) Prerequisites(id string) []string {
	return g.byID[id].Prerequisites
}

// Dependents returns the ids that list id as a prerequisite.
func (g *Graph) Dependents(id string) []string {
	return g.forward[id]
}

// findCycle runs a DFS with a recursion-stack set and returns the
// offending cycle (as a slice of ids) or nil if the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.ids))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range g.byID[id].Prerequisites {
			switch state[dep] {
			case visiting:
				// Found the back-edge; return the cycle slice starting
				// at dep's position on the stack.
				for i, s := range stack {
					if s == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
				return []string{dep, id}
			case unvisited:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.ids {
		if state[id] == unvisited {
			if c := visit(id); c != nil {
				return c
			}
		}
	}
	return nil
}

// Layers computes topological layers via Kahn's algorithm: layer 0
// holds every subtask with no prerequisites; layer k+1 holds every
// remaining subtask whose prerequisites are all in layers <= k.
// Layers are returned in increasing depth order.
func (g *Graph) Layers() [][]string {
	remaining := make(map[string][]string, len(g.ids))
	for _, id := range g.ids {
		remaining[id] = append([]string{}, g.byID[id].Prerequisites...)
	}

	layered := make(map[string]bool, len(g.ids))
	var layers [][]string

	for len(layered) < len(g.ids) {
		var layer []string
		for _, id := range g.ids {
			if layered[id] {
				continue
			}
			ready := true
			for _, dep := range remaining[id] {
				if !layered[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			// Build() guarantees acyclicity, so this should be
			// unreachable; guard against an infinite loop anyway.
			break
		}
		for _, id := range layer {
			layered[id] = true
		}
		layers = append(layers, layer)
	}
	return layers
}
