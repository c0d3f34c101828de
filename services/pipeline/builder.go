// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
)

// Builder compiles declarative pipeline configurations into immutable graphs.
//
// Description:
//
//	The Builder resolves each enabled node descriptor against the Registry,
//	enforces structural rules (duplicate ids, self-dependencies, cycles)
//	and domain rules (source nodes are dependency-free and nothing may
//	depend on them), and emits a Graph plus error/warning lists. Build-time
//	problems never panic or abort the pass: every detectable error is
//	collected so a caller sees the full picture in one round trip.
//
// Thread Safety:
//
//	Safe for concurrent use; the Builder keeps no per-build state.
type Builder struct {
	registry *Registry
}

// NewBuilder creates a Builder backed by the given registry.
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry}
}

// BuildFromConfig compiles a configuration into a validated graph.
//
// Description:
//
//	The pass runs in stages: structural checks on the descriptor list,
//	self-dependency and source-category rules on the survivors, node
//	table and edge list construction (dangling dependency references are
//	dropped with a warning), cycle detection, and a final emptiness check.
//	Disabled descriptors are dropped with a warning and are excluded from
//	the graph entirely.
//
// Inputs:
//   cfg - The declarative configuration.
//
// Outputs:
//   *BuildResult - Success flag, the graph on success, and the full
//     error/warning lists. Callers must check Success before using Graph.
func (b *Builder) BuildFromConfig(cfg *PipelineConfig) *BuildResult {
	res := &BuildResult{}
	if cfg == nil {
		res.Errors = append(res.Errors, "config must not be nil")
		return res
	}
	if cfg.OwnerID == "" {
		res.Errors = append(res.Errors, "config owner_id is required")
	}
	if len(cfg.Nodes) == 0 {
		res.Errors = append(res.Errors, "config contains no nodes")
		return res
	}

	// Stage 1: structural checks, dropping disabled descriptors.
	seen := make(map[string]bool, len(cfg.Nodes))
	var survivors []NodeSpec
	for _, spec := range cfg.Nodes {
		if spec.ID == "" {
			res.Errors = append(res.Errors, "node with empty id")
			continue
		}
		if seen[spec.ID] {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate node id %q", spec.ID))
			continue
		}
		seen[spec.ID] = true
		if !spec.Enabled {
			res.Warnings = append(res.Warnings, fmt.Sprintf("node %q is disabled and was dropped", spec.ID))
			continue
		}
		if !spec.Category.Valid() {
			res.Errors = append(res.Errors, fmt.Sprintf("node %q has invalid category %q", spec.ID, spec.Category))
			continue
		}
		if spec.Ref == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("node %q has no implementation ref", spec.ID))
			continue
		}
		if _, err := b.registry.Get(spec.Ref); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("node %q references unknown work unit %q", spec.ID, spec.Ref))
			continue
		}
		if !b.registry.Enabled(spec.Ref) {
			res.Errors = append(res.Errors, fmt.Sprintf("node %q references disabled work unit %q", spec.ID, spec.Ref))
			continue
		}
		survivors = append(survivors, spec)
	}

	alive := make(map[string]Category, len(survivors))
	for _, spec := range survivors {
		alive[spec.ID] = spec.Category
	}

	// Stage 2+3: self-dependency and source-category rules.
	for _, spec := range survivors {
		for _, dep := range dedupe(spec.DependsOn) {
			if dep == spec.ID {
				res.Errors = append(res.Errors, fmt.Sprintf("node %q depends on itself", spec.ID))
				continue
			}
			if cat, ok := alive[dep]; ok && cat == CategorySource {
				res.Errors = append(res.Errors,
					fmt.Sprintf("node %q depends on source node %q: source outputs flow through the initial state, not edges", spec.ID, dep))
			}
		}
		if spec.Category == CategorySource && len(spec.DependsOn) > 0 {
			res.Errors = append(res.Errors,
				fmt.Sprintf("source node %q must not declare dependencies", spec.ID))
		}
	}

	// Stage 4: node table and edge list. Dangling references are dropped
	// with a warning and the edge is omitted.
	g := &Graph{
		OwnerID: cfg.OwnerID,
		Version: cfg.Version,
		Nodes:   make(map[string]*GraphNode, len(survivors)),
	}
	for _, spec := range survivors {
		var deps []string
		for _, dep := range dedupe(spec.DependsOn) {
			if dep == spec.ID {
				continue
			}
			if _, ok := alive[dep]; !ok {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("node %q depends on unknown node %q; edge omitted", spec.ID, dep))
				continue
			}
			deps = append(deps, dep)
			g.Edges = append(g.Edges, Edge{From: dep, To: spec.ID})
		}
		unit, _ := b.registry.Get(spec.Ref)
		g.Nodes[spec.ID] = &GraphNode{
			ID:        spec.ID,
			Category:  spec.Category,
			Ref:       spec.Ref,
			Optional:  spec.Optional,
			Parallel:  spec.Parallel,
			DependsOn: deps,
			RunConfig: spec.RunConfig,
			Unit:      unit,
		}
		g.order = append(g.order, spec.ID)
		if !spec.Optional {
			g.RequiredIDs = append(g.RequiredIDs, spec.ID)
		}
	}

	// Stage 5: cycle detection over the compiled edge list.
	if len(g.Nodes) > 0 {
		if cycles := DetectCycles(g); len(cycles) > 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("%d cycle(s) detected in graph", len(cycles)))
		}
	}

	// Stage 6: emptiness.
	if len(g.Nodes) == 0 {
		res.Errors = append(res.Errors, "no nodes remain after filtering")
	}

	if len(res.Errors) > 0 {
		return res
	}
	res.Success = true
	res.Graph = g
	return res
}

// ValidateGraph re-validates a graph assembled or mutated outside the
// normal build path.
//
// Description:
//
//	Re-runs the self-dependency, source-category, and cycle checks, adds
//	an edge-endpoint existence check (the structural graph invariant),
//	and reports duplicate edges as warnings.
func ValidateGraph(g *Graph) *ValidationResult {
	res := &ValidationResult{}
	if g == nil {
		res.Errors = append(res.Errors, "graph must not be nil")
		return res
	}

	seenEdges := make(map[Edge]bool, len(g.Edges))
	for _, e := range g.Edges {
		if seenEdges[e] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("duplicate edge %s -> %s", e.From, e.To))
			continue
		}
		seenEdges[e] = true
		if e.From == e.To {
			res.Errors = append(res.Errors, fmt.Sprintf("node %q depends on itself", e.To))
		}
		from, ok := g.Nodes[e.From]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("edge references unknown node %q", e.From))
			continue
		}
		if _, ok := g.Nodes[e.To]; !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("edge references unknown node %q", e.To))
			continue
		}
		if from.Category == CategorySource {
			res.Errors = append(res.Errors,
				fmt.Sprintf("node %q depends on source node %q: source outputs flow through the initial state, not edges", e.To, e.From))
		}
	}
	for _, n := range g.Nodes {
		if n.Category == CategorySource && len(n.DependsOn) > 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("source node %q must not declare dependencies", n.ID))
		}
	}
	if cycles := DetectCycles(g); len(cycles) > 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("%d cycle(s) detected in graph", len(cycles)))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// TopologicalSort returns node ids so every dependency precedes its
// dependents.
//
// Description:
//
//	Kahn's algorithm with a stable tie-break: among simultaneously ready
//	nodes, descriptor insertion order wins. The result is therefore
//	deterministic for a given configuration.
//
// Outputs:
//   []string - Node ids in execution order.
//   error - ErrCycleDetected if the graph is cyclic.
func TopologicalSort(g *Graph) ([]string, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}
	for _, e := range g.Edges {
		indegree[e.To]++
	}

	dependents, _ := adjacency(g)
	order := make([]string, 0, len(g.Nodes))
	remaining := len(g.Nodes)
	done := make(map[string]bool, len(g.Nodes))

	for remaining > 0 {
		progressed := false
		for _, id := range g.order {
			if done[id] || indegree[id] != 0 {
				continue
			}
			done[id] = true
			order = append(order, id)
			remaining--
			progressed = true
			for _, dep := range dependents[id] {
				indegree[dep]--
			}
		}
		if !progressed {
			return nil, ErrCycleDetected
		}
	}
	return order, nil
}

// ExecutionLevels partitions the graph into dependency levels.
//
// Description:
//
//	Level 0 holds every node with zero dependencies; level k holds every
//	node all of whose dependencies sit in levels below k. Levels are the
//	unit of parallel dispatch: the engine never starts level k+1 before
//	level k has fully finished. Within a level, descriptor insertion
//	order is preserved.
//
// Outputs:
//   [][]string - The level partition; every node appears exactly once.
//   error - ErrCycleDetected if the graph is cyclic.
func ExecutionLevels(g *Graph) ([][]string, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	level := make(map[string]int, len(g.Nodes))
	assigned := 0

	for assigned < len(g.Nodes) {
		progressed := false
		for _, id := range g.order {
			if _, ok := level[id]; ok {
				continue
			}
			highest := -1
			ready := true
			for _, dep := range g.Nodes[id].DependsOn {
				l, ok := level[dep]
				if !ok {
					ready = false
					break
				}
				if l > highest {
					highest = l
				}
			}
			if !ready {
				continue
			}
			level[id] = highest + 1
			assigned++
			progressed = true
		}
		if !progressed {
			return nil, ErrCycleDetected
		}
	}

	depth := 0
	for _, l := range level {
		if l+1 > depth {
			depth = l + 1
		}
	}
	levels := make([][]string, depth)
	for _, id := range g.order {
		l := level[id]
		levels[l] = append(levels[l], id)
	}
	return levels, nil
}

// ResolveDependencies returns the direct dependency and reverse-dependency
// maps for a graph.
//
// Outputs:
//   deps - node id -> direct dependency ids (descriptor order).
//   dependents - node id -> direct dependent ids (insertion order).
func ResolveDependencies(g *Graph) (deps map[string][]string, dependents map[string][]string) {
	deps = make(map[string][]string, len(g.Nodes))
	dependents = make(map[string][]string, len(g.Nodes))
	for _, id := range g.order {
		n := g.Nodes[id]
		ds := make([]string, len(n.DependsOn))
		copy(ds, n.DependsOn)
		deps[id] = ds
		if _, ok := dependents[id]; !ok {
			dependents[id] = nil
		}
	}
	for _, id := range g.order {
		for _, dep := range g.Nodes[id].DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}
	return deps, dependents
}

// DetectCycles returns every cycle found in the graph, one node sequence
// per cycle, for diagnostics.
//
// Description:
//
//	Depth-first search tracking a "currently visiting" stack. Each back
//	edge yields the cycle's node sequence, closed with the entry node.
//	An acyclic graph yields an empty result.
func DetectCycles(g *Graph) [][]string {
	if g == nil {
		return nil
	}
	dependents, _ := adjacency(g)

	visited := make(map[string]bool, len(g.Nodes))
	recStack := make(map[string]bool, len(g.Nodes))
	path := make([]string, 0, len(g.Nodes))
	var cycles [][]string

	var dfs func(id string)
	dfs = func(id string) {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, next := range dependents[id] {
			if !visited[next] {
				dfs(next)
			} else if recStack[next] {
				cycleStart := -1
				for i, n := range path {
					if n == next {
						cycleStart = i
						break
					}
				}
				if cycleStart >= 0 {
					cycle := make([]string, 0, len(path)-cycleStart+1)
					cycle = append(cycle, path[cycleStart:]...)
					cycle = append(cycle, next)
					cycles = append(cycles, cycle)
				}
			}
		}

		path = path[:len(path)-1]
		recStack[id] = false
	}

	for _, id := range g.order {
		if !visited[id] {
			dfs(id)
		}
	}
	return cycles
}

// adjacency builds forward (dependents) and backward (dependency) edge maps.
func adjacency(g *Graph) (dependents map[string][]string, deps map[string][]string) {
	dependents = make(map[string][]string, len(g.Nodes))
	deps = make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		dependents[e.From] = append(dependents[e.From], e.To)
		deps[e.To] = append(deps[e.To], e.From)
	}
	return dependents, deps
}

// dedupe collapses duplicate ids preserving first-seen order.
func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
