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

// GraphNode is a resolved node: the descriptor fields plus the bound unit.
type GraphNode struct {
	// ID is the node id, unique within the graph.
	ID string

	// Category is the node's validated category.
	Category Category

	// Ref is the Registry key the node was resolved from.
	Ref string

	// Optional downgrades this node's failure in overall success bookkeeping.
	Optional bool

	// Parallel is the advisory concurrency hint from the descriptor.
	Parallel bool

	// DependsOn holds the deduplicated upstream node ids. Dangling
	// references are removed at build time.
	DependsOn []string

	// RunConfig is the descriptor's free-form per-node configuration.
	RunConfig map[string]any

	// Unit is the bound work unit implementation.
	Unit WorkUnit
}

// Edge is a dependency relationship: From must complete before To starts.
type Edge struct {
	// From is the dependency node id.
	From string `json:"from"`

	// To is the dependent node id.
	To string `json:"to"`
}

// Graph is the validated, immutable output of the Builder.
//
// Description:
//
//	A Graph holds the resolved node table, the deduplicated edge list, and
//	the identity of the configuration it was compiled from. Graphs are
//	acyclic by construction: every edge endpoint exists in the node table
//	and no enabled descriptor is missing from it.
//
// Thread Safety:
//
//	Read-only after construction; safe for concurrent reads by any number
//	of executions. The Builder never mutates a graph it has returned.
type Graph struct {
	// OwnerID identifies the originating configuration.
	OwnerID string

	// Version is the originating configuration's revision marker.
	Version string

	// Nodes maps node id to the resolved node.
	Nodes map[string]*GraphNode

	// Edges is the deduplicated dependency edge list.
	Edges []Edge

	// RequiredIDs lists nodes whose failure fails the whole run.
	RequiredIDs []string

	// order preserves descriptor insertion order for stable tie-breaks.
	order []string
}

// Node returns the resolved node for id.
//
// Outputs:
//   *GraphNode - The node, or nil if absent.
//   bool - True if the node exists.
func (g *Graph) Node(id string) (*GraphNode, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.Nodes) }

// Order returns node ids in descriptor insertion order.
//
// Description:
//
//	The returned slice is a copy; callers may not reorder the graph's
//	internal tie-break sequence.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// BuildResult is the outcome of compiling a configuration into a graph.
//
// Description:
//
//	Callers must check Success before using Graph. Errors are fatal
//	build problems; Warnings record non-fatal issues (disabled nodes,
//	dangling dependency references) that shaped the graph.
type BuildResult struct {
	Success  bool     `json:"success"`
	Graph    *Graph   `json:"-"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidationResult is the outcome of re-validating an existing graph.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
