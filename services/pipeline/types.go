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
	"context"
	"time"
)

// DefaultUnitTimeout is applied to any work unit that reports a zero timeout.
const DefaultUnitTimeout = 30 * time.Second

// Category classifies a work unit within the pipeline.
//
// Description:
//
//	Categories form a small closed set. Two of them carry structural rules
//	enforced by the Builder: "source" units must declare zero dependencies,
//	and no unit of any category may depend on a "source" unit. Sources feed
//	the pipeline through the initial state, not through graph edges.
type Category string

const (
	// CategorySource ingests the raw signal. Dependency-free by rule.
	CategorySource Category = "source"

	// CategoryRequired provides context later stages need (e.g. market data).
	CategoryRequired Category = "required"

	// CategoryEnrichment derives features from prior outputs.
	CategoryEnrichment Category = "enrichment"

	// CategoryScoring turns accumulated features into scores.
	CategoryScoring Category = "scoring"

	// CategorySink persists or publishes the final verdict.
	CategorySink Category = "sink"
)

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategorySource, CategoryRequired, CategoryEnrichment, CategoryScoring, CategorySink:
		return true
	}
	return false
}

// WorkUnit is a single pluggable step in the pipeline.
//
// Description:
//
//	WorkUnit is the only contract the engine consumes. Each unit has a
//	stable string id, a category, and implements Execute to read prior
//	outputs from the state and write exactly one output under its own id.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. Execute may be called
//	concurrently with other units in the same level.
type WorkUnit interface {
	// ID returns the stable identifier for this unit.
	//
	// Outputs:
	//   string - Unique unit id (e.g. "tech_indicators").
	ID() string

	// Category returns the unit's category.
	//
	// Outputs:
	//   Category - One of the closed category set.
	Category() Category

	// Dependencies returns the unit's suggested upstream unit ids.
	//
	// Outputs:
	//   []string - Advisory defaults; graph wiring comes from the config.
	Dependencies() []string

	// ParallelSafe reports whether the unit may share a level with siblings.
	//
	// Outputs:
	//   bool - Advisory hint; the scheduler never relies on it for safety.
	ParallelSafe() bool

	// Timeout returns the per-invocation time budget.
	//
	// Outputs:
	//   time.Duration - Zero means DefaultUnitTimeout applies.
	Timeout() time.Duration

	// Execute runs the unit against the shared state.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout.
	//   st - The execution state; prior outputs are readable by unit id.
	//
	// Outputs:
	//   *State - The same state, with this unit's output appended.
	//   error - Non-nil on failure.
	Execute(ctx context.Context, st *State) (*State, error)
}

// BaseUnit provides the descriptor boilerplate for WorkUnit implementations.
//
// Description:
//
//	Concrete units embed BaseUnit and implement only Execute. Fields are
//	set once at construction and never mutated afterwards.
type BaseUnit struct {
	UnitID           string
	UnitCategory     Category
	UnitDependencies []string
	UnitParallel     bool
	UnitTimeout      time.Duration
}

// ID returns the unit id.
func (b *BaseUnit) ID() string { return b.UnitID }

// Category returns the unit category.
func (b *BaseUnit) Category() Category { return b.UnitCategory }

// Dependencies returns the suggested upstream unit ids.
func (b *BaseUnit) Dependencies() []string { return b.UnitDependencies }

// ParallelSafe reports the advisory concurrency hint.
func (b *BaseUnit) ParallelSafe() bool { return b.UnitParallel }

// Timeout returns the per-invocation budget, zero meaning the default.
func (b *BaseUnit) Timeout() time.Duration { return b.UnitTimeout }

// UnitFunc is the signature for function-backed work units.
type UnitFunc func(ctx context.Context, st *State) (*State, error)

// FuncUnit adapts a plain function to the WorkUnit interface.
type FuncUnit struct {
	BaseUnit
	fn UnitFunc
}

// NewFuncUnit creates a function-backed unit.
//
// Inputs:
//   id - Unique unit id.
//   category - Unit category.
//   fn - The unit body.
//
// Outputs:
//   *FuncUnit - The adapted unit, parallel-safe by default.
func NewFuncUnit(id string, category Category, fn UnitFunc) *FuncUnit {
	return &FuncUnit{
		BaseUnit: BaseUnit{
			UnitID:       id,
			UnitCategory: category,
			UnitParallel: true,
		},
		fn: fn,
	}
}

// WithDependencies sets the suggested upstream ids and returns the unit.
func (f *FuncUnit) WithDependencies(deps ...string) *FuncUnit {
	f.UnitDependencies = deps
	return f
}

// WithTimeout sets the per-invocation budget and returns the unit.
func (f *FuncUnit) WithTimeout(d time.Duration) *FuncUnit {
	f.UnitTimeout = d
	return f
}

// WithParallel sets the concurrency hint and returns the unit.
func (f *FuncUnit) WithParallel(p bool) *FuncUnit {
	f.UnitParallel = p
	return f
}

// Execute invokes the wrapped function.
func (f *FuncUnit) Execute(ctx context.Context, st *State) (*State, error) {
	return f.fn(ctx, st)
}

// NodeSpec is one node descriptor in a pipeline configuration.
//
// Description:
//
//	NodeSpec is declarative input to the Builder: it names a work unit
//	registration (Ref), places it in the graph (DependsOn), and carries
//	run-scoped configuration the unit may read at execution time.
type NodeSpec struct {
	// ID is the node's unique id within the graph.
	ID string `yaml:"id" json:"id"`

	// Category must be a member of the closed category set.
	Category Category `yaml:"category" json:"category"`

	// Ref is the Registry key of the implementing work unit.
	Ref string `yaml:"ref" json:"ref"`

	// Enabled includes the node in the built graph. Disabled nodes are
	// dropped with a warning.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Optional downgrades the node's failure: it is still recorded and
	// counted, but does not flip the run's overall success.
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty"`

	// Parallel is an advisory concurrency hint.
	Parallel bool `yaml:"parallel,omitempty" json:"parallel,omitempty"`

	// DependsOn lists upstream node ids. Duplicates are collapsed; order
	// carries no meaning.
	DependsOn []string `yaml:"depends_on,omitempty" json:"dependsOn,omitempty"`

	// RunConfig is free-form per-node configuration, visible to the unit
	// through the state.
	RunConfig map[string]any `yaml:"run_config,omitempty" json:"runConfig,omitempty"`
}

// PipelineConfig is the declarative input consumed by the Builder.
type PipelineConfig struct {
	// OwnerID identifies the configuration owner (strategy, tenant, test).
	OwnerID string `yaml:"owner_id" json:"ownerId"`

	// Version is an optional config revision marker.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Nodes is the ordered node descriptor list. Descriptor order breaks
	// ties in the topological sort, so it is semantically load-bearing.
	Nodes []NodeSpec `yaml:"nodes" json:"nodes"`
}

// NodeStatus represents the execution status of a single node.
type NodeStatus string

const (
	// NodeStatusPending indicates the node hasn't started.
	NodeStatusPending NodeStatus = "pending"

	// NodeStatusRunning indicates the node is executing.
	NodeStatusRunning NodeStatus = "running"

	// NodeStatusCompleted indicates successful completion.
	NodeStatusCompleted NodeStatus = "completed"

	// NodeStatusFailed indicates the node failed after exhausting retries.
	NodeStatusFailed NodeStatus = "failed"

	// NodeStatusSkipped indicates the node was never attempted because a
	// dependency failed or the run was cancelled or timed out first.
	NodeStatusSkipped NodeStatus = "skipped"
)

// ExecutionStatus represents the lifecycle state of a whole execution.
type ExecutionStatus string

const (
	// ExecutionPending indicates the execution is registered but not started.
	ExecutionPending ExecutionStatus = "pending"

	// ExecutionRunning indicates nodes are being dispatched.
	ExecutionRunning ExecutionStatus = "running"

	// ExecutionCompleted indicates every reachable node finished.
	ExecutionCompleted ExecutionStatus = "completed"

	// ExecutionFailed indicates the run finished with a non-optional failure
	// or exceeded its deadline.
	ExecutionFailed ExecutionStatus = "failed"

	// ExecutionCancelled indicates the run was cancelled mid-flight.
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}
