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
	"time"
)

// NodeResult is the per-node outcome recorded in the run metrics.
type NodeResult struct {
	NodeID    string        `json:"nodeId"`
	Status    NodeStatus    `json:"status"`
	StartedAt time.Time     `json:"startedAt,omitempty"`
	EndedAt   time.Time     `json:"endedAt,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`

	// Retries is the number of re-invocations actually consumed, not
	// counting the first attempt.
	Retries int `json:"retries"`

	Error string `json:"error,omitempty"`
}

// Metrics aggregates what happened during one execution.
type Metrics struct {
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`

	// NodesExecuted counts nodes that were attempted (completed + failed).
	NodesExecuted  int `json:"nodesExecuted"`
	NodesSucceeded int `json:"nodesSucceeded"`
	NodesFailed    int `json:"nodesFailed"`
	NodesSkipped   int `json:"nodesSkipped"`

	// NodeResults maps node id to its outcome. Every graph node appears
	// exactly once: attempted nodes with timings, the rest as skipped.
	NodeResults map[string]NodeResult `json:"nodeResults"`

	// ParallelLevels counts levels where more than one node was actually
	// dispatched concurrently.
	ParallelLevels int `json:"parallelLevels"`

	// MemAllocBytes is a heap sample taken at run end when TrackMemory
	// was set. Zero otherwise.
	MemAllocBytes uint64 `json:"memAllocBytes,omitempty"`
}

// Result is what every execution returns, regardless of outcome.
//
// Description:
//
//	Run-time failure never surfaces as a Go error from the engine's
//	execute calls: node failures, timeout, and cancellation are all
//	captured here. Callers branch on Status or Success.
type Result struct {
	ExecutionID string          `json:"executionId"`
	Success     bool            `json:"success"`
	Status      ExecutionStatus `json:"status"`

	// FinalState is the state after the run. Nil when the run was
	// cancelled before any node executed.
	FinalState *State `json:"finalState,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Metrics  *Metrics `json:"metrics,omitempty"`
}
