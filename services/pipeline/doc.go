// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline turns a declarative list of dependency-linked work units
// into a validated execution plan and runs it with configurable concurrency,
// retry, timeout, and cancellation semantics.
//
// # Overview
//
// A pipeline run flows through three components:
//
//	Registry ──► Builder ──► Engine
//	   │            │           │
//	work units   PipelineConfig Result + Metrics
//	             ──► Graph      (State threaded through every unit)
//
// The Registry maps stable string ids to WorkUnit implementations. The
// Builder resolves a PipelineConfig against the Registry into an immutable,
// acyclic Graph, collecting every structural and domain error in one pass.
// The Engine consumes the Graph plus an optional initial State and drives
// every node to a terminal status under one of three strategies.
//
// # Execution Strategies
//
//   - Sequential: topological order, one node at a time.
//   - Parallel: level-by-level; a level must fully drain before the next
//     starts, which is what guarantees dependencies are resolved.
//   - Adaptive (default): parallel, degrading to sequential when
//     MaxParallel is 1.
//
// # Ordering Guarantees
//
// A node never starts before all of its direct dependencies completed. A
// node whose dependency failed (or was skipped) is recorded as skipped,
// never attempted. Within a level, dispatch follows descriptor insertion
// order but completion order is unconstrained.
//
// # State Contract
//
// Every unit receives the same *State, may read any previously accumulated
// output, and must write its own output under its own node id. Units in
// the same level run concurrently; the accumulator and trace serialize
// their appends internally, and no two nodes share an output key, so unit
// code needs no locking of its own.
//
// # Failure Semantics
//
// Run-time failure never escapes as a Go error: node errors, timeouts, and
// cancellation all land in the Result. The one documented error case on an
// active API is CancelExecution against an execution that already reached
// a terminal status.
package pipeline
