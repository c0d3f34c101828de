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
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline package.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilGraph is returned when execution is requested without a graph.
	ErrNilGraph = errors.New("graph must not be nil")

	// ErrNilUnit is returned when a nil work unit is registered.
	ErrNilUnit = errors.New("work unit must not be nil")

	// ErrEmptyUnitID is returned when a work unit is registered without an id.
	ErrEmptyUnitID = errors.New("work unit id must not be empty")

	// ErrDuplicateUnit is returned when registering an id that already exists.
	ErrDuplicateUnit = errors.New("work unit with this id already registered")

	// ErrUnitNotFound is returned when a referenced work unit doesn't exist.
	ErrUnitNotFound = errors.New("work unit not found")

	// ErrCycleDetected is returned when the graph contains a cycle.
	ErrCycleDetected = errors.New("cycle detected in graph")

	// ErrNoNodes is returned when a config yields an empty graph.
	ErrNoNodes = errors.New("graph contains no nodes")

	// ErrNoProgress is returned when no nodes can make progress (deadlock).
	ErrNoProgress = errors.New("no progress possible: deadlock or missing dependency")

	// ErrNodeTimeout is returned when a node exceeds its timeout.
	ErrNodeTimeout = errors.New("node execution timed out")

	// ErrNodeFailed is returned when a node fails during execution.
	ErrNodeFailed = errors.New("node execution failed")

	// ErrExecutionNotFound is returned when an execution id is unknown.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNotCancellable is returned when cancelling an execution that has
	// already reached a terminal status.
	ErrNotCancellable = errors.New("execution is not cancellable")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// NodeError wraps an error with the node that caused it.
type NodeError struct {
	NodeID string
	Err    error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError creates a NodeError.
func NewNodeError(nodeID string, err error) *NodeError {
	return &NodeError{
		NodeID: nodeID,
		Err:    err,
	}
}

// CycleError provides details about a detected cycle.
type CycleError struct {
	Path []string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %v", e.Path)
}

// Unwrap returns ErrCycleDetected so callers can match with errors.Is.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// NewCycleError creates a CycleError.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}
