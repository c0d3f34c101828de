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
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConfigRef identifies the configuration a state was executed against.
type ConfigRef struct {
	OwnerID string `json:"ownerId"`
	Version string `json:"version,omitempty"`
}

// TraceEntry records one node attempt.
//
// Description:
//
//	One entry is appended per attempt: a node retried twice leaves three
//	entries. The retry count reported in metrics is tracked separately,
//	so consumers never need to reconstruct it from the trace.
type TraceEntry struct {
	NodeID    string        `json:"nodeId"`
	Category  Category      `json:"category"`
	Attempt   int           `json:"attempt"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Status    NodeStatus    `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// StateMeta is the metadata block carried by every state.
type StateMeta struct {
	StartedAt time.Time `json:"startedAt"`
}

// State is the mutable value threaded through every node invocation.
//
// Description:
//
//	State carries the raw input payload, an ordered accumulator of per-node
//	outputs, the originating configuration reference, each node's run-scoped
//	configuration, and an append-only execution trace. It is created once
//	per execution (or supplied by the caller) and mutated in place; only the
//	accumulator and trace grow.
//
// Thread Safety:
//
//	Owned by exactly one execution. Within that execution, nodes in the
//	same level append concurrently: every node writes only its own output
//	key, and all accumulator/trace mutation goes through the internal
//	mutex, so no caller-side locking is needed.
type State struct {
	// ID identifies the state (and by extension the signal being processed).
	ID string `json:"id"`

	// Raw is the arbitrary initial payload, e.g. a normalized signal.
	Raw any `json:"raw,omitempty"`

	// Config references the graph's originating configuration.
	Config ConfigRef `json:"config"`

	// Meta holds the start timestamp.
	Meta StateMeta `json:"meta"`

	mu         sync.RWMutex
	outputs    map[string]any
	outputKeys []string
	runConfigs map[string]map[string]any
	trace      []TraceEntry
}

// NewState creates a state with a fresh id and the given raw payload.
func NewState(raw any) *State {
	return &State{
		ID:         uuid.NewString(),
		Raw:        raw,
		Meta:       StateMeta{StartedAt: time.Now()},
		outputs:    make(map[string]any),
		runConfigs: make(map[string]map[string]any),
	}
}

// init backfills internals on caller-constructed states.
func (s *State) init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Meta.StartedAt.IsZero() {
		s.Meta.StartedAt = time.Now()
	}
	if s.outputs == nil {
		s.outputs = make(map[string]any)
	}
	if s.runConfigs == nil {
		s.runConfigs = make(map[string]map[string]any)
	}
}

// SetOutput records a node's output under its id.
//
// Description:
//
//	First write for a key records insertion order; subsequent writes for
//	the same key (a retry that partially wrote) replace the value without
//	duplicating the key.
func (s *State) SetOutput(nodeID string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.outputs[nodeID]; !seen {
		s.outputKeys = append(s.outputKeys, nodeID)
	}
	s.outputs[nodeID] = v
}

// Output returns the accumulated output for a node id.
func (s *State) Output(nodeID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.outputs[nodeID]
	return v, ok
}

// OutputKeys returns node ids in output insertion order.
func (s *State) OutputKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.outputKeys))
	copy(out, s.outputKeys)
	return out
}

// Outputs returns a snapshot of the accumulator in insertion order.
func (s *State) Outputs() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// setRunConfigs installs the per-node run configuration table. Called by
// the engine before dispatch; units read, never write.
func (s *State) setRunConfigs(cfgs map[string]map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runConfigs = cfgs
}

// RunConfig returns the run-scoped configuration for a node id.
//
// Outputs:
//   map[string]any - The node's RunConfig from the descriptor; nil if none.
func (s *State) RunConfig(nodeID string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runConfigs[nodeID]
}

// AppendTrace appends an attempt entry and returns its index.
func (s *State) AppendTrace(e TraceEntry) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, e)
	return len(s.trace) - 1
}

// UpdateTrace applies fn to the entry at index i under the state lock.
func (s *State) UpdateTrace(i int, fn func(*TraceEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.trace) {
		return
	}
	fn(&s.trace[i])
}

// Trace returns a copy of the execution trace.
func (s *State) Trace() []TraceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TraceEntry, len(s.trace))
	copy(out, s.trace)
	return out
}

// TraceLen returns the number of trace entries.
func (s *State) TraceLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trace)
}

// stateView is the wire shape of a State snapshot.
type stateView struct {
	ID          string         `json:"id"`
	Raw         any            `json:"raw,omitempty"`
	Config      ConfigRef      `json:"config"`
	Meta        StateMeta      `json:"meta"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	OutputOrder []string       `json:"outputOrder,omitempty"`
	Trace       []TraceEntry   `json:"trace,omitempty"`
}

// MarshalJSON renders a consistent snapshot under the state lock.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	view := stateView{
		ID:          s.ID,
		Raw:         s.Raw,
		Config:      s.Config,
		Meta:        s.Meta,
		Outputs:     make(map[string]any, len(s.outputs)),
		OutputOrder: make([]string, len(s.outputKeys)),
		Trace:       make([]TraceEntry, len(s.trace)),
	}
	for k, v := range s.outputs {
		view.Outputs[k] = v
	}
	copy(view.OutputOrder, s.outputKeys)
	copy(view.Trace, s.trace)
	s.mu.RUnlock()
	return json.Marshal(view)
}
