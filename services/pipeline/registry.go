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
	"sync"
)

// Registry is the lookup table from unit id to work unit implementation.
//
// Description:
//
//	Pure bookkeeping: the Registry never constructs, initializes, or
//	executes anything. Units are expected to be stateless or
//	self-initializing. Disabling a unit hides it from ListEnabled and
//	from graph resolution without removing the registration.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Callers are still expected
//	to finish registration before concurrent executions begin.
type Registry struct {
	mu    sync.RWMutex
	units map[string]*registration
	order []string
}

type registration struct {
	unit    WorkUnit
	enabled bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*registration)}
}

// Register adds a unit under its id.
//
// Outputs:
//   error - ErrNilUnit, ErrEmptyUnitID, or ErrDuplicateUnit on misuse.
func (r *Registry) Register(unit WorkUnit) error {
	if unit == nil {
		return ErrNilUnit
	}
	id := unit.ID()
	if id == "" {
		return ErrEmptyUnitID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.units[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateUnit, id)
	}
	r.units[id] = &registration{unit: unit, enabled: true}
	r.order = append(r.order, id)
	return nil
}

// Get returns the unit registered under id.
//
// Outputs:
//   WorkUnit - The implementation; nil when not found.
//   error - ErrUnitNotFound when the id is unknown.
func (r *Registry) Get(id string) (WorkUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnitNotFound, id)
	}
	return reg.unit, nil
}

// Enabled reports whether id is registered and currently enabled.
func (r *Registry) Enabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.units[id]
	return ok && reg.enabled
}

// ListByCategory returns registered units of the given category, in
// registration order.
func (r *Registry) ListByCategory(cat Category) []WorkUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WorkUnit
	for _, id := range r.order {
		if reg := r.units[id]; reg.unit.Category() == cat {
			out = append(out, reg.unit)
		}
	}
	return out
}

// ListEnabled returns all enabled units in registration order.
func (r *Registry) ListEnabled() []WorkUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WorkUnit
	for _, id := range r.order {
		if reg := r.units[id]; reg.enabled {
			out = append(out, reg.unit)
		}
	}
	return out
}

// Enable marks id enabled. Returns false for an unknown id.
func (r *Registry) Enable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.units[id]
	if !ok {
		return false
	}
	reg.enabled = true
	return true
}

// Disable marks id disabled without removing it. Returns false for an
// unknown id.
func (r *Registry) Disable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.units[id]
	if !ok {
		return false
	}
	reg.enabled = false
	return true
}

// DiscoveryReport summarizes an AutoDiscover call.
type DiscoveryReport struct {
	// Discovered is the number of units offered to the registry.
	Discovered int `json:"discovered"`

	// Registered is the number accepted.
	Registered int `json:"registered"`

	// Failed is the number rejected.
	Failed int `json:"failed"`

	// Failures holds one human-readable reason per rejected unit.
	Failures []string `json:"failures,omitempty"`
}

// AutoDiscover bulk-registers a built-in unit set.
//
// Description:
//
//	Each unit is registered independently; a failure (nil unit, duplicate
//	id) is recorded in the report and does not abort the rest of the
//	discovery. Callers typically pass units.Builtins(...).
//
// Inputs:
//   units - The built-in work unit set.
//
// Outputs:
//   DiscoveryReport - Counts plus per-failure reasons.
func (r *Registry) AutoDiscover(units ...WorkUnit) DiscoveryReport {
	report := DiscoveryReport{Discovered: len(units)}
	for i, u := range units {
		if err := r.Register(u); err != nil {
			report.Failed++
			name := fmt.Sprintf("unit[%d]", i)
			if u != nil {
				name = u.ID()
			}
			report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		report.Registered++
	}
	return report
}
