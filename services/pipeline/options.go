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
	"log/slog"
	"time"
)

// ExecutionMode selects the scheduling strategy.
type ExecutionMode string

const (
	// ModeSequential visits nodes one at a time in topological order.
	ModeSequential ExecutionMode = "sequential"

	// ModeParallel dispatches whole dependency levels concurrently.
	ModeParallel ExecutionMode = "parallel"

	// ModeAdaptive behaves like ModeParallel but degrades to sequential
	// when MaxParallel is 1. This is the default.
	ModeAdaptive ExecutionMode = "adaptive"
)

// Options tunes a single execution.
//
// Description:
//
//	Every field is optional. Nil fields inherit the engine's defaults
//	(see Engine.SetDefaultOptions); per-call options shallow-merge over
//	those defaults field by field. Pointer fields distinguish "unset"
//	from an explicit zero.
type Options struct {
	// Timeout bounds the whole execution. Zero means no overall deadline.
	Timeout *time.Duration `json:"timeout,omitempty"`

	// MaxRetries is the per-node attempt budget beyond the first try.
	MaxRetries *int `json:"maxRetries,omitempty"`

	// RetryDelay is the pause between attempts of the same node.
	RetryDelay *time.Duration `json:"retryDelay,omitempty"`

	// ContinueOnError keeps the run going past a node failure (dependents
	// of the failed node are still skipped). Defaults to true.
	ContinueOnError *bool `json:"continueOnError,omitempty"`

	// FailFast halts all further dispatch at the first node failure,
	// overriding ContinueOnError.
	FailFast *bool `json:"failFast,omitempty"`

	// MaxParallel caps concurrent nodes within a level. Zero means
	// unbounded.
	MaxParallel *int `json:"maxParallel,omitempty"`

	// TrackMemory samples allocator usage into the run metrics.
	TrackMemory *bool `json:"trackMemory,omitempty"`

	// EnableLogging turns per-node structured logging on or off.
	EnableLogging *bool `json:"enableLogging,omitempty"`

	// Logger receives the engine's structured output when logging is
	// enabled. Nil means slog.Default.
	Logger *slog.Logger `json:"-"`

	// Mode selects the strategy. Empty means ModeAdaptive.
	Mode ExecutionMode `json:"mode,omitempty"`
}

// Ptr returns a pointer to v, for concise Options literals.
func Ptr[T any](v T) *T { return &v }

// runOptions is the fully resolved option set an execution runs under.
type runOptions struct {
	timeout       time.Duration
	maxRetries    int
	retryDelay    time.Duration
	continueOnErr bool
	failFast      bool
	maxParallel   int
	trackMemory   bool
	enableLogging bool
	logger        *slog.Logger
	mode          ExecutionMode
}

// defaultRunOptions is the package baseline every engine starts from.
func defaultRunOptions() runOptions {
	return runOptions{
		continueOnErr: true,
		enableLogging: true,
		mode:          ModeAdaptive,
	}
}

// overlay applies o's non-nil fields onto r.
func (o *Options) overlay(r *runOptions) {
	if o == nil {
		return
	}
	if o.Timeout != nil {
		r.timeout = *o.Timeout
	}
	if o.MaxRetries != nil {
		r.maxRetries = *o.MaxRetries
	}
	if o.RetryDelay != nil {
		r.retryDelay = *o.RetryDelay
	}
	if o.ContinueOnError != nil {
		r.continueOnErr = *o.ContinueOnError
	}
	if o.FailFast != nil {
		r.failFast = *o.FailFast
	}
	if o.MaxParallel != nil {
		r.maxParallel = *o.MaxParallel
	}
	if o.TrackMemory != nil {
		r.trackMemory = *o.TrackMemory
	}
	if o.EnableLogging != nil {
		r.enableLogging = *o.EnableLogging
	}
	if o.Logger != nil {
		r.logger = o.Logger
	}
	if o.Mode != "" {
		r.mode = o.Mode
	}
}

// normalize clamps nonsense values after all overlays.
func (r *runOptions) normalize() {
	if r.maxRetries < 0 {
		r.maxRetries = 0
	}
	if r.maxParallel < 0 {
		r.maxParallel = 0
	}
	if r.retryDelay < 0 {
		r.retryDelay = 0
	}
	if r.timeout < 0 {
		r.timeout = 0
	}
	switch r.mode {
	case ModeSequential, ModeParallel, ModeAdaptive:
	default:
		r.mode = ModeAdaptive
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if !r.enableLogging {
		r.logger = slog.New(slog.DiscardHandler)
	}
}
