// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// AuditEvent represents a security-relevant event for compliance logging.
//
// This struct captures the essential information needed for security
// audits, compliance reporting, and incident investigation of trading
// activity.
//
// # Event Categories
//
// Events are categorized by type for filtering and alerting:
//   - Ingest: "ingest.accepted", "ingest.rejected"
//   - Auth: "auth.denied"
//   - Execution: "execution.cancelled"
//
// # Compliance Fields
//
// For regulatory reporting, always populate:
//   - UserID: who submitted or cancelled the signal
//   - Timestamp: required for audit trail integrity
//   - ResourceType/ResourceID: required for trade decision lineage
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "ingest.accepted",
//	    Timestamp:    time.Now().UTC(),
//	    UserID:       authInfo.UserID,
//	    Action:       "create",
//	    ResourceType: "signal",
//	    ResourceID:   sig.ID,
//	    Outcome:      "success",
//	    Metadata: map[string]any{
//	        "symbol": sig.Symbol,
//	        "source": sig.Source,
//	    },
//	}
type AuditEvent struct {
	// EventType categorizes the event for filtering and alerting.
	// Format: "category.action" (e.g., "ingest.accepted")
	EventType string

	// Timestamp is when the event occurred (always use UTC).
	// If zero, implementations should set to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action.
	// Use "system" for automated actions, "anonymous" if unknown.
	UserID string

	// Action describes what operation was attempted.
	// Common values: "create", "cancel", "read"
	Action string

	// ResourceType is the category of resource involved.
	// Examples: "signal", "execution", "verdict"
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	// Examples: a signal ID or an execution ID.
	ResourceID string

	// Outcome indicates the result of the action.
	// Values: "success", "failure", "blocked", "error"
	Outcome string

	// Metadata holds additional event-specific data.
	//
	// Common metadata keys:
	//   - "error": error message if Outcome is "failure" or "error"
	//   - "symbol": ticker the signal targets
	//   - "source": ingest source ("tradingview", "generic")
	//   - "reason": operator-supplied cancellation reason
	Metadata map[string]any
}

// AuditLogger records security-relevant events for compliance and analysis.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// The Log method should be non-blocking or have reasonable timeouts to
// avoid adding latency to the signal ingest path.
//
// # Open Source Behavior
//
// The default NopAuditLogger discards all events. This is appropriate for
// local single-user deployments where audit trails aren't required.
//
// # Enterprise Implementation
//
// Enterprise versions send events to SIEM systems or compliance
// databases.
//
// Example enterprise implementation:
//
//	type SIEMAuditLogger struct {
//	    client *siem.Client
//	    index  string
//	}
//
//	func (l *SIEMAuditLogger) Log(ctx context.Context, event AuditEvent) error {
//	    if event.Timestamp.IsZero() {
//	        event.Timestamp = time.Now().UTC()
//	    }
//	    return l.client.Index(ctx, l.index, event)
//	}
type AuditLogger interface {
	// Log records a security-relevant event.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - event: The audit event to record
	//
	// Returns:
	//   - error: nil on success, error if logging failed
	//
	// Implementations should:
	//   1. Set Timestamp if zero
	//   2. Validate required fields (EventType, UserID)
	//   3. Persist or transmit the event
	//   4. Return quickly (use async if needed)
	Log(ctx context.Context, event AuditEvent) error

	// Flush ensures all buffered events are persisted.
	//
	// Call this before application shutdown to prevent event loss.
	// For sync implementations, this may be a no-op.
	Flush(ctx context.Context) error
}

// NopAuditLogger is the default audit logger for open source.
//
// It discards all events without recording them. This is appropriate
// for local single-user deployments where audit trails aren't required.
//
// Thread-safe: This implementation has no mutable state.
type NopAuditLogger struct{}

// Log discards the event without recording it.
//
// Always returns nil (success) regardless of event content.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Flush is a no-op since nothing is buffered.
//
// Always returns nil (success).
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// Compile-time interface compliance check.
var _ AuditLogger = (*NopAuditLogger)(nil)
