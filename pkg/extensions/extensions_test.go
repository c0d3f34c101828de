// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"testing"
	"time"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	// Verify all fields are set to non-nil nop implementations
	if opts.AuthProvider == nil {
		t.Error("DefaultOptions().AuthProvider should not be nil")
	}
	if opts.AuditLogger == nil {
		t.Error("DefaultOptions().AuditLogger should not be nil")
	}

	// Verify they are the correct nop types
	if _, ok := opts.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("DefaultOptions().AuthProvider should be *NopAuthProvider")
	}
	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("DefaultOptions().AuditLogger should be *NopAuditLogger")
	}
}

func TestServiceOptions_WithAuth(t *testing.T) {
	original := DefaultOptions()
	customAuth := &mockAuthProvider{userID: "custom-user"}

	// WithAuth should return a new options with the custom auth provider
	newOpts := original.WithAuth(customAuth)

	// New options should have the custom provider
	if newOpts.AuthProvider != customAuth {
		t.Error("WithAuth should set the custom AuthProvider")
	}

	// Original should be unchanged (immutable copy)
	if _, ok := original.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("Original options should be unchanged after WithAuth")
	}

	// Other fields should be preserved
	if newOpts.AuditLogger == nil {
		t.Error("WithAuth should preserve AuditLogger")
	}
}

func TestServiceOptions_WithAudit(t *testing.T) {
	original := DefaultOptions()
	customAudit := &mockAuditLogger{}

	newOpts := original.WithAudit(customAudit)

	if newOpts.AuditLogger != customAudit {
		t.Error("WithAudit should set the custom AuditLogger")
	}

	// Original should be unchanged
	if _, ok := original.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("Original options should be unchanged after WithAudit")
	}
}

func TestServiceOptions_Chaining(t *testing.T) {
	customAuth := &mockAuthProvider{userID: "chained-user"}
	customAudit := &mockAuditLogger{}

	opts := DefaultOptions().
		WithAuth(customAuth).
		WithAudit(customAudit)

	if opts.AuthProvider != customAuth {
		t.Error("Chained WithAuth should set AuthProvider")
	}
	if opts.AuditLogger != customAudit {
		t.Error("Chained WithAudit should set AuditLogger")
	}
}

// ============================================================================
// NopAuthProvider Tests
// ============================================================================

func TestNopAuthProvider_Validate(t *testing.T) {
	provider := &NopAuthProvider{}

	// Should accept any token, including an empty one
	for _, token := range []string{"", "any-token", "ak_live_abc123"} {
		info, err := provider.Validate(context.Background(), token)
		if err != nil {
			t.Errorf("Validate(%q) returned error: %v", token, err)
		}
		if info == nil {
			t.Fatalf("Validate(%q) returned nil AuthInfo", token)
		}
		if info.UserID != "local-user" {
			t.Errorf("Validate(%q).UserID = %q, want local-user", token, info.UserID)
		}
	}
}

func TestNopAuthProvider_Roles(t *testing.T) {
	provider := &NopAuthProvider{}

	info, err := provider.Validate(context.Background(), "")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	// The local user carries every role so nothing is gated
	for _, role := range []string{"ingest", "operator", "viewer"} {
		if !info.HasRole(role) {
			t.Errorf("local-user should have role %q", role)
		}
	}
	if info.HasRole("missing") {
		t.Error("HasRole should return false for an absent role")
	}
}

// ============================================================================
// NopAuditLogger Tests
// ============================================================================

func TestNopAuditLogger_Log(t *testing.T) {
	logger := &NopAuditLogger{}

	err := logger.Log(context.Background(), AuditEvent{
		EventType:    "ingest.accepted",
		Timestamp:    time.Now().UTC(),
		UserID:       "local-user",
		Action:       "create",
		ResourceType: "signal",
		ResourceID:   "sig-1",
		Outcome:      "success",
	})
	if err != nil {
		t.Errorf("Log returned error: %v", err)
	}
}

func TestNopAuditLogger_Flush(t *testing.T) {
	logger := &NopAuditLogger{}

	if err := logger.Flush(context.Background()); err != nil {
		t.Errorf("Flush returned error: %v", err)
	}
}

// ============================================================================
// Test Mocks
// ============================================================================

// mockAuthProvider is a test implementation of AuthProvider
type mockAuthProvider struct {
	userID string
}

func (p *mockAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	return &AuthInfo{UserID: p.userID}, nil
}

// mockAuditLogger is a test implementation of AuditLogger
type mockAuditLogger struct {
	events []AuditEvent
}

func (l *mockAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	l.events = append(l.events, event)
	return nil
}

func (l *mockAuditLogger) Flush(ctx context.Context) error {
	return nil
}
