// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when token validation fails.
// Enterprise implementations should wrap this error with additional context.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("invalid token format: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful
// token validation.
//
// Required fields (always populated):
//   - UserID: Unique identifier for the caller
//
// Optional fields (may be empty):
//   - Roles: List of roles the caller belongs to
//
// Example:
//
//	info := &AuthInfo{
//	    UserID: "desk-breakout-bot",
//	    Roles:  []string{"ingest", "operator"},
//	}
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated caller.
	// This is the only required field and must never be empty.
	// For webhook sources this is typically the strategy or bot name
	// bound to the API key.
	UserID string

	// Roles contains the caller's role memberships.
	// Common roles: "ingest" (may post signals), "operator" (may cancel
	// executions), "viewer" (read-only access)
	Roles []string
}

// HasRole checks if the caller has a specific role.
//
// This is a convenience method for authorization checks:
//
//	if !authInfo.HasRole("operator") {
//	    return ErrUnauthorized
//	}
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates ingest and operator tokens and returns the
// caller's identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The default NopAuthProvider always returns a valid "local-user" with
// all roles. This allows the local gateway to function without any
// authentication infrastructure, so TradingView alerts and curl requests
// work out of the box.
//
// # Enterprise Implementation
//
// Enterprise versions implement this interface to validate per-strategy
// API keys or tokens issued by an identity provider.
//
// Example enterprise implementation:
//
//	type APIKeyProvider struct {
//	    keys *KeyStore
//	}
//
//	func (p *APIKeyProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
//	    key, err := p.keys.Lookup(ctx, token)
//	    if err != nil {
//	        return nil, fmt.Errorf("unknown API key: %w", extensions.ErrUnauthorized)
//	    }
//	    return &AuthInfo{UserID: key.Owner, Roles: key.Roles}, nil
//	}
type AuthProvider interface {
	// Validate checks if the token is valid and returns the caller's identity.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - token: The authentication token (API key, bearer token, etc.)
	//
	// Returns:
	//   - *AuthInfo: Caller identity information if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures
	//
	// Webhook sources that cannot set headers pass the token as a query
	// parameter instead; the gateway extracts it either way before
	// calling Validate.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider is the default authentication provider for open source.
//
// It always returns a valid local user with all roles, enabling the
// gateway to function without any authentication infrastructure.
//
// Thread-safe: This implementation has no mutable state.
//
// Example:
//
//	provider := &NopAuthProvider{}
//	info, err := provider.Validate(ctx, "any-token")
//	// info.UserID == "local-user"
//	// info.Roles == []string{"ingest", "operator", "viewer"}
//	// err == nil
type NopAuthProvider struct{}

// Validate always returns a valid local user with all roles.
//
// The token parameter is ignored - any value (including empty string)
// results in successful authentication. This is intentional for local
// single-user deployments.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"ingest", "operator", "viewer"},
	}, nil
}

// Compile-time interface compliance check.
var _ AuthProvider = (*NopAuthProvider)(nil)
