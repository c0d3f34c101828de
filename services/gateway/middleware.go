// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/Tideflow/pkg/extensions"
)

// authInfoKey is the gin context key the authenticate middleware stores
// the caller identity under.
const authInfoKey = "tideflow.authInfo"

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// throttle gates ingest endpoints behind the server's shared rate
// limiter. Rejected requests get 429 and are counted per source.
func (s *Server) throttle(source string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			ingestTotal.WithLabelValues(source, "throttled").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "ingest rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// authenticate validates the caller's token and requires the given role.
// The default NopAuthProvider accepts every request with every role, so
// the open source build runs unauthenticated.
func (s *Server) authenticate(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := s.auth.Validate(c.Request.Context(), bearerToken(c))
		if err == nil && info != nil && info.HasRole(role) {
			c.Set(authInfoKey, info)
			c.Next()
			return
		}

		userID := "anonymous"
		if info != nil && info.UserID != "" {
			userID = info.UserID
		}
		s.auditEvent(c, extensions.AuditEvent{
			EventType: "auth.denied",
			UserID:    userID,
			Action:    role,
			Outcome:   "blocked",
			Metadata:  map[string]any{"path": c.FullPath()},
		})
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
}

// bearerToken pulls the caller's token from the Authorization header,
// falling back to the token query parameter for webhook sources that
// cannot set headers.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// authInfoFrom returns the identity the authenticate middleware stored,
// or an anonymous identity on unauthenticated routes.
func authInfoFrom(c *gin.Context) *extensions.AuthInfo {
	if v, ok := c.Get(authInfoKey); ok {
		if info, ok := v.(*extensions.AuthInfo); ok {
			return info
		}
	}
	return &extensions.AuthInfo{UserID: "anonymous"}
}

// auditEvent records one audit event. A failing audit sink is logged,
// never surfaced to the caller.
func (s *Server) auditEvent(c *gin.Context, event extensions.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.audit.Log(c.Request.Context(), event); err != nil {
		s.logger.Warn("audit log failed",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()))
	}
}
