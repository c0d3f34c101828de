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
	"sync"

	"github.com/AleutianAI/Tideflow/services/signals"
)

// Hub fans verdicts out to stream subscribers, keyed by pipeline state
// id.
//
// Description:
//
//	The notify_stream unit publishes under the state id it runs with;
//	websocket handlers resolve an execution id to its state and
//	subscribe under the same key. Slow subscribers are dropped-from,
//	not waited-for: a full channel loses that event rather than
//	stalling the pipeline.
//
// Thread Safety: safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan *signals.Verdict]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[chan *signals.Verdict]struct{}),
		logger: logger,
	}
}

// Publish delivers a verdict to every subscriber of the state id.
// It never blocks.
func (h *Hub) Publish(stateID string, v *signals.Verdict) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[stateID] {
		select {
		case ch <- v:
		default:
			h.logger.Warn("verdict stream subscriber lagging, event dropped",
				slog.String("state_id", stateID))
		}
	}
}

// Subscribe registers for verdicts published under the state id. The
// returned cancel func must be called to release the subscription.
func (h *Hub) Subscribe(stateID string) (<-chan *signals.Verdict, func()) {
	ch := make(chan *signals.Verdict, 8)

	h.mu.Lock()
	if h.subs[stateID] == nil {
		h.subs[stateID] = make(map[chan *signals.Verdict]struct{})
	}
	h.subs[stateID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[stateID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, stateID)
			}
		}
	}
	return ch, cancel
}

// Subscribers reports how many subscriptions a state id currently has.
func (h *Hub) Subscribers(stateID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[stateID])
}
