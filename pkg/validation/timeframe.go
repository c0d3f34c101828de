// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"strings"
)

// canonicalTimeframes is the closed set of bar intervals the pipeline
// understands. Keys are the canonical form used in queries and tags.
var canonicalTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true,
	"1d": true, "1w": true,
}

// tradingViewIntervals maps TradingView's interval notation (bare minutes,
// "D", "W") onto the canonical timeframe set.
var tradingViewIntervals = map[string]string{
	"1": "1m", "3": "3m", "5": "5m", "15": "15m", "30": "30m",
	"60": "1h", "120": "2h", "240": "4h",
	"D": "1d", "1D": "1d",
	"W": "1w", "1W": "1w",
}

// ValidateTimeframe checks that a timeframe is one of the canonical bar
// intervals (1m, 3m, 5m, 15m, 30m, 1h, 2h, 4h, 1d, 1w).
func ValidateTimeframe(tf string) error {
	if tf == "" {
		return fmt.Errorf("timeframe cannot be empty")
	}
	if !canonicalTimeframes[tf] {
		return fmt.Errorf("invalid timeframe %q (must be one of 1m..1w)", tf)
	}
	return nil
}

// NormalizeTimeframe converts a timeframe in either canonical or
// TradingView interval notation to the canonical form.
//
// Example:
//
//	tf, err := validation.NormalizeTimeframe("60") // "1h"
func NormalizeTimeframe(tf string) (string, error) {
	trimmed := strings.TrimSpace(tf)
	if canonicalTimeframes[strings.ToLower(trimmed)] {
		return strings.ToLower(trimmed), nil
	}
	if canonical, ok := tradingViewIntervals[strings.ToUpper(trimmed)]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("unrecognized timeframe %q", tf)
}
