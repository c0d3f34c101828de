// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tideflow runs the trading signal pipeline: a gateway server
// ingesting webhooks, a one-shot scorer for ad-hoc signals, and tooling
// around pipeline wiring files.
//
// # Usage
//
//	# Start the gateway
//	tideflow serve --pipeline pipeline.yaml
//
//	# Score a single signal from the command line
//	tideflow run AAPL --side buy --price 190.5 --timeframe 1h
//
//	# Check a wiring file before rollout
//	tideflow validate pipeline.yaml
//
// # Environment Variables
//
//   - TIDEFLOW_ADDR: gateway listen address override
//   - TIDEFLOW_INFLUX_TOKEN: InfluxDB API token
//   - TIDEFLOW_SCORING_PROVIDER: scoring backend - local, openai, ollama
//   - OPENAI_API_KEY: key for the openai scoring backend
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector endpoint
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
