// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
)

// TideflowConfig is the full service configuration.
type TideflowConfig struct {
	// Server: the HTTP gateway (listen address, rate limits, pipeline file)
	Server ServerConfig `yaml:"server"`

	// Badger: the embedded result/verdict store
	Badger BadgerConfig `yaml:"badger"`

	// Influx: market data time series connection
	Influx InfluxConfig `yaml:"influx"`

	// Scoring: which model backend scores signals
	Scoring ScoringConfig `yaml:"scoring"`

	// Telemetry: trace and metric exporters
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging: log level and output format
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr         string  `yaml:"addr"`          // e.g. ":12400"
	PipelinePath string  `yaml:"pipeline_path"` // wiring file, hot-reloaded
	IngestRPS    float64 `yaml:"ingest_rps"`
	IngestBurst  int     `yaml:"ingest_burst"`
}

type BadgerConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`

	// Token can be left empty here and supplied via TIDEFLOW_INFLUX_TOKEN.
	Token string `yaml:"token,omitempty"`
}

type ScoringConfig struct {
	// Provider can be "local", "openai", or "ollama".
	Provider string `yaml:"provider"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter"`  // otlp, stdout, none
	MetricExporter string `yaml:"metric_exporter"` // prometheus, stdout, none
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text

	// Dir enables JSON file logging when set; ~ expands to the home
	// directory. Empty means stderr only.
	Dir string `yaml:"dir,omitempty"`
}

// DefaultConfig returns the defaults for a single-host deployment.
func DefaultConfig() TideflowConfig {
	return TideflowConfig{
		Server: ServerConfig{
			Addr:         ":12400",
			PipelinePath: "pipeline.yaml",
			IngestRPS:    20,
			IngestBurst:  40,
		},
		Badger: BadgerConfig{
			Path: defaultDataDir(),
		},
		Influx: InfluxConfig{
			URL:    "http://localhost:8086",
			Org:    "tideflow",
			Bucket: "market_data",
		},
		Scoring: ScoringConfig{
			Provider: "local",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "otlp",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// defaultDataDir places the embedded store under the user's home
// directory, falling back to a relative path when home is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tideflow-data"
	}
	return filepath.Join(home, ".tideflow", "data")
}
