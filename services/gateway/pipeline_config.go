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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Tideflow/services/pipeline"
)

// LoadPipelineFile reads a pipeline wiring config from a YAML file.
//
// Inputs:
//   - path: filesystem path to the YAML document.
//
// Outputs:
//   - *pipeline.PipelineConfig: the parsed wiring.
//   - error: read or parse failure, or a config with no nodes.
func LoadPipelineFile(path string) (*pipeline.PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg pipeline.PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("pipeline config %s declares no nodes", path)
	}
	return &cfg, nil
}
