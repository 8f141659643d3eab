// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
)

// CLIConfig is the study CLI's on-disk configuration.
//
// Loaded from ~/.aleutian/study/config.yaml when present; every field
// has a working default so a missing file is not an error.
type CLIConfig struct {
	// BackendURL is the study backend base URL. Websocket endpoints
	// are derived from it per channel.
	BackendURL string `yaml:"backend_url"`

	// DataDir holds the snapshot store and log files.
	DataDir string `yaml:"data_dir"`

	// LogLevel is debug|info|warn|error.
	LogLevel string `yaml:"log_level"`

	// LogJSON switches stderr logs to JSON.
	LogJSON bool `yaml:"log_json"`

	// KBName is the default knowledge base when a command does not
	// pass --kb.
	KBName string `yaml:"kb_name"`

	// DebounceMS overrides the snapshot write debounce.
	DebounceMS int `yaml:"debounce_ms"`
}

// DefaultCLIConfig returns the working defaults.
func DefaultCLIConfig() CLIConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return CLIConfig{
		BackendURL: "http://localhost:8000",
		DataDir:    filepath.Join(home, ".aleutian", "study"),
		LogLevel:   "info",
	}
}

// LoadCLIConfig reads path over the defaults. A missing file returns
// the defaults; a malformed file is an error because silently ignoring
// a config the user wrote would be worse than failing.
func LoadCLIConfig(path string) (CLIConfig, error) {
	cfg := DefaultCLIConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfigPath is where LoadCLIConfig looks unless --config
// overrides it.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".aleutian", "study", "config.yaml")
}

// wsEndpoints derives the per-channel websocket URLs from the backend
// base URL. The paths mirror the backend's routers.
func wsEndpoints(backendURL string) map[datatypes.Channel]string {
	base := toWSBase(backendURL)
	return map[datatypes.Channel]string{
		datatypes.ChannelChat:     base + "/ws/chat",
		datatypes.ChannelSolver:   base + "/ws/solver",
		datatypes.ChannelQuestion: base + "/ws/questions/generate",
		datatypes.ChannelResearch: base + "/ws/research",
		datatypes.ChannelGuide:    base + "/ws/guide",
	}
}

func toWSBase(httpURL string) string {
	switch {
	case len(httpURL) > 8 && httpURL[:8] == "https://":
		return "wss://" + httpURL[8:]
	case len(httpURL) > 7 && httpURL[:7] == "http://":
		return "ws://" + httpURL[7:]
	default:
		return httpURL
	}
}
