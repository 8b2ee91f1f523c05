// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for the
// bazi service and CLI.
//
// TOML, YAML and JSON files are supported (chosen by extension), layered
// over built-in defaults and under environment variable overrides.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - UpstreamConfig: Chat-completions endpoint, key and model
//   - StreamConfig: Keep-alive cadence and relay queue size
//   - GeocodeConfig: Nominatim endpoint, throttle and optional cache
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (DEEPSEEK_API_KEY, OPENAI_BASE_URL, PORT, ...)
//   - The file named by --config or BAZI_CONFIG
//   - ~/.bazi/config.toml
//   - Built-in defaults
//
// A missing API key is not a configuration error: the interpretation
// endpoint reports it inside the stream instead.
//
// # Usage
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    return err
//	}
//
// Watch reloads the file on change for long-running processes.
package config
