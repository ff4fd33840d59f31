// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for rigchat.
//
// Supports TOML, JSON (with comments and trailing commas) and YAML
// configuration formats, with sensible defaults, environment variable
// overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGCHAT_*)
//   - ~/.rigchat/config.toml
//   - ~/.rigchat/config.json
//   - ~/.rigchat/config.yaml
//   - Built-in defaults
//
// Only the first file found is read. RIGCHAT_HOME replaces ~/.rigchat.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	temperature := cfg.Session.Temperature
//
// Long-running commands can follow edits with Watch.
package config
