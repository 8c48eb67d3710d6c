// Package config handles configuration loading for swarmdeck.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; swarmdeck runs with
// no config file at all.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SWARMDECK_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/swarmdeck/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${SWARMDECK_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":4113"
//
// Database:
//
//	database:
//	  path: "~/.local/share/swarmdeck/swarmdeck.db"
//
// Process discovery:
//
//	discovery:
//	  executable: "claude"
//
// Session log watching:
//
//	sessions:
//	  watch_dirs:
//	    - "~/.claude/projects"
//
// Liveness sweep:
//
//	monitor:
//	  cleanup_interval: "5s"   # accepted range 1s..300s
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
