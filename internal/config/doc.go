// ABOUTME: Package config documentation
// ABOUTME: Describes file formats, env expansion, and the available sections

// Package config handles configuration loading for coven-desk.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Unset fields keep the values from Default.
//
// # File Format
//
// The decoder is chosen by extension: .toml files use TOML, anything else
// is read as YAML.
//
//	server:
//	  api_url: "https://desk.example.com"
//	  ws_url: "wss://desk.example.com/ws"
//	auth:
//	  token: "${COVEN_DESK_TOKEN}"
//	sync:
//	  page_size: 10
//	  queue_debounce: "500ms"
//	  refresh_cooldown: "1s"
//	  end_chat_delay: "3s"
//	logging:
//	  level: "info"
//	  format: "text"
//	  file: "/var/log/coven-desk.log"
//	metrics:
//	  enabled: true
//	  file: "/var/log/coven-desk-metrics.jsonl"
//	  interval: "30s"
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}. Unset
// variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax. Negative durations are
// rejected.
//
// # Validation
//
// Validate requires an http(s) api_url, a ws(s) ws_url, and a positive page
// size.
package config
