// Package config handles configuration loading for chat-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	heartbeat:
//	  interval: "30s"
//	  timeout: "10s"
//	session:
//	  idle_timeout: "30m"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  allowed_origin: "https://app.example.com"
//
// Database:
//
//	database:
//	  path: "/var/lib/chat-gateway/conversations.db"
//
// Response generation:
//
//	agent:
//	  provider: "openai"   # or "fake"
//	  model: "gpt-4o"
//	  api_key: "${OPENAI_API_KEY}"
//	  context_window: 10
//
// Workflow catalog:
//
//	workflows:
//	  dir: "./workflows"
//	  default: "onboarding"
//
// Fact checking:
//
//	fact_check:
//	  poll_interval: "500ms"
//	  poll_timeout: "30s"
//
// The OAuth recency window governs the "already authenticated"
// auto-transition heuristic and is deliberately configurable:
//
//	oauth:
//	  recency_window: "5m"
package config
