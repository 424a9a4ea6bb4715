// Package gateway assembles and runs the warden-gateway server.
//
// # Components
//
// New wires the pieces in dependency order: SQLite store, mock engine
// (seeded from config and saved profiles), dispatch orchestrator, agent
// WebSocket endpoint, and the HTTP API. Run starts the listener and the
// deadline sweeper and blocks until the context is canceled, then shuts
// down gracefully: in-flight HTTP requests drain, outstanding commands
// fail as transport failures, and the store closes last.
//
// # HTTP surface
//
//   - POST /api/execute - Run a command on an agent and wait for the result
//   - GET /api/agents - Live connections plus mock profiles
//   - POST /api/mock-agents - Create or update a mock agent profile
//   - DELETE /api/mock-agents/{id} - Remove a mock agent profile
//   - GET /api/commands - Dispatched command history
//   - GET /ws/agent - Agent WebSocket attach endpoint
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (database reachable)
//   - GET /metrics - Prometheus metrics (when enabled)
package gateway
