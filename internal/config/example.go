// ABOUTME: Annotated example configuration written by the init subcommand
// ABOUTME: Every knob the gateway reads is shown with its default

package config

// Example is a complete annotated configuration file.
const Example = `# warden-gateway configuration

server:
  http_addr: ":8080"
  server_id: "warden-gw-1"

database:
  path: "./data/warden.db"

dispatch:
  default_timeout: 30s   # applied when a request omits timeout_seconds
  max_timeout: 5m        # requests above this are clamped
  sweep_interval: 250ms  # how often expired commands are reaped

mock:
  min_latency: 50ms
  max_latency: 400ms
  agents:
    - agent_id: mock-1
      hostname: MOCK-1
      platform: windows
      online: true
    - agent_id: mock-2
      hostname: MOCK-2
      platform: windows
      online: true
      canned:
        get-date: "Monday, March 2, 2026 9:00:00 AM"

logging:
  level: info    # debug, info, warn, error
  format: text   # text or json
  # file: ./logs/warden-gateway.log
  # max_size_mb: 50
  # max_backups: 5
  # max_age_days: 30

metrics:
  enabled: true
  path: /metrics
`
