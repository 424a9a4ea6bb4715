// ABOUTME: Typed errors surfaced by the command orchestrator.
// ABOUTME: NotConnectedError carries the reachable agent ids as a remediation hint.

package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyAgentID indicates the caller omitted the target agent id.
var ErrEmptyAgentID = errors.New("agent_id is required")

// ErrEmptyCommand indicates the caller omitted the command text.
var ErrEmptyCommand = errors.New("command is required")

// NotConnectedError is returned when the target agent has neither a live
// connection nor an online mock profile.
type NotConnectedError struct {
	AgentID         string
	ConnectedAgents []string
	MockAgents      []string
}

func (e *NotConnectedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent %q not connected", e.AgentID)
	if len(e.ConnectedAgents) > 0 {
		fmt.Fprintf(&b, "; connected: %s", strings.Join(e.ConnectedAgents, ", "))
	}
	if len(e.MockAgents) > 0 {
		fmt.Fprintf(&b, "; mock: %s", strings.Join(e.MockAgents, ", "))
	}
	return b.String()
}
