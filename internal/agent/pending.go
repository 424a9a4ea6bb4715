// ABOUTME: Pending-request table correlating dispatched command ids to waiting callers.
// ABOUTME: Each entry settles exactly once — by result, failure reason, or deadline sweep.

package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warden-hq/warden-gateway/internal/protocol"
)

// FailReason classifies a locally settled failure. Remote failures arrive as
// result frames with success=false and are not FailReasons.
type FailReason string

const (
	FailTimeout      FailReason = "timeout"
	FailDisconnected FailReason = "disconnected"
	FailCanceled     FailReason = "canceled"
	FailSend         FailReason = "send_failed"
)

// Pending is the waitable handle for one in-flight command. The dispatching
// caller blocks on Done(); whoever settles the entry closes it.
type Pending struct {
	CommandID string
	AgentID   string
	Deadline  time.Time
	CreatedAt time.Time

	done chan struct{}

	mu      sync.Mutex
	settled bool
	result  *protocol.ResultFrame
	reason  FailReason
}

// Done returns a channel closed when the entry settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Outcome reports how the entry settled. Result is non-nil when a matching
// result frame arrived; otherwise Reason says why the entry failed locally.
// Only meaningful after Done() is closed.
func (p *Pending) Outcome() (result *protocol.ResultFrame, reason FailReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.reason
}

// settle marks the entry resolved. Returns false if it was already settled.
func (p *Pending) settle(result *protocol.ResultFrame, reason FailReason) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return false
	}
	p.settled = true
	p.result = result
	p.reason = reason
	close(p.done)
	return true
}

// PendingTable holds every in-flight command keyed by command id. The
// command id — never the agent id — is the correlation key, since one agent
// may have several commands outstanding.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]*Pending
	logger  *slog.Logger
}

// NewPendingTable creates an empty table.
func NewPendingTable(logger *slog.Logger) *PendingTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingTable{
		entries: make(map[string]*Pending),
		logger:  logger,
	}
}

// Create inserts an entry and returns its waitable handle.
func (t *PendingTable) Create(commandID, agentID string, deadline time.Time) *Pending {
	p := &Pending{
		CommandID: commandID,
		AgentID:   agentID,
		Deadline:  deadline,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	t.entries[commandID] = p
	t.mu.Unlock()
	return p
}

// ResolveSuccess settles the entry for commandID with an arrived result
// frame and removes it. Settling an absent or already-settled entry is a
// logged no-op; the return value reports whether the frame was consumed.
func (t *PendingTable) ResolveSuccess(commandID string, result *protocol.ResultFrame) bool {
	p := t.take(commandID)
	if p == nil {
		t.logger.Debug("result for unknown or settled command discarded",
			"command_id", commandID,
		)
		return false
	}
	return p.settle(result, "")
}

// ResolveFailure settles the entry for commandID with a local failure
// reason and removes it. Absent or settled entries are a logged no-op.
func (t *PendingTable) ResolveFailure(commandID string, reason FailReason) bool {
	p := t.take(commandID)
	if p == nil {
		t.logger.Debug("failure for unknown or settled command discarded",
			"command_id", commandID,
			"reason", string(reason),
		)
		return false
	}
	return p.settle(nil, reason)
}

// take removes and returns the entry for commandID, or nil.
func (t *PendingTable) take(commandID string) *Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[commandID]
	if !ok {
		return nil
	}
	delete(t.entries, commandID)
	return p
}

// ExpireDue settles every entry whose deadline has passed as a timeout
// failure and returns the expired command ids.
func (t *PendingTable) ExpireDue(now time.Time) []string {
	t.mu.Lock()
	var due []*Pending
	for id, p := range t.entries {
		if !p.Deadline.After(now) {
			due = append(due, p)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	expired := make([]string, 0, len(due))
	for _, p := range due {
		if p.settle(nil, FailTimeout) {
			expired = append(expired, p.CommandID)
			t.logger.Warn("command timed out",
				"command_id", p.CommandID,
				"agent_id", p.AgentID,
			)
		}
	}
	return expired
}

// RemoveAllForAgent settles every outstanding entry targeting agentID with
// the given reason. Used by the orchestrator when a connection drops, so
// callers fail fast instead of waiting out their timeouts. Returns the
// number of entries settled.
func (t *PendingTable) RemoveAllForAgent(agentID string, reason FailReason) int {
	t.mu.Lock()
	var affected []*Pending
	for id, p := range t.entries {
		if p.AgentID == agentID {
			affected = append(affected, p)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	settled := 0
	for _, p := range affected {
		if p.settle(nil, reason) {
			settled++
		}
	}
	if settled > 0 {
		t.logger.Info("failed outstanding commands for agent",
			"agent_id", agentID,
			"count", settled,
			"reason", string(reason),
		)
	}
	return settled
}

// Len returns the number of in-flight entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RunSweeper expires due entries every interval until ctx is cancelled.
// Sweep granularity bounds how much longer than its deadline a caller can
// wait, so the interval should stay well under typical command timeouts.
func (t *PendingTable) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.ExpireDue(now)
		}
	}
}
