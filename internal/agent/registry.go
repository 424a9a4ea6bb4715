// ABOUTME: Registry of live agent connections, one per agent id.
// ABOUTME: Single source of truth for whether an agent is currently reachable.

package agent

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry tracks at most one live connection per agent id.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Connection),
		logger: logger,
	}
}

// Register installs conn as the current connection for its agent id and
// marks it active. If a connection for the same id already existed, it is
// marked closing and returned so the caller can fail its outstanding
// commands and tear it down; no result correlation follows it afterward.
func (r *Registry) Register(conn *Connection) (previous *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.conns[conn.ID]
	if previous != nil {
		previous.SetStatus(StatusClosing)
		r.logger.Warn("agent reconnected, displacing previous connection",
			"agent_id", conn.ID,
		)
	}

	conn.SetStatus(StatusActive)
	r.conns[conn.ID] = conn
	r.logger.Info("agent connected",
		"agent_id", conn.ID,
		"total_agents", len(r.conns),
	)
	return previous
}

// Lookup returns the current connection for agentID, if any.
func (r *Registry) Lookup(agentID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[agentID]
	return conn, ok
}

// Remove deletes the entry for agentID only if the stored connection is
// still the expected one. This guards against a stale close racing a fresh
// reconnect of the same id. Returns true if an entry was removed.
func (r *Registry) Remove(agentID string, expected *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[agentID]
	if !ok || current != expected {
		return false
	}

	current.SetStatus(StatusClosed)
	delete(r.conns, agentID)
	r.logger.Info("agent disconnected",
		"agent_id", agentID,
		"total_agents", len(r.conns),
	)
	return true
}

// ListConnected returns a sorted snapshot of connected agent ids.
func (r *Registry) ListConnected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns connection info for every connected agent.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		infos = append(infos, conn.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of connected agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
