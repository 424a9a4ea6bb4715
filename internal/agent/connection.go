// ABOUTME: Represents a single connected endpoint agent and its duplex channel.
// ABOUTME: Tracks connection status and activity timestamps for liveness reporting.

package agent

import (
	"log/slog"
	"sync"
	"time"
)

// Channel is the duplex transport handle the registry manages. The concrete
// implementation (a WebSocket in production, an in-memory pipe in tests) is
// supplied by the transport layer.
type Channel interface {
	// Send transmits one encoded frame to the agent.
	Send(raw []byte) error
	// Close tears down the underlying transport.
	Close() error
}

// Status describes the lifecycle state of a connection.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
)

// Connection is one live agent attachment. Owned exclusively by the
// Registry; at most one per agent id at a time.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	channel Channel
	logger  *slog.Logger

	mu         sync.RWMutex
	hostname   string
	os         string
	version    string
	status     Status
	lastActive time.Time
}

// ConnectionParams bundles the inputs for NewConnection.
type ConnectionParams struct {
	ID       string
	Hostname string
	OS       string
	Version  string
	Channel  Channel
	Logger   *slog.Logger
}

// NewConnection creates a Connection in the connecting state.
func NewConnection(p ConnectionParams) *Connection {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &Connection{
		ID:          p.ID,
		ConnectedAt: now,
		channel:     p.Channel,
		logger:      logger,
		hostname:    p.Hostname,
		os:          p.OS,
		version:     p.Version,
		status:      StatusConnecting,
		lastActive:  now,
	}
}

// Send transmits one encoded frame over the channel.
func (c *Connection) Send(raw []byte) error {
	return c.channel.Send(raw)
}

// Close marks the connection closed and tears down the channel.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.status = StatusClosed
	c.mu.Unlock()
	return c.channel.Close()
}

// Touch refreshes the last-activity timestamp. Called for every inbound
// frame, including heartbeats.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// LastActive returns the time of the most recent inbound frame.
func (c *Connection) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus transitions the connection's lifecycle state.
func (c *Connection) SetStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// UpdateInfo refreshes agent metadata from a status_update frame. Empty
// fields leave the existing value in place.
func (c *Connection) UpdateInfo(hostname, os, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hostname != "" {
		c.hostname = hostname
	}
	if os != "" {
		c.os = os
	}
	if version != "" {
		c.version = version
	}
}

// Info returns a point-in-time snapshot for status reporting.
func (c *Connection) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnectionInfo{
		ID:          c.ID,
		Hostname:    c.hostname,
		OS:          c.os,
		Version:     c.version,
		Status:      c.status,
		ConnectedAt: c.ConnectedAt,
		LastActive:  c.lastActive,
	}
}

// ConnectionInfo is the public snapshot of a connection.
type ConnectionInfo struct {
	ID          string
	Hostname    string
	OS          string
	Version     string
	Status      Status
	ConnectedAt time.Time
	LastActive  time.Time
}
