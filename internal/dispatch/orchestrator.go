// ABOUTME: Command orchestrator — the facade that runs a command on an agent and waits.
// ABOUTME: Picks the real or mock path, correlates the result, and enforces the timeout.

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warden-hq/warden-gateway/internal/agent"
	"github.com/warden-hq/warden-gateway/internal/mock"
	"github.com/warden-hq/warden-gateway/internal/protocol"
)

// Status is the terminal state of a dispatched command.
type Status string

const (
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusTimedOut        Status = "timed_out"
	StatusTransportFailed Status = "transport_failed"
	StatusCanceled        Status = "canceled"
)

// Source says which backend satisfied a command.
type Source string

const (
	SourceAgent Source = "agent"
	SourceMock  Source = "mock"
)

// Request is one command execution ask.
type Request struct {
	AgentID        string
	Command        string
	TimeoutSeconds int
	RunAsAdmin     bool
}

// Result is the terminal outcome returned to the caller.
type Result struct {
	CommandID string
	AgentID   string
	Status    Status
	Source    Source
	Success   bool
	Output    string
	Error     string
	Duration  time.Duration
}

// OutcomeRecord is what the orchestrator reports to the persistence
// collaborator for durable command history.
type OutcomeRecord struct {
	CommandID  string
	AgentID    string
	Command    string
	RunAsAdmin bool
	Status     Status
	Source     Source
	Output     string
	Error      string
	Duration   time.Duration
	FinishedAt time.Time
}

// Recorder receives terminal outcomes. Recording is best-effort: the
// orchestrator logs failures and moves on.
type Recorder interface {
	RecordOutcome(ctx context.Context, rec *OutcomeRecord) error
}

// Limits clamps caller-specified timeouts and tunes the sweep.
type Limits struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	SweepInterval  time.Duration
}

func (l *Limits) applyDefaults() {
	if l.DefaultTimeout <= 0 {
		l.DefaultTimeout = 30 * time.Second
	}
	if l.MaxTimeout < l.DefaultTimeout {
		l.MaxTimeout = 5 * time.Minute
	}
	if l.SweepInterval <= 0 {
		l.SweepInterval = 250 * time.Millisecond
	}
}

// Orchestrator coordinates the registry, pending table, codec, and mock
// engine behind the single Execute entry point. Safe for concurrent use.
type Orchestrator struct {
	registry *agent.Registry
	pending  *agent.PendingTable
	mocks    *mock.Engine
	recorder Recorder
	metrics  *Metrics
	limits   Limits
	logger   *slog.Logger
}

// NewOrchestrator wires the dispatch core together. Recorder and metrics
// may be nil; a nil metrics gets unregistered collectors.
func NewOrchestrator(registry *agent.Registry, pending *agent.PendingTable, mocks *mock.Engine, recorder Recorder, metrics *Metrics, limits Limits, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	limits.applyDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil, pending.Len)
	}
	return &Orchestrator{
		registry: registry,
		pending:  pending,
		mocks:    mocks,
		recorder: recorder,
		metrics:  metrics,
		limits:   limits,
		logger:   logger,
	}
}

// Run drives the timeout sweeper until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.pending.RunSweeper(ctx, o.limits.SweepInterval)
}

// Execute runs a command on the target agent and blocks until a result
// arrives, the deadline passes, or ctx is cancelled.
//
// Path selection: a live connection wins; otherwise an online mock profile
// synthesizes the result; otherwise the call fails immediately with a
// NotConnectedError listing the reachable ids.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.AgentID == "" {
		return nil, ErrEmptyAgentID
	}
	if req.Command == "" {
		return nil, ErrEmptyCommand
	}

	timeout := o.clampTimeout(req.TimeoutSeconds)
	commandID := uuid.New().String()

	if conn, ok := o.registry.Lookup(req.AgentID); ok {
		return o.executeReal(ctx, conn, commandID, req, timeout)
	}

	if o.mocks.IsMockTarget(req.AgentID) {
		return o.executeMock(ctx, commandID, req, timeout)
	}

	return nil, o.notConnected(req.AgentID)
}

// executeReal dispatches over a live connection and suspends on the
// pending entry until it settles.
func (o *Orchestrator) executeReal(ctx context.Context, conn *agent.Connection, commandID string, req Request, timeout time.Duration) (*Result, error) {
	deadline := time.Now().Add(timeout)
	p := o.pending.Create(commandID, req.AgentID, deadline)

	raw, err := protocol.EncodeCommand(&protocol.CommandFrame{
		CommandID:      commandID,
		Command:        req.Command,
		TimeoutSeconds: int(timeout / time.Second),
		RunAsAdmin:     req.RunAsAdmin,
	})
	if err != nil {
		o.pending.ResolveFailure(commandID, agent.FailSend)
		return nil, err
	}

	started := time.Now()
	if err := conn.Send(raw); err != nil {
		o.pending.ResolveFailure(commandID, agent.FailSend)
		o.logger.Error("sending command frame",
			"agent_id", req.AgentID,
			"command_id", commandID,
			"error", err,
		)
		res := o.finish(ctx, commandID, req, StatusTransportFailed, SourceAgent,
			"", "connection write failed: "+err.Error(), time.Since(started))
		return res, nil
	}

	o.logger.Debug("command dispatched",
		"agent_id", req.AgentID,
		"command_id", commandID,
		"timeout_seconds", int(timeout/time.Second),
	)

	select {
	case <-ctx.Done():
		// Caller abandoned the wait; settle as canceled, not timeout.
		o.pending.ResolveFailure(commandID, agent.FailCanceled)
		o.record(ctx, commandID, req, StatusCanceled, SourceAgent, "", "canceled by caller", time.Since(started))
		o.metrics.Dispatches.WithLabelValues(string(StatusCanceled), string(SourceAgent)).Inc()
		return nil, ctx.Err()
	case <-p.Done():
	}

	elapsed := time.Since(started)
	frame, reason := p.Outcome()

	switch {
	case frame != nil && frame.Success:
		if frame.DurationMS > 0 {
			elapsed = time.Duration(frame.DurationMS) * time.Millisecond
		}
		return o.finish(ctx, commandID, req, StatusSucceeded, SourceAgent, frame.Output, frame.Error, elapsed), nil
	case frame != nil:
		if frame.DurationMS > 0 {
			elapsed = time.Duration(frame.DurationMS) * time.Millisecond
		}
		return o.finish(ctx, commandID, req, StatusFailed, SourceAgent, frame.Output, frame.Error, elapsed), nil
	case reason == agent.FailTimeout:
		return o.finish(ctx, commandID, req, StatusTimedOut, SourceAgent, "",
			"command timed out waiting for result", elapsed), nil
	default:
		// Disconnect or send failure mid-flight.
		return o.finish(ctx, commandID, req, StatusTransportFailed, SourceAgent, "",
			"agent connection lost before a result arrived", elapsed), nil
	}
}

// executeMock synthesizes a result without touching any transport.
func (o *Orchestrator) executeMock(ctx context.Context, commandID string, req Request, timeout time.Duration) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frame, err := o.mocks.Execute(execCtx, req.AgentID, req.Command)
	switch {
	case errors.Is(err, mock.ErrProfileOffline), errors.Is(err, mock.ErrUnknownProfile):
		return nil, o.notConnected(req.AgentID)
	case errors.Is(err, context.DeadlineExceeded):
		return o.finish(ctx, commandID, req, StatusTimedOut, SourceMock, "",
			"command timed out waiting for result", timeout), nil
	case err != nil:
		o.metrics.Dispatches.WithLabelValues(string(StatusCanceled), string(SourceMock)).Inc()
		return nil, err
	}

	frame.CommandID = commandID
	status := StatusSucceeded
	if !frame.Success {
		status = StatusFailed
	}
	return o.finish(ctx, commandID, req, status, SourceMock, frame.Output, frame.Error,
		time.Duration(frame.DurationMS)*time.Millisecond), nil
}

// finish builds the terminal Result, bumps metrics, and records the outcome.
func (o *Orchestrator) finish(ctx context.Context, commandID string, req Request, status Status, source Source, output, errText string, duration time.Duration) *Result {
	o.metrics.Dispatches.WithLabelValues(string(status), string(source)).Inc()
	o.record(ctx, commandID, req, status, source, output, errText, duration)
	return &Result{
		CommandID: commandID,
		AgentID:   req.AgentID,
		Status:    status,
		Source:    source,
		Success:   status == StatusSucceeded,
		Output:    output,
		Error:     errText,
		Duration:  duration,
	}
}

// record reports the outcome to the persistence collaborator, best-effort.
func (o *Orchestrator) record(ctx context.Context, commandID string, req Request, status Status, source Source, output, errText string, duration time.Duration) {
	if o.recorder == nil {
		return
	}

	// The caller's context may already be cancelled; the record should
	// still land.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	rec := &OutcomeRecord{
		CommandID:  commandID,
		AgentID:    req.AgentID,
		Command:    req.Command,
		RunAsAdmin: req.RunAsAdmin,
		Status:     status,
		Source:     source,
		Output:     output,
		Error:      errText,
		Duration:   duration,
		FinishedAt: time.Now().UTC(),
	}
	if err := o.recorder.RecordOutcome(recCtx, rec); err != nil {
		o.logger.Warn("recording command outcome",
			"command_id", commandID,
			"error", err,
		)
	}
}

func (o *Orchestrator) notConnected(agentID string) *NotConnectedError {
	return &NotConnectedError{
		AgentID:         agentID,
		ConnectedAgents: o.registry.ListConnected(),
		MockAgents:      o.mocks.ListIDs(),
	}
}

func (o *Orchestrator) clampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return o.limits.DefaultTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout > o.limits.MaxTimeout {
		return o.limits.MaxTimeout
	}
	return timeout
}

// Attach installs a new connection. A displaced connection for the same
// agent id gets its outstanding commands failed as transport failures and
// is closed; no correlation follows it afterward.
func (o *Orchestrator) Attach(conn *agent.Connection) {
	if prev := o.registry.Register(conn); prev != nil {
		o.pending.RemoveAllForAgent(conn.ID, agent.FailDisconnected)
		if err := prev.Close(); err != nil {
			o.logger.Debug("closing displaced connection", "agent_id", conn.ID, "error", err)
		}
	}
}

// OnDisconnect removes conn from the registry and fails its outstanding
// commands. A stale disconnect racing a fresh reconnect of the same id is
// a no-op thanks to the registry's compare-and-delete.
func (o *Orchestrator) OnDisconnect(agentID string, conn *agent.Connection) {
	if o.registry.Remove(agentID, conn) {
		o.pending.RemoveAllForAgent(agentID, agent.FailDisconnected)
	}
}

// OnInboundFrame routes one raw frame from an agent connection. Malformed
// frames are logged, counted, and dropped; they never tear down the
// connection or reach a caller.
func (o *Orchestrator) OnInboundFrame(agentID string, raw []byte) {
	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		o.metrics.ParseErrors.Inc()
		o.logger.Warn("dropping malformed frame",
			"agent_id", agentID,
			"error", err,
		)
		return
	}

	if conn, ok := o.registry.Lookup(agentID); ok {
		conn.Touch()
	}

	switch frame.Kind {
	case protocol.KindResult:
		if !o.pending.ResolveSuccess(frame.Result.CommandID, frame.Result) {
			// Late or duplicate result; the caller already got its answer.
			o.metrics.LateResults.Inc()
			o.logger.Info("discarding result with no pending request",
				"agent_id", agentID,
				"command_id", frame.Result.CommandID,
			)
		}
	case protocol.KindHeartbeat:
		o.logger.Debug("heartbeat", "agent_id", agentID)
	case protocol.KindStatusUpdate:
		if conn, ok := o.registry.Lookup(agentID); ok {
			conn.UpdateInfo(frame.StatusUpdate.Hostname, frame.StatusUpdate.OS, frame.StatusUpdate.Version)
		}
	case protocol.KindRegister:
		o.logger.Warn("duplicate register frame ignored", "agent_id", agentID)
	default:
		o.metrics.UnhandledFrames.Inc()
		o.logger.Debug("unhandled frame kind",
			"agent_id", agentID,
			"kind", frame.RawType,
		)
	}
}

// ListConnectedAgents returns the ids with a live connection.
func (o *Orchestrator) ListConnectedAgents() []string {
	return o.registry.ListConnected()
}

// ListMockAgents returns the configured mock agent ids.
func (o *Orchestrator) ListMockAgents() []string {
	return o.mocks.ListIDs()
}

// PendingCount exposes the in-flight command count for probes and tests.
func (o *Orchestrator) PendingCount() int {
	return o.pending.Len()
}
