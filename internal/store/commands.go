// ABOUTME: Command log entity and store methods for dispatched command history
// ABOUTME: Records what ran where, how it ended, and how long it took

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/warden-hq/warden-gateway/internal/dispatch"
)

// CommandRecord is one row of dispatched command history.
type CommandRecord struct {
	CommandID  string
	AgentID    string
	Command    string
	RunAsAdmin bool
	Status     string
	Source     string
	Output     string
	Error      string
	Duration   time.Duration
	FinishedAt time.Time
}

// CommandFilter specifies filtering options for listing command history.
type CommandFilter struct {
	AgentID string // filter by agent, empty for all
	Status  string // filter by terminal status, empty for all
	Limit   int    // max results (default 100, max 1000)
}

// normalizeCommandLimit applies default (100) and cap (1000).
func normalizeCommandLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// RecordOutcome persists a terminal command outcome. It satisfies the
// dispatch.Recorder contract.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, rec *dispatch.OutcomeRecord) error {
	query := `
		INSERT INTO command_log (command_id, agent_id, command, run_as_admin, status, source, output, error, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.CommandID,
		rec.AgentID,
		rec.Command,
		rec.RunAsAdmin,
		string(rec.Status),
		string(rec.Source),
		rec.Output,
		rec.Error,
		rec.Duration.Milliseconds(),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting command record: %w", err)
	}

	s.logger.Debug("recorded command outcome",
		"command_id", rec.CommandID,
		"agent_id", rec.AgentID,
		"status", rec.Status,
	)
	return nil
}

const listCommandsQuery = `
	SELECT command_id, agent_id, command, run_as_admin, status, source, output, error, duration_ms, finished_at
	FROM command_log
	WHERE (? = '' OR agent_id = ?)
	  AND (? = '' OR status = ?)
	ORDER BY finished_at DESC
	LIMIT ?
`

// ListCommands returns command history matching the filter, newest first.
func (s *SQLiteStore) ListCommands(ctx context.Context, f CommandFilter) ([]CommandRecord, error) {
	limit := normalizeCommandLimit(f.Limit)

	rows, err := s.db.QueryContext(ctx, listCommandsQuery,
		f.AgentID, f.AgentID,
		f.Status, f.Status,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var output, errMsg *string
		var durationMS int64
		var finishedStr string

		if err := rows.Scan(
			&rec.CommandID,
			&rec.AgentID,
			&rec.Command,
			&rec.RunAsAdmin,
			&rec.Status,
			&rec.Source,
			&output,
			&errMsg,
			&durationMS,
			&finishedStr,
		); err != nil {
			return nil, fmt.Errorf("scanning command record: %w", err)
		}

		if output != nil {
			rec.Output = *output
		}
		if errMsg != nil {
			rec.Error = *errMsg
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command records: %w", err)
	}

	if records == nil {
		records = []CommandRecord{}
	}
	return records, nil
}

// CountCommands returns the total number of logged commands.
func (s *SQLiteStore) CountCommands(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM command_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting commands: %w", err)
	}
	return n, nil
}
