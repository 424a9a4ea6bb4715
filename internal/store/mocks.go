// ABOUTME: Persistence for mock agent profiles so they survive restarts
// ABOUTME: Canned responses are stored as a JSON map alongside the profile

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warden-hq/warden-gateway/internal/mock"
)

// SaveMockAgent upserts a mock agent profile.
func (s *SQLiteStore) SaveMockAgent(ctx context.Context, p *mock.Profile) error {
	var cannedJSON *string
	if len(p.Canned) > 0 {
		data, err := json.Marshal(p.Canned)
		if err != nil {
			return fmt.Errorf("marshaling canned responses: %w", err)
		}
		str := string(data)
		cannedJSON = &str
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO mock_agents (agent_id, hostname, platform, online, canned, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			hostname = excluded.hostname,
			platform = excluded.platform,
			online   = excluded.online,
			canned   = excluded.canned
	`

	_, err := s.db.ExecContext(ctx, query,
		p.AgentID,
		p.Hostname,
		p.Platform,
		p.Online,
		cannedJSON,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving mock agent: %w", err)
	}

	s.logger.Debug("saved mock agent", "agent_id", p.AgentID)
	return nil
}

// DeleteMockAgent removes a saved profile. Deleting an absent profile is
// not an error; the bool reports whether a row went away.
func (s *SQLiteStore) DeleteMockAgent(ctx context.Context, agentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM mock_agents WHERE agent_id = ?", agentID)
	if err != nil {
		return false, fmt.Errorf("deleting mock agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking delete result: %w", err)
	}
	return n > 0, nil
}

// ListMockAgents returns all saved profiles ordered by agent id.
func (s *SQLiteStore) ListMockAgents(ctx context.Context) ([]*mock.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT agent_id, hostname, platform, online, canned, created_at FROM mock_agents ORDER BY agent_id")
	if err != nil {
		return nil, fmt.Errorf("querying mock agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*mock.Profile
	for rows.Next() {
		var p mock.Profile
		var cannedJSON *string
		var createdStr string

		if err := rows.Scan(&p.AgentID, &p.Hostname, &p.Platform, &p.Online, &cannedJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scanning mock agent: %w", err)
		}

		if cannedJSON != nil {
			if err := json.Unmarshal([]byte(*cannedJSON), &p.Canned); err != nil {
				return nil, fmt.Errorf("unmarshaling canned responses: %w", err)
			}
		}
		p.CreatedAt, err = time.Parse(time.RFC3339, createdStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		profiles = append(profiles, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mock agents: %w", err)
	}

	if profiles == nil {
		profiles = []*mock.Profile{}
	}
	return profiles, nil
}
