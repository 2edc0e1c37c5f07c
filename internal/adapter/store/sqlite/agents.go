package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agent-market/internal/domain"
)

var _ domain.AgentRegistry = (*AgentStore)(nil)

// AgentStore implements domain.AgentRegistry. Enumeration order is the
// insertion sequence of the first registration of each agent.
type AgentStore struct {
	db *sql.DB
}

// NewAgentStore wraps an opened market database.
func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

const agentColumns = "agent_id, description, services, pricing, role, status, registered_at, updated_at"

// Upsert inserts or replaces the profile. RegisteredAt keeps its first value
// and is written back into p.
func (s *AgentStore) Upsert(ctx context.Context, p *domain.AgentProfile) error {
	services, err := json.Marshal(p.Services)
	if err != nil {
		return fmt.Errorf("%w: marshal services: %v", domain.ErrStoreFailed, err)
	}
	pricing, err := json.Marshal(p.Pricing)
	if err != nil {
		return fmt.Errorf("%w: marshal pricing: %v", domain.ErrStoreFailed, err)
	}
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.RegisteredAt
	}

	var registered string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			description = excluded.description,
			services    = excluded.services,
			pricing     = excluded.pricing,
			role        = excluded.role,
			status      = excluded.status,
			updated_at  = excluded.updated_at
		RETURNING registered_at`,
		p.AgentID, p.Description, string(services), string(pricing), string(p.Role), string(p.Status),
		formatTime(p.RegisteredAt), formatTime(p.UpdatedAt),
	).Scan(&registered)
	if err != nil {
		return fmt.Errorf("%w: upsert agent %s: %v", domain.ErrStoreFailed, p.AgentID, err)
	}
	p.RegisteredAt = parseTime(registered)
	return nil
}

func (s *AgentStore) Get(ctx context.Context, agentID string) (*domain.AgentProfile, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE agent_id = ?", agentID)
	p, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("agent", "AgentStore.Get", domain.ErrNotFound, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get agent %s: %v", domain.ErrStoreFailed, agentID, err)
	}
	return p, nil
}

func (s *AgentStore) SetStatus(ctx context.Context, agentID string, status domain.AgentStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE agents SET status = ?, updated_at = ? WHERE agent_id = ?",
		string(status), formatTime(time.Now()), agentID,
	)
	if err != nil {
		return fmt.Errorf("%w: set status %s: %v", domain.ErrStoreFailed, agentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewSubSystemError("agent", "AgentStore.SetStatus", domain.ErrNotFound, agentID)
	}
	return nil
}

func (s *AgentStore) List(ctx context.Context) ([]*domain.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+agentColumns+" FROM agents ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("%w: list agents: %v", domain.ErrStoreFailed, err)
	}
	defer rows.Close()

	var out []*domain.AgentProfile
	for rows.Next() {
		p, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan agent: %v", domain.ErrStoreFailed, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *AgentStore) BindRow(ctx context.Context, row int, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO row_bindings (idx_row, agent_id) VALUES (?, ?)
		ON CONFLICT(idx_row) DO UPDATE SET agent_id = excluded.agent_id`,
		row, agentID,
	)
	if err != nil {
		return fmt.Errorf("%w: bind row %d: %v", domain.ErrStoreFailed, row, err)
	}
	return nil
}

func (s *AgentStore) Rows(ctx context.Context, rows []int) (map[int]*domain.AgentProfile, error) {
	out := make(map[int]*domain.AgentProfile, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	args := make([]any, len(rows))
	for i, r := range rows {
		args[i] = r
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rows)), ",")

	q := `SELECT b.idx_row, a.agent_id, a.description, a.services, a.pricing, a.role, a.status, a.registered_at, a.updated_at
		FROM row_bindings b JOIN agents a ON a.agent_id = b.agent_id
		WHERE b.idx_row IN (` + placeholders + `)
		  AND b.idx_row = (SELECT MAX(idx_row) FROM row_bindings WHERE agent_id = b.agent_id)`
	res, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve rows: %v", domain.ErrStoreFailed, err)
	}
	defer res.Close()

	for res.Next() {
		var row int
		p, err := scanAgentWith(res, &row)
		if err != nil {
			return nil, fmt.Errorf("%w: scan bound agent: %v", domain.ErrStoreFailed, err)
		}
		out[row] = p
	}
	return out, res.Err()
}

func (s *AgentStore) Reset(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin reset: %v", domain.ErrStoreFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM row_bindings"); err != nil {
		return 0, fmt.Errorf("%w: clear row bindings: %v", domain.ErrStoreFailed, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM agents")
	if err != nil {
		return 0, fmt.Errorf("%w: clear agents: %v", domain.ErrStoreFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit reset: %v", domain.ErrStoreFailed, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanAgent(sc scanner) (*domain.AgentProfile, error) {
	return scanAgentWith(sc)
}

// scanAgentWith scans leading extra columns into prefix before the agent columns.
func scanAgentWith(sc scanner, prefix ...any) (*domain.AgentProfile, error) {
	var (
		p                   domain.AgentProfile
		services, pricing   string
		role, status        string
		registered, updated string
	)
	dest := append(prefix, &p.AgentID, &p.Description, &services, &pricing, &role, &status, &registered, &updated)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(services), &p.Services); err != nil {
		return nil, fmt.Errorf("unmarshal services: %w", err)
	}
	if err := json.Unmarshal([]byte(pricing), &p.Pricing); err != nil {
		return nil, fmt.Errorf("unmarshal pricing: %w", err)
	}
	p.Role = domain.Role(role)
	p.Status = domain.AgentStatus(status)
	p.RegisteredAt = parseTime(registered)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}
