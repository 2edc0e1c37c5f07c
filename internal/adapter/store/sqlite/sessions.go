package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"agent-market/internal/domain"
)

var _ domain.NegotiationStore = (*SessionStore)(nil)

// SessionStore implements domain.NegotiationStore. The transcript is kept
// as a JSON array on the session row.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore wraps an opened market database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.NegotiationSession, error) {
	var (
		sess             domain.NegotiationSession
		messages, status string
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, initiator, counterpart, messages, status, created_at, updated_at FROM sessions WHERE session_id = ?",
		sessionID,
	).Scan(&sess.SessionID, &sess.Participants[0], &sess.Participants[1], &messages, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("negotiation", "SessionStore.Get", domain.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session %s: %v", domain.ErrStoreFailed, sessionID, err)
	}
	if err := json.Unmarshal([]byte(messages), &sess.Messages); err != nil {
		return nil, fmt.Errorf("%w: unmarshal messages of %s: %v", domain.ErrStoreFailed, sessionID, err)
	}
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

func (s *SessionStore) Put(ctx context.Context, sess *domain.NegotiationSession) error {
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("%w: marshal messages: %v", domain.ErrStoreFailed, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, initiator, counterpart, messages, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			messages   = excluded.messages,
			status     = excluded.status,
			updated_at = excluded.updated_at`,
		sess.SessionID, sess.Participants[0], sess.Participants[1], string(messages), string(sess.Status),
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: put session %s: %v", domain.ErrStoreFailed, sess.SessionID, err)
	}
	return nil
}

func (s *SessionStore) Reset(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions")
	if err != nil {
		return 0, fmt.Errorf("%w: clear sessions: %v", domain.ErrStoreFailed, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
