package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tedlu-tw/learnwise-demo/internal/domain"
)

// CreateSession inserts a new session and, in the same transaction,
// deactivates any prior active session for the learner. This enforces the
// one-active-session-per-learner invariant at the store.
func (db *DB) CreateSession(ctx context.Context, s domain.Session) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET active = 0 WHERE learner_id = ? AND active = 1
	`, s.LearnerID); err != nil {
		return fmt.Errorf("failed to supersede prior sessions for %s: %w", s.LearnerID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, learner_id, session_type, skill_ids, queue, position, streak, started_at, updated_at, completed, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID,
		s.LearnerID,
		string(s.Type),
		marshalStrings(s.SkillIDs),
		marshalStrings(s.Queue),
		s.Position,
		s.Streak,
		s.StartedAt,
		s.UpdatedAt,
		boolToInt(s.Completed),
		boolToInt(s.Active),
	); err != nil {
		return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", s.ID, err)
	}
	return nil
}

// Session retrieves a session by id.
func (db *DB) Session(ctx context.Context, id string) (domain.Session, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, learner_id, session_type, skill_ids, queue, position, streak, started_at, updated_at, completed, active
		FROM sessions WHERE id = ?
	`, id)

	var (
		s         domain.Session
		sType     string
		skillIDs  string
		queue     string
		completed int
		active    int
	)
	err := row.Scan(&s.ID, &s.LearnerID, &sType, &skillIDs, &queue, &s.Position, &s.Streak,
		&s.StartedAt, &s.UpdatedAt, &completed, &active)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("failed to find session %s: %w", id, err)
	}

	s.Type = domain.SessionType(sType)
	if s.SkillIDs, err = unmarshalStrings(skillIDs); err != nil {
		return domain.Session{}, err
	}
	if s.Queue, err = unmarshalStrings(queue); err != nil {
		return domain.Session{}, err
	}
	s.Completed = completed != 0
	s.Active = active != 0
	return s, nil
}

// UpdateSession persists the session's mutable progress fields.
func (db *DB) UpdateSession(ctx context.Context, s domain.Session) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sessions
		SET position = ?, streak = ?, updated_at = ?, completed = ?, active = ?
		WHERE id = ?
	`,
		s.Position,
		s.Streak,
		s.UpdatedAt,
		boolToInt(s.Completed),
		boolToInt(s.Active),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", s.ID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
