package storage

import (
	"fmt"
	"time"
)

// AppendMessage stores m, creating its session row on first use. A session
// stays bound to the user who started it; appending as anyone else fails
// with ErrSessionOwner.
func (s *Store) AppendMessage(userName string, m SessionMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	created := formatTime(m.CreatedAt)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO sessions (id, user_name, created_at) VALUES (?, ?, ?)`,
		m.SessionID, userName, created); err != nil {
		return fmt.Errorf("creating session %s: %w", m.SessionID, err)
	}
	var owner string
	if err := tx.QueryRow(`SELECT user_name FROM sessions WHERE id = ?`, m.SessionID).Scan(&owner); err != nil {
		return fmt.Errorf("reading session %s: %w", m.SessionID, err)
	}
	if owner != userName {
		return ErrSessionOwner
	}
	if _, err := tx.Exec(`
		INSERT INTO session_messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, created,
	); err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ID, err)
	}
	return tx.Commit()
}

// RecentMessages returns at most limit messages of a session, oldest first.
// A limit <= 0 returns the whole history.
func (s *Store) RecentMessages(sessionID string, limit int) ([]SessionMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, created_at FROM (
			SELECT seq, id, session_id, role, content, created_at
			FROM session_messages WHERE session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionMessage
	for rows.Next() {
		var m SessionMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SessionOwner returns the user a session was started by.
func (s *Store) SessionOwner(sessionID string) (string, error) {
	var user string
	err := s.db.QueryRow(`SELECT user_name FROM sessions WHERE id = ?`, sessionID).Scan(&user)
	if err != nil {
		if isNoRows(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return user, nil
}

// DeleteSession removes a session and all of its messages.
func (s *Store) DeleteSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
