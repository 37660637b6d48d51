package storage

import (
	"context"
	"fmt"
	"time"
)

// PutProfile writes the serialized profile for userName, replacing any
// previous record. created_at survives the overwrite.
func (s *Store) PutProfile(userName, data string) error {
	now := formatTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO profiles (user_name, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userName, data, now, now,
	)
	return err
}

// CreateProfileIfMissing inserts data for userName unless a record already
// exists, and reports whether it inserted one.
func (s *Store) CreateProfileIfMissing(userName, data string) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.db.Exec(`
		INSERT INTO profiles (user_name, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_name) DO NOTHING`,
		userName, data, now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetProfile(userName string) (ProfileRecord, error) {
	var rec ProfileRecord
	var createdAt, updatedAt string
	err := s.db.QueryRow(`SELECT user_name, data, created_at, updated_at FROM profiles WHERE user_name = ?`, userName).
		Scan(&rec.UserName, &rec.Data, &createdAt, &updatedAt)
	if isNoRows(err) {
		return ProfileRecord{}, ErrNotFound
	}
	if err != nil {
		return ProfileRecord{}, err
	}
	if rec.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ProfileRecord{}, err
	}
	if rec.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return ProfileRecord{}, err
	}
	return rec, nil
}

func (s *Store) DeleteProfile(userName string) error {
	res, err := s.db.Exec(`DELETE FROM profiles WHERE user_name = ?`, userName)
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
	return nil
}

// ListProfileNames returns all stored user names in ascending order.
func (s *Store) ListProfileNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT user_name FROM profiles ORDER BY user_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// UpdateProfile rewrites the record for userName with the result of fn,
// inside a BEGIN IMMEDIATE transaction so that writers in other processes
// sharing the database file cannot interleave with the read-modify-write.
// An error from fn aborts the update and is returned unchanged.
// fn runs while the store's only connection is held and must not call back
// into the Store.
func (s *Store) UpdateProfile(userName string, fn func(data string) (string, error)) (err error) {
	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("beginning profile update: %w", err)
	}
	defer func() {
		if err != nil {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	var data string
	err = conn.QueryRowContext(ctx, `SELECT data FROM profiles WHERE user_name = ?`, userName).Scan(&data)
	if isNoRows(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	out, err := fn(data)
	if err != nil {
		return err
	}

	if _, err = conn.ExecContext(ctx, `UPDATE profiles SET data = ?, updated_at = ? WHERE user_name = ?`,
		out, formatTime(time.Now()), userName); err != nil {
		return err
	}
	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("committing profile update: %w", err)
	}
	return nil
}

// ProfileRevision returns a counter that grows with every write to the
// profiles table, whichever process made it.
func (s *Store) ProfileRevision() (int64, error) {
	var rev int64
	if err := s.db.QueryRow(`SELECT rev FROM profile_revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, err
	}
	return rev, nil
}
