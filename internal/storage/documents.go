package storage

import "time"

func (s *Store) SaveDocument(d Document) error {
	status := d.Status
	if status == "" {
		status = "queued"
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, user_name, title, type, content, status, facts_learned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserName, d.Title, d.Type, d.Content, status, d.FactsLearned, formatTime(d.CreatedAt),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_name, title, type, content, status, facts_learned, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.UserName, &d.Title, &d.Type, &d.Content, &d.Status, &d.FactsLearned, &createdAt)
	if isNoRows(err) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Document{}, err
	}
	return d, nil
}

// MarkDocument records the outcome of learning from a document.
func (s *Store) MarkDocument(id, status string, factsLearned int) error {
	res, err := s.db.Exec(`UPDATE documents SET status = ?, facts_learned = ? WHERE id = ?`, status, factsLearned, id)
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
