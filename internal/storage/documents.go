package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --- Documents ---

const documentColumns = `id, name, document_type, document_url, document_text, sha, team_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var teamID sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.Name, &d.Type, &d.URL, &d.Text, &d.SHA, &teamID, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	d.TeamID = teamID.String
	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateDocument inserts doc, assigning an ID and timestamps when missing.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().UTC().Truncate(time.Second)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.Type, doc.URL, doc.Text, doc.SHA, nullable(doc.TeamID),
		doc.CreatedAt.UTC().Format(time.RFC3339), doc.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	return d, err
}

// FindDocumentByURL returns the most recently updated document with the given URL.
func (s *Store) FindDocumentByURL(ctx context.Context, url string) (Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE document_url = ? ORDER BY updated_at DESC LIMIT 1`, url))
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	return d, err
}

// UpdateDocument replaces the mutable fields of an existing document.
func (s *Store) UpdateDocument(ctx context.Context, doc Document) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET name = ?, document_type = ?, document_url = ?, document_text = ?, sha = ?, team_id = ?, updated_at = ?
		WHERE id = ?`,
		doc.Name, doc.Type, doc.URL, doc.Text, doc.SHA, nullable(doc.TeamID),
		time.Now().UTC().Format(time.RFC3339), doc.ID,
	)
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

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
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

func (s *Store) ListDocuments(ctx context.Context, f DocumentFilter) ([]Document, error) {
	var where []string
	var args []any
	if f.TeamID != "" {
		where = append(where, "(team_id IS NULL OR team_id = ?)")
		args = append(args, f.TeamID)
	}
	if f.Type != "" {
		where = append(where, "document_type = ?")
		args = append(args, f.Type)
	}
	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// --- Teams ---

func (s *Store) CreateTeam(ctx context.Context, name string) (Team, error) {
	t := Team{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO teams (id, name, created_at) VALUES (?, ?, ?)`,
		t.ID, t.Name, t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Team{}, err
	}
	return t, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (Team, error) {
	var t Team
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM teams WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &createdAt)
	if err == sql.ErrNoRows {
		return Team{}, ErrNotFound
	}
	if err != nil {
		return Team{}, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Team{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

func (s *Store) ListTeams(ctx context.Context) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM teams ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Team
	for rows.Next() {
		var t Team
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}
