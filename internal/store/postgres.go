package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marginalia/internal/highlight"
	"marginalia/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureUserByName returns the user called name, creating an editor if the
// name is new.
func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, role, created_at
	`, util.NewID("usr"), name).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, role, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, source_format, created_by, created_at, updated_at
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.SourceFormat, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, source_format, created_by, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.Title, &item.SourceFormat, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, source_format, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Title, item.SourceFormat, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// TouchDocument records a content change.
func (s *PostgresStore) TouchDocument(ctx context.Context, documentID, title string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title=$2, updated_at=NOW() WHERE id=$1
	`, documentID, title)
	if err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveHighlight(ctx context.Context, h highlight.Highlight) error {
	var commentID, authorID, authorName, text sql.NullString
	var commentAt sql.NullTime
	if h.Comment != nil {
		commentID = sql.NullString{String: h.Comment.ID, Valid: true}
		authorID = sql.NullString{String: h.Comment.AuthorID, Valid: true}
		authorName = sql.NullString{String: h.Comment.AuthorName, Valid: true}
		text = sql.NullString{String: h.Comment.Text, Valid: true}
		commentAt = sql.NullTime{Time: h.Comment.CreatedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO highlights (
			id, document_id, selected_text, start_offset, end_offset,
			comment_id, comment_author_id, comment_author_name, comment_text, comment_created_at,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, h.ID, h.DocumentID, h.SelectedText, h.StartOffset, h.EndOffset,
		commentID, authorID, authorName, text, commentAt, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert highlight: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, highlightID, text string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE highlights SET comment_text=$2 WHERE id=$1 AND comment_id IS NOT NULL
	`, highlightID, text)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteHighlight(ctx context.Context, highlightID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE id=$1`, highlightID)
	if err != nil {
		return fmt.Errorf("delete highlight: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteHighlightsForDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE document_id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document highlights: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListHighlights(ctx context.Context) ([]highlight.Highlight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, selected_text, start_offset, end_offset,
			comment_id, comment_author_id, comment_author_name, comment_text, comment_created_at,
			created_at
		FROM highlights
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}
	defer rows.Close()

	items := make([]highlight.Highlight, 0)
	for rows.Next() {
		var h highlight.Highlight
		var commentID, authorID, authorName, text sql.NullString
		var commentAt sql.NullTime
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.SelectedText, &h.StartOffset, &h.EndOffset,
			&commentID, &authorID, &authorName, &text, &commentAt, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		if commentID.Valid {
			h.Comment = &highlight.Comment{
				ID:         commentID.String,
				AuthorID:   authorID.String,
				AuthorName: authorName.String,
				Text:       text.String,
				CreatedAt:  commentAt.Time,
			}
		}
		items = append(items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate highlights: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertExportArtifact(ctx context.Context, a ExportArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_artifacts (id, document_id, format, object_key, size_bytes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.DocumentID, a.Format, a.ObjectKey, a.SizeBytes, a.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert export artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExportArtifacts(ctx context.Context, documentID string) ([]ExportArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, format, object_key, size_bytes, created_by, created_at
		FROM export_artifacts
		WHERE document_id=$1
		ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list export artifacts: %w", err)
	}
	defer rows.Close()

	items := make([]ExportArtifact, 0)
	for rows.Next() {
		var a ExportArtifact
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.Format, &a.ObjectKey, &a.SizeBytes, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export artifact: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export artifacts: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ highlight.Repository = (*PostgresStore)(nil)
