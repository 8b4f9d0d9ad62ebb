package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches highlights with plainto_tsquery, ranks them with ts_rank
// and builds snippets with ts_headline.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where := "h.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.DocumentID != "" {
		where += " AND h.document_id = $2"
		args = append(args, q.DocumentID)
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM highlights h WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT h.id, h.document_id, h.selected_text,
			coalesce(h.comment_text, ''), coalesce(h.comment_author_name, ''),
			ts_headline('english', h.selected_text || ' ' || coalesce(h.comment_text, ''),
				plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM highlights h
		WHERE %s
		ORDER BY ts_rank(h.fts, plainto_tsquery('english', $1)) DESC, h.created_at DESC
		LIMIT %d OFFSET %d`, where, defaultLimit(q.Limit), max(q.Offset, 0))

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.SelectedText, &r.Comment, &r.AuthorName, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every highlight for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]HighlightRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, document_id, selected_text, coalesce(comment_text, ''), coalesce(comment_author_name, ''), start_offset
		FROM highlights
	`)
	if err != nil {
		return nil, fmt.Errorf("load highlights: %w", err)
	}
	defer rows.Close()

	records := make([]HighlightRecord, 0)
	for rows.Next() {
		var r HighlightRecord
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.SelectedText, &r.Comment, &r.AuthorName, &r.StartOffset); err != nil {
			return nil, fmt.Errorf("scan highlight: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate highlights: %w", err)
	}
	return records, nil
}
