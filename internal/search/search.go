// Package search indexes highlights (their selected text and comment) and
// answers full-text queries over them.
package search

import "marginalia/internal/highlight"

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	DocumentID   string `json:"documentId"`
	SelectedText string `json:"selectedText"`
	Comment      string `json:"comment"`
	AuthorName   string `json:"authorName"`
	Snippet      string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	DocumentID string // empty = every document
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push highlights into a search index.
type Indexer interface {
	IndexHighlight(r HighlightRecord) error
	IndexHighlights(rs []HighlightRecord) error
	DeleteHighlight(id string) error
	Healthy() bool
}

// HighlightRecord is the data we index for a highlight.
type HighlightRecord struct {
	ID           string `json:"id"`
	DocumentID   string `json:"documentId"`
	SelectedText string `json:"selectedText"`
	Comment      string `json:"comment"`
	AuthorName   string `json:"authorName"`
	StartOffset  int    `json:"startOffset"`
}

// RecordFromHighlight converts a store highlight into its index record.
func RecordFromHighlight(h highlight.Highlight) HighlightRecord {
	r := HighlightRecord{
		ID:           h.ID,
		DocumentID:   h.DocumentID,
		SelectedText: h.SelectedText,
		StartOffset:  h.StartOffset,
	}
	if h.Comment != nil {
		r.Comment = h.Comment.Text
		r.AuthorName = h.Comment.AuthorName
	}
	return r
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
