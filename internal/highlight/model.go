// Package highlight holds the highlight ranges committed for each document,
// together with the transient selection and composer state that feeds them.
package highlight

import (
	"context"
	"time"
)

// Comment is the note attached to a highlight.
type Comment struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Highlight is a commented range over a document's flattened text. Offsets
// are only meaningful against the document as it was when captured.
type Highlight struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"documentId"`
	SelectedText string    `json:"selectedText"`
	StartOffset  int       `json:"startOffset"`
	EndOffset    int       `json:"endOffset"`
	Comment      *Comment  `json:"comment"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (h Highlight) clone() Highlight {
	if h.Comment != nil {
		c := *h.Comment
		h.Comment = &c
	}
	return h
}

// Range is the half-open span [Start, End) of a highlight, used for rendering.
type Range struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// PendingSelection is a captured selection waiting for the composer.
// DocumentID names the document the offsets belong to; empty means unbound.
type PendingSelection struct {
	DocumentID  string `json:"documentId,omitempty"`
	Text        string `json:"text"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
}

// UIState is the transient part of the store: everything except highlights.
type UIState struct {
	ActiveHighlightID string            `json:"activeHighlightId,omitempty"`
	PendingSelection  *PendingSelection `json:"pendingSelection,omitempty"`
	ComposerOpen      bool              `json:"composerOpen"`
}

// Snapshot is a point-in-time copy of the whole store.
type Snapshot struct {
	UIState
	Highlights []Highlight `json:"highlights"`
}

// ChangeKind identifies the transition that produced a Change.
type ChangeKind string

const (
	ChangeActive          ChangeKind = "active"
	ChangePending         ChangeKind = "pending"
	ChangeComposer        ChangeKind = "composer"
	ChangeAdded           ChangeKind = "added"
	ChangeCommentUpdated  ChangeKind = "comment_updated"
	ChangeDeleted         ChangeKind = "deleted"
	ChangeDocumentCleared ChangeKind = "document_cleared"
	ChangeHydrated        ChangeKind = "hydrated"
	ChangeRestored        ChangeKind = "restored"
)

// Change describes one effective mutation. HighlightIDs lists every removed
// highlight for ChangeDocumentCleared.
type Change struct {
	Kind         ChangeKind
	HighlightID  string
	DocumentID   string
	HighlightIDs []string
}

// Repository persists highlights. The store treats it as a mirror: failures
// are logged and the in-memory state stays authoritative.
type Repository interface {
	SaveHighlight(ctx context.Context, h Highlight) error
	UpdateComment(ctx context.Context, highlightID, text string) error
	DeleteHighlight(ctx context.Context, highlightID string) error
	DeleteHighlightsForDocument(ctx context.Context, documentID string) error
	ListHighlights(ctx context.Context) ([]Highlight, error)
}
