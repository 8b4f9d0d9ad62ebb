// Package shell wires selection capture, the highlight store and the range
// renderer together for one document instance.
package shell

import (
	"sync"

	"github.com/rs/zerolog"

	"marginalia/internal/content"
	"marginalia/internal/highlight"
	"marginalia/internal/render"
	"marginalia/internal/selection"
)

// Shell presents one document with its highlights. Selections are captured
// against the most recently rendered tree; marks flatten exactly like the
// text they wrap, so offsets agree with the original tree.
type Shell struct {
	documentID string
	store      *highlight.Store
	capturer   *selection.Capturer
	logger     zerolog.Logger

	mu       sync.Mutex
	original content.Node
	rendered content.Node

	unsubscribe func()
}

// New binds tree to documentID. clearer removes the native selection after
// a capture and may be nil.
func New(documentID string, tree content.Node, store *highlight.Store, clearer selection.Clearer, logger zerolog.Logger) *Shell {
	s := &Shell{
		documentID: documentID,
		store:      store,
		logger:     logger.With().Str("document_id", documentID).Logger(),
		original:   tree,
	}
	s.capturer = selection.NewCapturer(selection.Container{Node: tree}, clearer, s.onCapture, s.logger)
	s.capturer.SetEnabled(!store.IsComposerOpen())
	s.unsubscribe = store.Subscribe(func(highlight.Change) {
		s.capturer.SetEnabled(!store.IsComposerOpen())
	})
	return s
}

// DocumentID returns the bound document id.
func (s *Shell) DocumentID() string {
	return s.documentID
}

// Close detaches the shell from the store.
func (s *Shell) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Shell) onCapture(res selection.Result) {
	s.store.SetPendingSelection(&highlight.PendingSelection{
		DocumentID:  s.documentID,
		Text:        res.Text,
		StartOffset: res.StartOffset,
		EndOffset:   res.EndOffset,
	})
	s.store.OpenComposer()
}

// HandlePointerUp captures raw, stores it as the pending selection and opens
// the composer. Nothing happens while the composer is already open.
func (s *Shell) HandlePointerUp(raw selection.Raw) (selection.Result, bool) {
	return s.capturer.OnPointerUp(raw)
}

// Render recomputes the overlay from the original tree and the store's
// current ranges for the document.
func (s *Shell) Render() content.Node {
	s.mu.Lock()
	original := s.original
	s.mu.Unlock()

	out := render.Render(original, s.store.Ranges(s.documentID), s.store.ActiveHighlightID(), s.store.SetActiveHighlight)

	s.mu.Lock()
	s.rendered = out
	s.mu.Unlock()
	s.capturer.SetContainer(selection.Container{Node: out})
	return out
}

// HandleClick delivers a click at path in the rendered tree. A click that no
// highlight handles reaches the container and clears the active highlight.
// It reports whether a highlight handled the click.
func (s *Shell) HandleClick(path []int) bool {
	s.mu.Lock()
	tree := s.rendered
	s.mu.Unlock()
	if tree == nil {
		tree = s.Render()
	}

	if _, stopped := content.Dispatch(tree, path); stopped {
		return true
	}
	s.store.SetActiveHighlight("")
	return false
}

// SetContent replaces the original tree. Stored offsets are not re-anchored.
func (s *Shell) SetContent(tree content.Node) {
	s.mu.Lock()
	s.original = tree
	s.rendered = nil
	s.mu.Unlock()
	s.capturer.SetContainer(selection.Container{Node: tree})
}

// Content returns the original tree.
func (s *Shell) Content() content.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.original
}
