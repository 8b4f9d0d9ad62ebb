package highlight

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marginalia/internal/util"
)

const defaultRepoTimeout = 5 * time.Second

// Subscriber receives every effective change, after it has been applied.
type Subscriber func(Change)

// Store is the registry of highlights for one application session. Every
// operation is total: unmet preconditions are no-ops, never errors.
type Store struct {
	mu         sync.Mutex
	highlights []Highlight
	activeID   string
	pending    *PendingSelection
	composer   bool

	subMu       sync.Mutex
	subscribers map[int]Subscriber
	nextSub     int

	// repoMu orders repository writes; it is taken before mu is released.
	repoMu      sync.Mutex
	repo        Repository
	repoTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
	newID       func(prefix string) string
}

// NewStore returns an empty store. repo may be nil for a purely in-memory
// store.
func NewStore(repo Repository, logger zerolog.Logger) *Store {
	return &Store{
		subscribers: make(map[int]Subscriber),
		repo:        repo,
		repoTimeout: defaultRepoTimeout,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       util.NewID,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subscribers[id])
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}

// unlockAndMirror releases mu and then mirrors op, so readers never wait on
// the repository while writes still reach it in the order they were applied.
func (s *Store) unlockAndMirror(action string, op func(ctx context.Context, repo Repository) error) {
	s.repoMu.Lock()
	defer s.repoMu.Unlock()
	s.mu.Unlock()
	s.mirror(action, op)
}

// mirror runs op against the repository, logging instead of returning errors.
func (s *Store) mirror(action string, op func(ctx context.Context, repo Repository) error) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.repoTimeout)
	defer cancel()
	if err := op(ctx, s.repo); err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("failed to persist highlight change")
	}
}

// Hydrate replaces the in-memory highlights with the repository contents.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	list, err := s.repo.ListHighlights(ctx)
	if err != nil {
		return fmt.Errorf("list highlights: %w", err)
	}

	s.mu.Lock()
	s.highlights = make([]Highlight, 0, len(list))
	for _, h := range list {
		if h.StartOffset >= h.EndOffset {
			s.logger.Warn().Str("highlight_id", h.ID).Msg("skipping highlight with empty range")
			continue
		}
		s.highlights = append(s.highlights, h.clone())
	}
	if s.activeID != "" && s.indexOf(s.activeID) < 0 {
		s.activeID = ""
	}
	count := len(s.highlights)
	s.mu.Unlock()

	s.logger.Info().Int("count", count).Msg("highlights hydrated")
	s.publish(Change{Kind: ChangeHydrated})
	return nil
}

// SetActiveHighlight moves the active cursor; an empty id clears it.
func (s *Store) SetActiveHighlight(id string) {
	s.mu.Lock()
	if s.activeID == id {
		s.mu.Unlock()
		return
	}
	s.activeID = id
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeActive, HighlightID: id})
}

// SetPendingSelection fills or (with nil) empties the pending slot.
func (s *Store) SetPendingSelection(sel *PendingSelection) {
	s.mu.Lock()
	if sel == nil {
		s.pending = nil
	} else {
		p := *sel
		s.pending = &p
	}
	s.mu.Unlock()

	s.publish(Change{Kind: ChangePending})
}

// OpenComposer marks the comment composer as open.
func (s *Store) OpenComposer() {
	s.mu.Lock()
	if s.composer {
		s.mu.Unlock()
		return
	}
	s.composer = true
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeComposer})
}

// CloseComposer closes the composer and abandons the pending selection.
func (s *Store) CloseComposer() {
	s.mu.Lock()
	if !s.composer && s.pending == nil {
		s.mu.Unlock()
		return
	}
	s.composer = false
	s.pending = nil
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeComposer})
}

// AddComment commits the pending selection as a new highlight on documentID
// carrying text as its comment. The new highlight becomes active. Nothing
// happens without a pending selection, with a blank comment, or when the
// pending selection was captured on another document.
func (s *Store) AddComment(text, authorName, authorID, documentID string) (Highlight, bool) {
	if strings.TrimSpace(text) == "" {
		return Highlight{}, false
	}

	s.mu.Lock()
	if s.pending == nil || s.pending.StartOffset >= s.pending.EndOffset ||
		(s.pending.DocumentID != "" && s.pending.DocumentID != documentID) {
		s.mu.Unlock()
		return Highlight{}, false
	}
	now := s.now()
	h := Highlight{
		ID:           s.newID("hl"),
		DocumentID:   documentID,
		SelectedText: s.pending.Text,
		StartOffset:  s.pending.StartOffset,
		EndOffset:    s.pending.EndOffset,
		Comment: &Comment{
			ID:         s.newID("cm"),
			AuthorID:   authorID,
			AuthorName: authorName,
			Text:       text,
			CreatedAt:  now,
		},
		CreatedAt: now,
	}
	s.highlights = append(s.highlights, h)
	s.pending = nil
	s.composer = false
	s.activeID = h.ID
	s.unlockAndMirror("save", func(ctx context.Context, repo Repository) error {
		return repo.SaveHighlight(ctx, h)
	})

	s.logger.Debug().
		Str("highlight_id", h.ID).
		Str("document_id", documentID).
		Int("start", h.StartOffset).
		Int("end", h.EndOffset).
		Msg("highlight added")
	s.publish(Change{Kind: ChangeAdded, HighlightID: h.ID, DocumentID: documentID})
	return h.clone(), true
}

// UpdateComment replaces the comment text of an existing, commented highlight.
func (s *Store) UpdateComment(highlightID, text string) bool {
	s.mu.Lock()
	idx := s.indexOf(highlightID)
	if idx < 0 || s.highlights[idx].Comment == nil {
		s.mu.Unlock()
		return false
	}
	updated := *s.highlights[idx].Comment
	updated.Text = text
	s.highlights[idx].Comment = &updated
	documentID := s.highlights[idx].DocumentID
	s.unlockAndMirror("update_comment", func(ctx context.Context, repo Repository) error {
		return repo.UpdateComment(ctx, highlightID, text)
	})

	s.publish(Change{Kind: ChangeCommentUpdated, HighlightID: highlightID, DocumentID: documentID})
	return true
}

// DeleteHighlight removes a highlight, clearing the active cursor if it
// pointed at it.
func (s *Store) DeleteHighlight(highlightID string) bool {
	s.mu.Lock()
	idx := s.indexOf(highlightID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	documentID := s.highlights[idx].DocumentID
	s.highlights = slices.Delete(s.highlights, idx, idx+1)
	if s.activeID == highlightID {
		s.activeID = ""
	}
	s.unlockAndMirror("delete", func(ctx context.Context, repo Repository) error {
		return repo.DeleteHighlight(ctx, highlightID)
	})

	s.publish(Change{Kind: ChangeDeleted, HighlightID: highlightID, DocumentID: documentID})
	return true
}

// ClearHighlightsForDocument removes every highlight on documentID and
// returns how many were removed.
func (s *Store) ClearHighlightsForDocument(documentID string) int {
	s.mu.Lock()
	var removed []string
	kept := s.highlights[:0]
	for _, h := range s.highlights {
		if h.DocumentID == documentID {
			removed = append(removed, h.ID)
			continue
		}
		kept = append(kept, h)
	}
	clear(s.highlights[len(kept):])
	s.highlights = kept
	if len(removed) == 0 {
		s.mu.Unlock()
		return 0
	}
	if slices.Contains(removed, s.activeID) {
		s.activeID = ""
	}
	s.unlockAndMirror("clear_document", func(ctx context.Context, repo Repository) error {
		return repo.DeleteHighlightsForDocument(ctx, documentID)
	})

	s.publish(Change{Kind: ChangeDocumentCleared, DocumentID: documentID, HighlightIDs: removed})
	return len(removed)
}

// RestoreUI reinstates a previously saved UIState. An active id that no
// longer exists is dropped.
func (s *Store) RestoreUI(state UIState) {
	s.mu.Lock()
	s.composer = state.ComposerOpen
	s.pending = nil
	if state.PendingSelection != nil {
		p := *state.PendingSelection
		s.pending = &p
	}
	s.activeID = ""
	if s.indexOf(state.ActiveHighlightID) >= 0 {
		s.activeID = state.ActiveHighlightID
	}
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeRestored})
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.highlights, func(h Highlight) bool { return h.ID == id })
}

// Get returns a copy of one highlight.
func (s *Store) Get(id string) (Highlight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return Highlight{}, false
	}
	return s.highlights[idx].clone(), true
}

// Highlights returns every highlight ordered by creation time.
func (s *Store) Highlights() []Highlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(func(Highlight) bool { return true })
}

// ForDocument returns the highlights on documentID ordered by creation time.
func (s *Store) ForDocument(documentID string) []Highlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(func(h Highlight) bool { return h.DocumentID == documentID })
}

func (s *Store) collect(keep func(Highlight) bool) []Highlight {
	out := make([]Highlight, 0, len(s.highlights))
	for _, h := range s.highlights {
		if keep(h) {
			out = append(out, h.clone())
		}
	}
	slices.SortStableFunc(out, func(a, b Highlight) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Ranges returns the render ranges for documentID sorted by start, then end,
// then id.
func (s *Store) Ranges(documentID string) []Range {
	s.mu.Lock()
	ranges := make([]Range, 0, len(s.highlights))
	for _, h := range s.highlights {
		if h.DocumentID == documentID {
			ranges = append(ranges, Range{ID: h.ID, Start: h.StartOffset, End: h.EndOffset})
		}
	}
	s.mu.Unlock()

	SortRanges(ranges)
	return ranges
}

// SortRanges orders ranges by start, then end, then id.
func SortRanges(ranges []Range) {
	slices.SortFunc(ranges, func(a, b Range) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.End, b.End), cmp.Compare(a.ID, b.ID))
	})
}

// ActiveHighlightID returns the active highlight id, or "".
func (s *Store) ActiveHighlightID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// PendingSelection returns a copy of the pending selection, or nil.
func (s *Store) PendingSelection() *PendingSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

// IsComposerOpen reports whether the comment composer is open.
func (s *Store) IsComposerOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer
}

// UI returns the transient state without highlights.
func (s *Store) UI() UIState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uiLocked()
}

func (s *Store) uiLocked() UIState {
	state := UIState{ActiveHighlightID: s.activeID, ComposerOpen: s.composer}
	if s.pending != nil {
		p := *s.pending
		state.PendingSelection = &p
	}
	return state
}

// Snapshot returns a copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		UIState:    s.uiLocked(),
		Highlights: s.collect(func(Highlight) bool { return true }),
	}
}
