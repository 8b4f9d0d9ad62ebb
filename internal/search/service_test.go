package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginalia/internal/highlight"
)

type fakeEngine struct {
	healthy bool
	results []Result
	err     error
	indexed map[string]HighlightRecord
	deleted []string
	queries []Query
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{healthy: true, indexed: make(map[string]HighlightRecord)}
}

func (f *fakeEngine) Search(q Query) ([]Result, int, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) IndexHighlight(r HighlightRecord) error {
	f.indexed[r.ID] = r
	return nil
}

func (f *fakeEngine) IndexHighlights(rs []HighlightRecord) error {
	for _, r := range rs {
		f.indexed[r.ID] = r
	}
	return nil
}

func (f *fakeEngine) DeleteHighlight(id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.indexed, id)
	return nil
}

func newTestService(primary, fallback *fakeEngine) *Service {
	s := &Service{logger: zerolog.Nop(), async: func(fn func()) { fn() }}
	if primary != nil {
		s.primary = primary
		s.indexer = primary
	}
	if fallback != nil {
		s.fallback = fallback
	}
	return s
}

func TestSearch_PrefersHealthyPrimary(t *testing.T) {
	primary := newFakeEngine()
	primary.results = []Result{{ID: "hl_1"}}
	fallback := newFakeEngine()

	resp := newTestService(primary, fallback).Search(Query{Text: "fox"})

	assert.Equal(t, []Result{{ID: "hl_1"}}, resp.Results)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "fox", resp.Query)
	assert.Empty(t, fallback.queries)
}

func TestSearch_FallsBack(t *testing.T) {
	primary := newFakeEngine()
	primary.err = errors.New("timeout")
	fallback := newFakeEngine()
	fallback.results = []Result{{ID: "hl_2"}}

	resp := newTestService(primary, fallback).Search(Query{Text: "fox"})
	assert.Equal(t, "hl_2", resp.Results[0].ID)

	primary.healthy = false
	primary.queries = nil
	newTestService(primary, fallback).Search(Query{Text: "fox"})
	assert.Empty(t, primary.queries, "unhealthy engines are not queried")
}

func TestSearch_NoBackends(t *testing.T) {
	resp := NewService(nil, nil, zerolog.Nop()).Search(Query{Text: "fox"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestSearch_FallbackErrorYieldsEmptyResponse(t *testing.T) {
	fallback := newFakeEngine()
	fallback.err = errors.New("db down")

	resp := newTestService(nil, fallback).Search(Query{Text: "fox"})
	assert.Equal(t, []Result{}, resp.Results)
}

func TestAttach_FollowsStore(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(engine, nil)
	hs := highlight.NewStore(nil, zerolog.Nop())
	stop := svc.Attach(hs)
	defer stop()

	hs.SetPendingSelection(&highlight.PendingSelection{Text: "quick brown", StartOffset: 4, EndOffset: 15})
	h, ok := hs.AddComment("note", "Ana", "u1", "doc1")
	require.True(t, ok)

	require.Contains(t, engine.indexed, h.ID)
	assert.Equal(t, HighlightRecord{
		ID: h.ID, DocumentID: "doc1", SelectedText: "quick brown", Comment: "note", AuthorName: "Ana", StartOffset: 4,
	}, engine.indexed[h.ID])

	hs.UpdateComment(h.ID, "edited")
	assert.Equal(t, "edited", engine.indexed[h.ID].Comment)

	hs.SetPendingSelection(&highlight.PendingSelection{Text: "fox", StartOffset: 16, EndOffset: 19})
	other, _ := hs.AddComment("animal", "Ana", "u1", "doc1")
	hs.DeleteHighlight(h.ID)
	hs.ClearHighlightsForDocument("doc1")

	assert.Equal(t, []string{h.ID, other.ID}, engine.deleted)
	assert.Empty(t, engine.indexed)
}

func TestAttach_SkipsUnhealthyIndex(t *testing.T) {
	engine := newFakeEngine()
	engine.healthy = false
	svc := newTestService(engine, nil)
	hs := highlight.NewStore(nil, zerolog.Nop())
	defer svc.Attach(hs)()

	hs.SetPendingSelection(&highlight.PendingSelection{Text: "x", StartOffset: 0, EndOffset: 1})
	hs.AddComment("note", "Ana", "u1", "doc1")
	assert.Empty(t, engine.indexed)
}

func TestReindexAllFromPG(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(engine, nil)
	svc.loader = func(context.Context) ([]HighlightRecord, error) {
		return []HighlightRecord{{ID: "a"}, {ID: "b"}}, nil
	}

	svc.ReindexAllFromPG(context.Background())
	assert.Len(t, engine.indexed, 2)
}

func TestHitToResult(t *testing.T) {
	raw := func(v any) json.RawMessage {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return data
	}
	hit := meili.Hit{
		"id":           raw("hl_1"),
		"documentId":   raw("doc1"),
		"selectedText": raw("quick brown"),
		"comment":      raw("a fox note"),
		"authorName":   raw("Ana"),
		"_formatted":   raw(map[string]string{"comment": "a <mark>fox</mark> note", "selectedText": "quick brown"}),
	}

	r := hitToResult(hit)
	assert.Equal(t, "hl_1", r.ID)
	assert.Equal(t, "doc1", r.DocumentID)
	assert.Equal(t, "Ana", r.AuthorName)
	assert.Equal(t, "a <mark>fox</mark> note", r.Snippet)

	delete(hit, "_formatted")
	assert.Equal(t, "a fox note", hitToResult(hit).Snippet)
}
