package search

import (
	"context"

	"github.com/rs/zerolog"

	"marginalia/internal/highlight"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	loader   func(ctx context.Context) ([]HighlightRecord, error)
	logger   zerolog.Logger
	async    func(func())
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured; pgfts may be nil when there is no database.
func NewService(meili *Meili, pgfts *PgFTS, logger zerolog.Logger) *Service {
	s := &Service{logger: logger, async: func(fn func()) { go fn() }}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) indexing() bool {
	return s.indexer != nil && s.indexer.Healthy()
}

// IndexHighlight indexes a highlight (fire-and-forget to Meilisearch).
func (s *Service) IndexHighlight(r HighlightRecord) {
	if !s.indexing() {
		return
	}
	s.async(func() {
		if err := s.indexer.IndexHighlight(r); err != nil {
			s.logger.Warn().Err(err).Str("highlight_id", r.ID).Msg("index highlight")
		}
	})
}

// DeleteHighlights removes highlights from the index (fire-and-forget).
func (s *Service) DeleteHighlights(ids ...string) {
	if !s.indexing() || len(ids) == 0 {
		return
	}
	s.async(func() {
		for _, id := range ids {
			if err := s.indexer.DeleteHighlight(id); err != nil {
				s.logger.Warn().Err(err).Str("highlight_id", id).Msg("delete highlight from index")
			}
		}
	})
}

// ReindexAll pushes records to Meilisearch.
func (s *Service) ReindexAll(records []HighlightRecord) {
	if !s.indexing() || len(records) == 0 {
		return
	}
	if err := s.indexer.IndexHighlights(records); err != nil {
		s.logger.Warn().Err(err).Int("count", len(records)).Msg("reindex highlights")
	}
}

// ReindexAllFromPG reindexes every highlight stored in PostgreSQL.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexing() || s.loader == nil {
		return
	}
	records, err := s.loader(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reindex load failed")
		return
	}
	s.ReindexAll(records)
}

// Attach keeps the index in step with hs and returns a function that stops
// following it.
func (s *Service) Attach(hs *highlight.Store) func() {
	return hs.Subscribe(func(c highlight.Change) {
		switch c.Kind {
		case highlight.ChangeAdded, highlight.ChangeCommentUpdated:
			if h, ok := hs.Get(c.HighlightID); ok {
				s.IndexHighlight(RecordFromHighlight(h))
			}
		case highlight.ChangeDeleted:
			s.DeleteHighlights(c.HighlightID)
		case highlight.ChangeDocumentCleared:
			s.DeleteHighlights(c.HighlightIDs...)
		case highlight.ChangeHydrated:
			all := hs.Highlights()
			records := make([]HighlightRecord, 0, len(all))
			for _, h := range all {
				records = append(records, RecordFromHighlight(h))
			}
			s.async(func() { s.ReindexAll(records) })
		}
	})
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
