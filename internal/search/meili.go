package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxHighlights = "marginalia_highlights"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  zerolog.Logger
}

// NewMeili creates a Meilisearch client, configures the index when the server
// is reachable and starts a background health monitor.
func NewMeili(url, apiKey string, logger zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := client.Health(); err != nil {
		logger.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxHighlights,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug().Err(err).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxHighlights)
	filterable := []interface{}{"documentId", "authorName"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"selectedText", "comment", "authorName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn().Err(err).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the highlight index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errors.New("meilisearch unhealthy")
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxHighlights,
		Query:                 q.Text,
		Limit:                 int64(defaultLimit(q.Limit)),
		Offset:                int64(max(q.Offset, 0)),
		AttributesToHighlight: []string{"selectedText", "comment"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.DocumentID != "" {
		sr.Filter = []string{fmt.Sprintf("documentId = %q", q.DocumentID)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:           decodeString(hit, "id"),
		DocumentID:   decodeString(hit, "documentId"),
		SelectedText: decodeString(hit, "selectedText"),
		Comment:      decodeString(hit, "comment"),
		AuthorName:   decodeString(hit, "authorName"),
	}
	r.Snippet = firstNonBlank(
		decodeFormattedString(hit, "comment"),
		decodeFormattedString(hit, "selectedText"),
		r.Comment,
		r.SelectedText,
	)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	// Only worth showing when the formatter actually marked a match.
	if !strings.Contains(s, "<mark>") {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexHighlight adds or updates a highlight in the search index.
func (m *Meili) IndexHighlight(r HighlightRecord) error {
	_, err := m.client.Index(idxHighlights).AddDocuments([]HighlightRecord{r}, nil)
	return err
}

// IndexHighlights bulk-indexes highlights.
func (m *Meili) IndexHighlights(rs []HighlightRecord) error {
	if len(rs) == 0 {
		return nil
	}
	_, err := m.client.Index(idxHighlights).AddDocuments(rs, nil)
	return err
}

// DeleteHighlight removes a highlight from the search index.
func (m *Meili) DeleteHighlight(id string) error {
	_, err := m.client.Index(idxHighlights).DeleteDocument(id, nil)
	return err
}
