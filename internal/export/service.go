package export

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marginalia/internal/content"
	"marginalia/internal/gitrepo"
	"marginalia/internal/highlight"
	"marginalia/internal/render"
	"marginalia/internal/store"
	"marginalia/internal/util"
)

// ContentSource loads versioned document content.
type ContentSource interface {
	GetHeadContent(documentID string) (gitrepo.Content, store.CommitInfo, error)
	GetContentByHash(documentID, hash string) (gitrepo.Content, error)
}

// HighlightSource lists the highlights of one document.
type HighlightSource interface {
	ForDocument(documentID string) []highlight.Highlight
}

// ArtifactRecorder records uploaded artifacts.
type ArtifactRecorder interface {
	InsertExportArtifact(ctx context.Context, a store.ExportArtifact) error
}

type converter func(ctx context.Context, html string) ([]byte, error)

// Service provides document export functionality
type Service struct {
	content    ContentSource
	highlights HighlightSource
	uploader   Uploader
	artifacts  ArtifactRecorder
	logger     zerolog.Logger

	pdf  converter
	docx converter
	now  func() time.Time
}

func NewService(contents ContentSource, highlights HighlightSource, opts Options, logger zerolog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Service{
		content:    contents,
		highlights: highlights,
		logger:     logger,
		pdf:        pdfConverter(opts),
		docx:       docxConverter(opts),
		now:        time.Now,
	}
}

// WithStorage enables uploading artifacts. recorder may be nil.
func (s *Service) WithStorage(uploader Uploader, recorder ArtifactRecorder) *Service {
	s.uploader = uploader
	s.artifacts = recorder
	return s
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	format, err := ParseFormat(string(req.Format))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, req.Format)
	}

	doc, version, err := s.load(req)
	if err != nil {
		return nil, err
	}
	tree, err := doc.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	var highlights []highlight.Highlight
	if s.highlights != nil {
		highlights = s.highlights.ForDocument(req.DocumentID)
	}

	html, err := BuildHTML(Page{
		Title:           doc.Title,
		Version:         version,
		RequestedBy:     req.RequestedBy,
		GeneratedAt:     s.now(),
		Tree:            tree,
		Highlights:      highlights,
		IncludeComments: req.IncludeComments,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var data []byte
	switch format {
	case FormatHTML:
		data = []byte(html)
	case FormatPDF:
		data, err = s.pdf(ctx, html)
	case FormatDOCX:
		data, err = s.docx(ctx, html)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		Data:     data,
		Filename: sanitizeFilename(doc.Title) + "." + string(format),
		MimeType: mimeType(format),
	}
	s.logger.Info().
		Str("document_id", req.DocumentID).
		Str("format", string(format)).
		Int("bytes", len(data)).
		Int("highlights", len(highlights)).
		Msg("document exported")

	if s.uploader != nil {
		s.upload(ctx, req, format, result)
	}
	return result, nil
}

func (s *Service) load(req Request) (gitrepo.Content, string, error) {
	if req.Version == "" || req.Version == "latest" {
		doc, head, err := s.content.GetHeadContent(req.DocumentID)
		if err != nil {
			return gitrepo.Content{}, "", fmt.Errorf("%w: %v", ErrContentUnavailable, err)
		}
		return doc, shortHash(head.Hash), nil
	}
	doc, err := s.content.GetContentByHash(req.DocumentID, req.Version)
	if err != nil {
		return gitrepo.Content{}, "", fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	return doc, shortHash(req.Version), nil
}

// upload stores the artifact. Failures are logged; the caller still gets
// the generated file.
func (s *Service) upload(ctx context.Context, req Request, format Format, result *Result) {
	key := fmt.Sprintf("%s/%s-%s", req.DocumentID, s.now().UTC().Format("20060102T150405Z"), result.Filename)
	if err := s.uploader.Upload(ctx, key, result.Data, result.MimeType); err != nil {
		s.logger.Error().Err(err).Str("document_id", req.DocumentID).Msg("upload export artifact")
		return
	}
	result.ObjectKey = key

	if s.artifacts == nil {
		return
	}
	err := s.artifacts.InsertExportArtifact(ctx, store.ExportArtifact{
		ID:         util.NewID("exp"),
		DocumentID: req.DocumentID,
		Format:     string(format),
		ObjectKey:  key,
		SizeBytes:  int64(len(result.Data)),
		CreatedBy:  req.RequestedBy,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("object_key", key).Msg("record export artifact")
	}
}

// Page is everything needed to lay out one exported document.
type Page struct {
	Title           string
	Version         string
	RequestedBy     string
	GeneratedAt     time.Time
	Tree            content.Node
	Highlights      []highlight.Highlight
	IncludeComments bool
}

// BuildHTML overlays the highlights on the content tree and lays the result
// out as a standalone HTML document, optionally followed by the comments.
func BuildHTML(p Page) (string, error) {
	ordered := slices.Clone(p.Highlights)
	slices.SortFunc(ordered, func(a, b highlight.Highlight) int {
		if a.StartOffset != b.StartOffset {
			return a.StartOffset - b.StartOffset
		}
		if a.EndOffset != b.EndOffset {
			return a.EndOffset - b.EndOffset
		}
		return strings.Compare(a.ID, b.ID)
	})

	ranges := make([]highlight.Range, 0, len(ordered))
	for _, h := range ordered {
		ranges = append(ranges, highlight.Range{ID: h.ID, Start: h.StartOffset, End: h.EndOffset})
	}

	body, err := content.RenderHTML(render.Render(p.Tree, ranges, "", nil))
	if err != nil {
		return "", err
	}

	data := TemplateData{
		Title:       p.Title,
		Version:     p.Version,
		RequestedBy: p.RequestedBy,
		GeneratedAt: p.GeneratedAt,
		ContentHTML: SanitizeContent(body),
	}
	if data.Title == "" {
		data.Title = "Untitled"
	}
	if p.IncludeComments {
		for _, h := range ordered {
			if h.Comment == nil {
				continue
			}
			data.Comments = append(data.Comments, TemplateComment{
				Index:       len(data.Comments) + 1,
				HighlightID: h.ID,
				Quote:       h.SelectedText,
				Author:      h.Comment.AuthorName,
				Text:        h.Comment.Text,
				CreatedAt:   h.Comment.CreatedAt,
			})
		}
	}
	return RenderDocumentHTML(data)
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
