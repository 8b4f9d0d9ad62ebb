package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginalia/internal/content"
	"marginalia/internal/gitrepo"
	"marginalia/internal/highlight"
	"marginalia/internal/store"
)

var exportTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeContent struct {
	head     gitrepo.Content
	byHash   map[string]gitrepo.Content
	headHash string
	err      error
}

func (f *fakeContent) GetHeadContent(documentID string) (gitrepo.Content, store.CommitInfo, error) {
	if f.err != nil {
		return gitrepo.Content{}, store.CommitInfo{}, f.err
	}
	return f.head, store.CommitInfo{Hash: f.headHash}, nil
}

func (f *fakeContent) GetContentByHash(documentID, hash string) (gitrepo.Content, error) {
	c, ok := f.byHash[hash]
	if !ok {
		return gitrepo.Content{}, gitrepo.ErrRepoNotFound
	}
	return c, nil
}

type fakeHighlights []highlight.Highlight

func (f fakeHighlights) ForDocument(documentID string) []highlight.Highlight {
	var out []highlight.Highlight
	for _, h := range f {
		if h.DocumentID == documentID {
			out = append(out, h)
		}
	}
	return out
}

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

type fakeRecorder struct {
	artifacts []store.ExportArtifact
}

func (f *fakeRecorder) InsertExportArtifact(ctx context.Context, a store.ExportArtifact) error {
	f.artifacts = append(f.artifacts, a)
	return nil
}

func sampleHTMLContent() gitrepo.Content {
	return gitrepo.Content{
		Title:  "Field Notes",
		Format: gitrepo.FormatHTML,
		HTML:   `<p>Hello brave world</p><p>Second line</p>`,
	}
}

func sampleHighlights() fakeHighlights {
	return fakeHighlights{
		{
			ID: "hl_b", DocumentID: "doc-1", SelectedText: "Second", StartOffset: 17, EndOffset: 23,
			Comment: &highlight.Comment{ID: "cm_b", AuthorName: "Sam", Text: "second comment", CreatedAt: exportTime},
		},
		{
			ID: "hl_a", DocumentID: "doc-1", SelectedText: "brave", StartOffset: 6, EndOffset: 11,
			Comment: &highlight.Comment{ID: "cm_a", AuthorName: "Avery", Text: "first <b>comment</b>", CreatedAt: exportTime},
		},
		{ID: "hl_other", DocumentID: "doc-2", SelectedText: "x", StartOffset: 0, EndOffset: 1},
	}
}

func newTestService(c ContentSource, h HighlightSource) *Service {
	svc := NewService(c, h, Options{}, zerolog.Nop())
	svc.now = func() time.Time { return exportTime }
	svc.pdf = func(ctx context.Context, html string) ([]byte, error) {
		return []byte("%PDF-" + html[:15]), nil
	}
	svc.docx = func(ctx context.Context, html string) ([]byte, error) {
		return []byte("PK"), nil
	}
	return svc
}

func TestBuildHTML(t *testing.T) {
	tree := content.NewContainer("article", nil,
		content.NewContainer("p", nil, content.NewText("Hello brave world")),
		content.NewContainer("p", nil, content.NewText("Second line")),
	)

	out, err := BuildHTML(Page{
		Title:           "Field Notes",
		Version:         "abc12345",
		RequestedBy:     "Avery",
		GeneratedAt:     exportTime,
		Tree:            tree,
		Highlights:      sampleHighlights().ForDocument("doc-1"),
		IncludeComments: true,
	})
	require.NoError(t, err)

	assert.Contains(t, out, "<title>Field Notes</title>")
	assert.Contains(t, out, "Version abc12345")
	assert.Contains(t, out, "Mar 14, 2026")
	assert.Contains(t, out, `data-highlight-id="hl_a"`)
	assert.Contains(t, out, `>brave</mark>`)
	assert.Contains(t, out, `>Second</mark>`)
	assert.Contains(t, out, "Hello ")

	assert.Contains(t, out, `class="comments"`)
	first := strings.Index(out, `id="comment-hl_a"`)
	second := strings.Index(out, `id="comment-hl_b"`)
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second, "comments follow document order")
	assert.Contains(t, out, "[1] &ldquo;brave&rdquo;")
	assert.Contains(t, out, "first &lt;b&gt;comment&lt;/b&gt;", "comment text is escaped")
}

func TestBuildHTML_WithoutComments(t *testing.T) {
	out, err := BuildHTML(Page{
		Tree:       content.NewContainer("p", nil, content.NewText("Hello brave world")),
		Highlights: sampleHighlights().ForDocument("doc-1"),
	})
	require.NoError(t, err)

	assert.Contains(t, out, "<title>Untitled</title>")
	assert.Contains(t, out, `>brave</mark>`, "marks are rendered without the appendix")
	assert.NotContains(t, out, `class="comments"`)
}

func TestBuildHTML_SanitizesContent(t *testing.T) {
	tree := content.Fragment(
		content.NewContainer("p", map[string]string{"onclick": "steal()", "data-node-id": "n1"}, content.NewText("safe")),
		content.NewContainer("iframe", map[string]string{"src": "https://evil.example"}),
	)

	out, err := BuildHTML(Page{Title: "x", Tree: tree})
	require.NoError(t, err)

	assert.Contains(t, out, `data-node-id="n1"`)
	assert.Contains(t, out, "safe")
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "iframe")
}

func TestSanitizeContent_MarkClasses(t *testing.T) {
	out := string(SanitizeContent(`<mark class="highlight highlight--active" data-highlight-id="h1">a</mark><mark class="evil">b</mark>`))

	assert.Contains(t, out, `class="highlight highlight--active"`)
	assert.Contains(t, out, `data-highlight-id="h1"`)
	assert.NotContains(t, out, "evil")
}

func TestExport_HTML(t *testing.T) {
	svc := newTestService(&fakeContent{head: sampleHTMLContent(), headHash: "0123456789abcdef"}, sampleHighlights())

	res, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatHTML, IncludeComments: true})
	require.NoError(t, err)

	assert.Equal(t, "Field-Notes.html", res.Filename)
	assert.Equal(t, "text/html; charset=utf-8", res.MimeType)
	assert.Contains(t, string(res.Data), "Version 01234567")
	assert.Contains(t, string(res.Data), "second comment")
	assert.NotContains(t, string(res.Data), "hl_other")
	assert.Empty(t, res.ObjectKey, "no uploader configured")
}

func TestExport_Converters(t *testing.T) {
	svc := newTestService(&fakeContent{head: sampleHTMLContent()}, nil)

	pdf, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatPDF})
	require.NoError(t, err)
	assert.Equal(t, "Field-Notes.pdf", pdf.Filename)
	assert.Equal(t, "application/pdf", pdf.MimeType)
	assert.True(t, strings.HasPrefix(string(pdf.Data), "%PDF-<!DOCTYPE html>"))

	docx, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatDOCX})
	require.NoError(t, err)
	assert.Equal(t, "Field-Notes.docx", docx.Filename)
	assert.Equal(t, []byte("PK"), docx.Data)
}

func TestExport_Version(t *testing.T) {
	old := gitrepo.Content{Title: "Old", Format: gitrepo.FormatHTML, HTML: "<p>before</p>"}
	svc := newTestService(&fakeContent{
		head:   sampleHTMLContent(),
		byHash: map[string]gitrepo.Content{"feedface00": old},
	}, nil)

	res, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Version: "feedface00", Format: FormatHTML})
	require.NoError(t, err)
	assert.Contains(t, string(res.Data), "before")
	assert.Contains(t, string(res.Data), "Version feedface")

	_, err = svc.Export(context.Background(), Request{DocumentID: "doc-1", Version: "missing", Format: FormatHTML})
	assert.ErrorIs(t, err, ErrContentUnavailable)
}

func TestExport_Errors(t *testing.T) {
	svc := newTestService(&fakeContent{err: gitrepo.ErrRepoNotFound}, nil)

	_, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatHTML})
	assert.ErrorIs(t, err, ErrContentUnavailable)

	_, err = svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: "odt"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	svc = newTestService(&fakeContent{head: gitrepo.Content{Format: "rtf"}}, nil)
	_, err = svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatHTML})
	assert.ErrorIs(t, err, ErrContentUnavailable)

	failing := newTestService(&fakeContent{head: sampleHTMLContent()}, nil)
	failing.pdf = func(ctx context.Context, html string) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}
	_, err = failing.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatPDF})
	assert.ErrorIs(t, err, ErrPDFDependencyMissing)
}

func TestExport_Upload(t *testing.T) {
	uploader := &fakeUploader{}
	recorder := &fakeRecorder{}
	svc := newTestService(&fakeContent{head: sampleHTMLContent()}, nil).WithStorage(uploader, recorder)

	res, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatPDF, RequestedBy: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "doc-1/20260314T093000Z-Field-Notes.pdf", res.ObjectKey)
	assert.Equal(t, []string{res.ObjectKey}, uploader.keys)
	require.Len(t, recorder.artifacts, 1)
	artifact := recorder.artifacts[0]
	assert.True(t, strings.HasPrefix(artifact.ID, "exp_"))
	assert.Equal(t, "pdf", artifact.Format)
	assert.Equal(t, "u1", artifact.CreatedBy)
	assert.Equal(t, int64(len(res.Data)), artifact.SizeBytes)
}

func TestExport_UploadFailureKeepsResult(t *testing.T) {
	recorder := &fakeRecorder{}
	svc := newTestService(&fakeContent{head: sampleHTMLContent()}, nil).
		WithStorage(&fakeUploader{err: errors.New("bucket gone")}, recorder)

	res, err := svc.Export(context.Background(), Request{DocumentID: "doc-1", Format: FormatHTML})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Data)
	assert.Empty(t, res.ObjectKey)
	assert.Empty(t, recorder.artifacts)
}

func TestMissingConverters(t *testing.T) {
	opts := Options{ChromePath: "/nonexistent/chromium", PandocPath: "/nonexistent/pandoc", Timeout: time.Second}

	_, err := pdfConverter(opts)(context.Background(), "<p>x</p>")
	assert.ErrorIs(t, err, ErrPDFDependencyMissing)

	_, err = docxConverter(opts)(context.Background(), "<p>x</p>")
	assert.ErrorIs(t, err, ErrDOCXDependencyMissing)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	f, err = ParseFormat("docx")
	require.NoError(t, err)
	assert.Equal(t, FormatDOCX, f)

	_, err = ParseFormat("PDF")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Field Notes", "Field-Notes"},
		{"  résumé: draft #2 ", "rsum-draft-2"},
		{"???", "document"},
		{"", "document"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	assert.Equal(t, "a%20b%2Bc%3C%2Fp%3E", percentEncodeForDataURL("a b+c</p>"))
	assert.Equal(t, "%C3%A9", percentEncodeForDataURL("é"))
}
