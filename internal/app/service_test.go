package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginalia/internal/auth"
	"marginalia/internal/export"
	"marginalia/internal/gitrepo"
	"marginalia/internal/highlight"
	"marginalia/internal/search"
	"marginalia/internal/selection"
	"marginalia/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	documents []store.Document
	touched   []string
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]store.User)}
}

// roleFor gives the fixture users their roles by name.
func roleFor(name string) string {
	switch name {
	case "Vic":
		return "viewer"
	case "Cam":
		return "commenter"
	default:
		return "editor"
	}
}

func (f *fakeStore) EnsureUserByName(_ context.Context, name string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.DisplayName == name {
			return u, nil
		}
	}
	u := store.User{ID: "u-" + name, DisplayName: name, Role: roleFor(name)}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) ListDocuments(context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Document(nil), f.documents...), nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.documents {
		if d.ID == id {
			return d, nil
		}
	}
	return store.Document{}, store.ErrNotFound
}

func (f *fakeStore) InsertDocument(_ context.Context, d store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, d)
	return nil
}

func (f *fakeStore) TouchDocument(_ context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	for i := range f.documents {
		if f.documents[i].ID == id {
			f.documents[i].Title = title
		}
	}
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func (f *fakeRevoker) RevokeToken(_ context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = make(map[string]time.Time)
	}
	f.revoked[jti] = exp
	return nil
}

func (f *fakeRevoker) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

type fakeSearcher struct {
	queries []search.Query
}

func (f *fakeSearcher) Search(q search.Query) search.Response {
	f.queries = append(f.queries, q)
	return search.Response{
		Results: []search.Result{{ID: "hl_1", DocumentID: q.DocumentID, Snippet: "<mark>" + q.Text + "</mark>"}},
		Total:   1,
		Query:   q.Text,
	}
}

type fakeExporter struct {
	requests []export.Request
}

func (f *fakeExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	f.requests = append(f.requests, req)
	if req.Format == export.FormatDOCX {
		return nil, export.ErrDOCXDependencyMissing
	}
	return &export.Result{Data: []byte("<html>ok</html>"), Filename: "doc.html", MimeType: "text/html; charset=utf-8"}, nil
}

type fixture struct {
	service    *Service
	store      *fakeStore
	highlights *highlight.Store
	revoker    *fakeRevoker
	searcher   *fakeSearcher
	exporter   *fakeExporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      newFakeStore(),
		highlights: highlight.NewStore(nil, zerolog.Nop()),
		revoker:    &fakeRevoker{},
		searcher:   &fakeSearcher{},
		exporter:   &fakeExporter{},
	}
	f.service = New(Deps{
		Store:      f.store,
		Git:        gitrepo.New(t.TempDir()),
		Highlights: f.highlights,
		Search:     f.searcher,
		Exporter:   f.exporter,
		Revoker:    f.revoker,
		Issuer:     auth.NewIssuer("test-secret", time.Hour),
		Logger:     zerolog.Nop(),
	})
	t.Cleanup(f.service.Close)
	return f
}

// sampleInput is <p>The quick <b>brown</b> fox</p>.
func sampleInput() CreateDocumentInput {
	return CreateDocumentInput{Title: "Fox", HTML: `<p>The quick <b>brown</b> fox</p>`}
}

func quickBrown() selection.Raw {
	return selection.Raw{
		Anchor: selection.Point{Path: []int{0, 0}, Offset: 4},
		Focus:  selection.Point{Path: []int{0, 1, 0}, Offset: 5},
	}
}

func (f *fixture) createDocument(t *testing.T) DocumentView {
	t.Helper()
	session, err := f.service.Login(context.Background(), "Avery")
	require.NoError(t, err)
	doc, err := f.service.CreateDocument(context.Background(), sampleInput(), session)
	require.NoError(t, err)
	return doc
}

func TestLoginAndSessionFromToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.service.Login(ctx, "  Avery ")
	require.NoError(t, err)
	assert.Equal(t, "Avery", session.UserName)
	assert.Equal(t, "editor", session.Role)
	assert.NotEmpty(t, session.Token)

	parsed, err := f.service.SessionFromToken(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.UserID, parsed.UserID)
	assert.Equal(t, session.JTI, parsed.JTI)

	require.NoError(t, f.service.Logout(ctx, parsed))
	_, err = f.service.SessionFromToken(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = f.service.Login(ctx, "  ")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)
}

func TestCreateDocument(t *testing.T) {
	f := newFixture(t)
	doc := f.createDocument(t)

	assert.Contains(t, doc.ID, "doc-")
	assert.Equal(t, "Fox", doc.Title)
	assert.Equal(t, gitrepo.FormatHTML, doc.SourceFormat)
	assert.Equal(t, "The quick brown fox", doc.Text)
	assert.NotEmpty(t, doc.Head)
	require.NotNil(t, doc.Content)

	history, err := f.service.History(context.Background(), doc.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCreateDocument_RejectsBadContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateDocument(ctx, CreateDocumentInput{Format: "markdown"}, Session{})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 422, domainErr.Status)

	_, err = f.service.CreateDocument(ctx, CreateDocumentInput{Doc: []byte(`{"content": []}`)}, Session{})
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 422, domainErr.Status)
	assert.Empty(t, f.store.documents)
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Bootstrap(ctx))
	docs, err := f.service.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Welcome to Marginalia", docs[0].Title)

	require.NoError(t, f.service.Bootstrap(ctx))
	docs, err = f.service.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "bootstrap only seeds an empty installation")
}

func TestSelectCommentRender(t *testing.T) {
	f := newFixture(t)
	doc := f.createDocument(t)
	author := Session{UserID: "u-Cam", UserName: "Cam"}

	view, err := f.service.CaptureSelection(doc.ID, quickBrown())
	require.NoError(t, err)
	require.True(t, view.Captured)
	assert.Equal(t, "quick brown", view.Selection.Text)
	assert.Equal(t, 4, view.Selection.StartOffset)
	assert.Equal(t, 15, view.Selection.EndOffset)
	assert.True(t, view.UI.ComposerOpen)

	again, err := f.service.CaptureSelection(doc.ID, quickBrown())
	require.NoError(t, err)
	assert.False(t, again.Captured, "composer already open")

	h, err := f.service.AddComment(doc.ID, "why brown?", author)
	require.NoError(t, err)
	assert.Equal(t, "quick brown", h.SelectedText)
	assert.Equal(t, "Cam", h.Comment.AuthorName)

	rendered, err := f.service.Render(doc.ID)
	require.NoError(t, err)
	assert.Equal(t,
		`<p>The <mark class="highlight highlight--active" data-highlight-id="`+h.ID+`">quick </mark>`+
			`<b><mark class="highlight highlight--active" data-highlight-id="`+h.ID+`">brown</mark></b> fox</p>`,
		rendered.HTML,
	)
	assert.Equal(t, []highlight.Range{{ID: h.ID, Start: 4, End: 15}}, rendered.Ranges)

	docs, err := f.service.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, docs[0].HighlightCount)
}

func TestClick(t *testing.T) {
	f := newFixture(t)
	doc := f.createDocument(t)

	_, err := f.service.CaptureSelection(doc.ID, quickBrown())
	require.NoError(t, err)
	h, err := f.service.AddComment(doc.ID, "note", Session{UserName: "Avery"})
	require.NoError(t, err)

	ui, err := f.service.SetActiveHighlight("")
	require.NoError(t, err)
	assert.Empty(t, ui.ActiveHighlightID)

	_, err = f.service.Render(doc.ID)
	require.NoError(t, err)

	click, err := f.service.Click(doc.ID, []int{0, 1, 0})
	require.NoError(t, err)
	assert.True(t, click.Handled)
	assert.Equal(t, h.ID, click.UI.ActiveHighlightID)

	click, err = f.service.Click(doc.ID, []int{0, 3})
	require.NoError(t, err)
	assert.False(t, click.Handled)
	assert.Empty(t, click.UI.ActiveHighlightID, "clicking plain text clears the focus")
}

func TestAddComment_Errors(t *testing.T) {
	f := newFixture(t)
	doc := f.createDocument(t)

	_, err := f.service.AddComment(doc.ID, "text", Session{})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "NO_PENDING_SELECTION", domainErr.Code)

	_, err = f.service.CaptureSelection(doc.ID, quickBrown())
	require.NoError(t, err)
	_, err = f.service.AddComment(doc.ID, "   ", Session{})
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "VALIDATION_ERROR", domainErr.Code)
	assert.True(t, f.highlights.IsComposerOpen(), "a blank comment keeps the composer open")

	_, err = f.service.AddComment("doc-missing", "text", Session{})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestAddComment_SelectionFromAnotherDocument(t *testing.T) {
	f := newFixture(t)
	source := f.createDocument(t)
	session, err := f.service.Login(context.Background(), "Avery")
	require.NoError(t, err)
	other, err := f.service.CreateDocument(context.Background(), CreateDocumentInput{Title: "Short", HTML: `<p>Hi</p>`}, session)
	require.NoError(t, err)

	view, err := f.service.CaptureSelection(source.ID, quickBrown())
	require.NoError(t, err)
	require.True(t, view.Captured)
	assert.Equal(t, source.ID, view.UI.PendingSelection.DocumentID)

	_, err = f.service.AddComment(other.ID, "note", session)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "NO_PENDING_SELECTION", domainErr.Code)
	assert.Empty(t, f.service.ListHighlights(other.ID))
	assert.NotNil(t, f.highlights.PendingSelection(), "the selection stays pending for its own document")

	h, err := f.service.AddComment(source.ID, "note", session)
	require.NoError(t, err)
	assert.Equal(t, source.ID, h.DocumentID)
	assert.Equal(t, "quick brown", h.SelectedText)
}

func TestCloseComposer(t *testing.T) {
	f := newFixture(t)
	doc := f.createDocument(t)

	_, err := f.service.CaptureSelection(doc.ID, quickBrown())
	require.NoError(t, err)

	ui := f.service.CloseComposer()
	assert.False(t, ui.ComposerOpen)
	assert.Nil(t, ui.PendingSelection)
	assert.Empty(t, f.service.ListHighlights(doc.ID))
}

func TestUpdateAndDeleteHighlight(t *testing.T) {
	f := newFixture(t)
	doc := f.createDocument(t)

	_, err := f.service.CaptureSelection(doc.ID, quickBrown())
	require.NoError(t, err)
	h, err := f.service.AddComment(doc.ID, "first", Session{UserName: "Avery"})
	require.NoError(t, err)

	updated, err := f.service.UpdateComment(h.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", updated.Comment.Text)

	_, err = f.service.UpdateComment(h.ID, " ")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 422, domainErr.Status)

	_, err = f.service.UpdateComment("hl_missing", "x")
	assert.ErrorIs(t, err, ErrHighlightNotFound)

	_, err = f.service.SetActiveHighlight("hl_missing")
	assert.ErrorIs(t, err, ErrHighlightNotFound)

	require.NoError(t, f.service.DeleteHighlight(h.ID))
	assert.ErrorIs(t, f.service.DeleteHighlight(h.ID), ErrHighlightNotFound)
	assert.Empty(t, f.service.UI().ActiveHighlightID)
}

func TestClearHighlights(t *testing.T) {
	f := newFixture(t)
	doc := f.createDocument(t)

	for _, raw := range []selection.Raw{
		quickBrown(),
		// " fox" sits at [0, 3] once the first highlight splits the paragraph.
		{Anchor: selection.Point{Path: []int{0, 3}, Offset: 1}, Focus: selection.Point{Path: []int{0, 3}, Offset: 4}},
	} {
		view, err := f.service.CaptureSelection(doc.ID, raw)
		require.NoError(t, err)
		require.True(t, view.Captured)
		_, err = f.service.AddComment(doc.ID, "c", Session{UserName: "Avery"})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, f.service.ClearHighlights(doc.ID))
	assert.Equal(t, 0, f.service.ClearHighlights(doc.ID))
	assert.Empty(t, f.service.ListHighlights(doc.ID))
}

func TestUpdateContent_KeepsOffsets(t *testing.T) {
	f := newFixture(t)
	doc := f.createDocument(t)
	session := Session{UserName: "Avery"}

	_, err := f.service.CaptureSelection(doc.ID, quickBrown())
	require.NoError(t, err)
	h, err := f.service.AddComment(doc.ID, "note", session)
	require.NoError(t, err)

	updated, err := f.service.UpdateContent(context.Background(), doc.ID, CreateDocumentInput{HTML: `<p>A slow grey fox</p>`}, session)
	require.NoError(t, err)
	assert.Equal(t, "A slow grey fox", updated.Text)
	assert.Equal(t, "Fox", updated.Title, "title carries over when omitted")
	assert.Equal(t, []string{doc.ID}, f.store.touched)

	rendered, err := f.service.Render(doc.ID)
	require.NoError(t, err)
	assert.Equal(t,
		`<p>A sl<mark class="highlight highlight--active" data-highlight-id="`+h.ID+`">ow grey fox</mark></p>`,
		rendered.HTML,
		"offsets are applied to the new text as they are",
	)

	same, err := f.service.UpdateContent(context.Background(), doc.ID, CreateDocumentInput{HTML: `<p>A slow grey fox</p>`}, session)
	require.NoError(t, err)
	assert.Equal(t, updated.Head, same.Head, "unchanged content makes no commit")
}

func TestUnknownDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.GetDocument(ctx, "doc-missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = f.service.Render("doc-missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = f.service.CaptureSelection("doc-missing", quickBrown())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = f.service.History(ctx, "doc-missing", 5)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = f.service.Export(ctx, export.Request{DocumentID: "doc-missing", Format: export.FormatHTML})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestOptionalCollaborators(t *testing.T) {
	svc := New(Deps{
		Store:      newFakeStore(),
		Git:        gitrepo.New(t.TempDir()),
		Highlights: highlight.NewStore(nil, zerolog.Nop()),
		Issuer:     auth.NewIssuer("s", time.Hour),
		Logger:     zerolog.Nop(),
	})

	res := svc.Search(search.Query{Text: "fox"})
	assert.Empty(t, res.Results)
	assert.Equal(t, "fox", res.Query)

	_, err := svc.Export(context.Background(), export.Request{DocumentID: "d"})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "EXPORT_UNAVAILABLE", domainErr.Code)

	assert.NoError(t, svc.Logout(context.Background(), Session{JTI: "j"}))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{ErrDocumentNotFound, 404, "DOCUMENT_NOT_FOUND"},
		{store.ErrNotFound, 404, "NOT_FOUND"},
		{auth.ErrExpiredToken, 401, "UNAUTHORIZED"},
		{export.ErrUnsupportedFormat, 400, "UNSUPPORTED_FORMAT"},
		{export.ErrPDFDependencyMissing, 503, "EXPORT_UNAVAILABLE"},
		{errors.New("boom"), 500, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		status, code, _, _ := mapError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
