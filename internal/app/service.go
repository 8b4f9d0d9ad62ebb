package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marginalia/internal/auth"
	"marginalia/internal/content"
	"marginalia/internal/export"
	"marginalia/internal/gitrepo"
	"marginalia/internal/highlight"
	"marginalia/internal/rbac"
	"marginalia/internal/search"
	"marginalia/internal/selection"
	"marginalia/internal/shell"
	"marginalia/internal/store"
	"marginalia/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

type DataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	TouchDocument(context.Context, string, string) error
	Ping(context.Context) error
}

type GitService interface {
	EnsureDocumentRepo(string, gitrepo.Content, string) (store.CommitInfo, error)
	CommitContent(string, gitrepo.Content, string, string) (store.CommitInfo, error)
	GetHeadContent(string) (gitrepo.Content, store.CommitInfo, error)
	History(string, int) ([]store.CommitInfo, error)
}

type Searcher interface {
	Search(search.Query) search.Response
}

type Exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type TokenRevoker interface {
	RevokeToken(context.Context, string, time.Time) error
	IsTokenRevoked(context.Context, string) (bool, error)
}

// Deps are the collaborators of a Service. Search, Exporter and Revoker are
// optional.
type Deps struct {
	Store      DataStore
	Git        GitService
	Highlights *highlight.Store
	Search     Searcher
	Exporter   Exporter
	Revoker    TokenRevoker
	Issuer     *auth.Issuer
	Logger     zerolog.Logger
}

// Service is the composer/view collaborator around the highlight store: it
// turns API calls into selection captures, store operations and renders.
type Service struct {
	store      DataStore
	git        GitService
	highlights *highlight.Store
	search     Searcher
	exporter   Exporter
	revoker    TokenRevoker
	issuer     *auth.Issuer
	logger     zerolog.Logger

	shellMu sync.Mutex
	shells  map[string]*shell.Shell
}

func New(deps Deps) *Service {
	return &Service{
		store:      deps.Store,
		git:        deps.Git,
		highlights: deps.Highlights,
		search:     deps.Search,
		exporter:   deps.Exporter,
		revoker:    deps.Revoker,
		issuer:     deps.Issuer,
		logger:     deps.Logger,
		shells:     make(map[string]*shell.Shell),
	}
}

// Close detaches every document shell from the highlight store.
func (s *Service) Close() {
	s.shellMu.Lock()
	defer s.shellMu.Unlock()
	for id, sh := range s.shells {
		sh.Close()
		delete(s.shells, id)
	}
}

const welcomeDoc = `{
  "type": "doc",
  "content": [
    {"type": "heading", "attrs": {"level": 1}, "content": [{"type": "text", "text": "Welcome to Marginalia"}]},
    {"type": "paragraph", "content": [
      {"type": "text", "text": "Select any passage of this text and leave a comment. "},
      {"type": "text", "text": "Highlights", "marks": [{"type": "bold"}]},
      {"type": "text", "text": " survive formatting boundaries and reloads."}
    ]},
    {"type": "paragraph", "content": [{"type": "text", "text": "Click a highlight to focus it; click elsewhere to clear the focus."}]}
  ]
}`

// Bootstrap seeds a welcome document into an empty installation.
func (s *Service) Bootstrap(ctx context.Context) error {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(documents) > 0 {
		return nil
	}

	owner, err := s.store.EnsureUserByName(ctx, "Avery")
	if err != nil {
		return err
	}
	_, err = s.CreateDocument(ctx, CreateDocumentInput{
		Title:  "Welcome to Marginalia",
		Format: gitrepo.FormatProseMirror,
		Doc:    json.RawMessage(welcomeDoc),
	}, Session{UserID: owner.ID, UserName: owner.DisplayName})
	return err
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, validationError("name is required")
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	token, claims, err := s.issuer.Issue(user.ID, user.DisplayName, user.Role)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info().Str("user_id", user.ID).Msg("session issued")
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsTokenRevoked(ctx, claims.JTI)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if s.revoker == nil || session.JTI == "" {
		return nil
	}
	return s.revoker.RevokeToken(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type DocumentView struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	SourceFormat   string        `json:"sourceFormat"`
	CreatedBy      string        `json:"createdBy"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	HighlightCount int           `json:"highlightCount"`
	Head           string        `json:"head,omitempty"`
	Content        *content.Wire `json:"content,omitempty"`
	Text           string        `json:"text,omitempty"`
}

type CommitView struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Service) documentView(doc store.Document) DocumentView {
	return DocumentView{
		ID:             doc.ID,
		Title:          doc.Title,
		SourceFormat:   doc.SourceFormat,
		CreatedBy:      doc.CreatedBy,
		UpdatedAt:      doc.UpdatedAt,
		HighlightCount: len(s.highlights.ForDocument(doc.ID)),
	}
}

func (s *Service) ListDocuments(ctx context.Context) ([]DocumentView, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]DocumentView, 0, len(documents))
	for _, doc := range documents {
		items = append(items, s.documentView(doc))
	}
	return items, nil
}

// GetDocument returns the document metadata with its head content.
func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DocumentView{}, ErrDocumentNotFound
		}
		return DocumentView{}, err
	}
	body, head, err := s.git.GetHeadContent(documentID)
	if err != nil {
		return DocumentView{}, err
	}
	tree, err := body.Tree()
	if err != nil {
		return DocumentView{}, err
	}
	wire := content.ToWire(tree)

	view := s.documentView(doc)
	view.Head = head.Hash
	view.Content = &wire
	view.Text = content.PlainText(tree)
	return view, nil
}

type CreateDocumentInput struct {
	Title  string          `json:"title"`
	Format string          `json:"format"`
	Doc    json.RawMessage `json:"doc,omitempty"`
	HTML   string          `json:"html,omitempty"`
}

func (in CreateDocumentInput) content() (gitrepo.Content, error) {
	c := gitrepo.Content{
		Title:  strings.TrimSpace(in.Title),
		Format: strings.TrimSpace(in.Format),
		Doc:    in.Doc,
		HTML:   in.HTML,
	}
	if c.Format == "" {
		c.Format = gitrepo.FormatProseMirror
		if len(c.Doc) == 0 && c.HTML != "" {
			c.Format = gitrepo.FormatHTML
		}
	}
	if c.Format != gitrepo.FormatProseMirror && c.Format != gitrepo.FormatHTML {
		return gitrepo.Content{}, validationError("format must be prosemirror or html")
	}
	if _, err := c.Tree(); err != nil {
		return gitrepo.Content{}, validationError("content does not parse: " + err.Error())
	}
	return c, nil
}

func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput, session Session) (DocumentView, error) {
	body, err := input.content()
	if err != nil {
		return DocumentView{}, err
	}
	if body.Title == "" {
		body.Title = "Untitled Document"
	}

	documentID := "doc-" + util.NewID("")[:10]
	if err := s.store.InsertDocument(ctx, store.Document{
		ID:           documentID,
		Title:        body.Title,
		SourceFormat: body.Format,
		CreatedBy:    session.UserID,
	}); err != nil {
		return DocumentView{}, err
	}
	if _, err := s.git.EnsureDocumentRepo(documentID, body, session.UserName); err != nil {
		return DocumentView{}, err
	}
	s.logger.Info().Str("document_id", documentID).Str("format", body.Format).Msg("document created")
	return s.GetDocument(ctx, documentID)
}

// UpdateContent commits new content. Existing highlight offsets are kept
// as they are and are not re-anchored against the new text.
func (s *Service) UpdateContent(ctx context.Context, documentID string, input CreateDocumentInput, session Session) (DocumentView, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return DocumentView{}, err
	}
	body, err := input.content()
	if err != nil {
		return DocumentView{}, err
	}
	if body.Title == "" {
		current, _, err := s.git.GetHeadContent(documentID)
		if err != nil {
			return DocumentView{}, err
		}
		body.Title = current.Title
	}

	_, err = s.git.CommitContent(documentID, body, session.UserName, "Update content")
	switch {
	case errors.Is(err, gitrepo.ErrNoChanges):
		return s.GetDocument(ctx, documentID)
	case err != nil:
		return DocumentView{}, err
	}
	if err := s.store.TouchDocument(ctx, documentID, body.Title); err != nil {
		return DocumentView{}, err
	}

	tree, err := body.Tree()
	if err != nil {
		return DocumentView{}, err
	}
	s.shellMu.Lock()
	if sh, ok := s.shells[documentID]; ok {
		sh.SetContent(tree)
	}
	s.shellMu.Unlock()

	if n := len(s.highlights.ForDocument(documentID)); n > 0 {
		s.logger.Warn().Str("document_id", documentID).Int("highlights", n).Msg("content changed under existing highlights")
	}
	return s.GetDocument(ctx, documentID)
}

func (s *Service) History(ctx context.Context, documentID string, limit int) ([]CommitView, error) {
	commits, err := s.git.History(documentID, limit)
	if err != nil {
		if errors.Is(err, gitrepo.ErrRepoNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	items := make([]CommitView, 0, len(commits))
	for _, c := range commits {
		items = append(items, CommitView(c))
	}
	return items, nil
}

// shell returns the document's shell, loading head content on first use.
func (s *Service) shell(documentID string) (*shell.Shell, error) {
	s.shellMu.Lock()
	defer s.shellMu.Unlock()
	if sh, ok := s.shells[documentID]; ok {
		return sh, nil
	}

	body, _, err := s.git.GetHeadContent(documentID)
	if err != nil {
		if errors.Is(err, gitrepo.ErrRepoNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	tree, err := body.Tree()
	if err != nil {
		return nil, err
	}
	sh := shell.New(documentID, tree, s.highlights, nil, s.logger)
	s.shells[documentID] = sh
	return sh, nil
}

type SelectionView struct {
	Captured  bool              `json:"captured"`
	Selection *selection.Result `json:"selection,omitempty"`
	UI        highlight.UIState `json:"ui"`
}

// CaptureSelection feeds a pointer-up selection to the document shell. A
// capture stores the pending selection and opens the composer; anything
// else leaves the state untouched.
func (s *Service) CaptureSelection(documentID string, raw selection.Raw) (SelectionView, error) {
	sh, err := s.shell(documentID)
	if err != nil {
		return SelectionView{}, err
	}
	sh.Render()
	result, ok := sh.HandlePointerUp(raw)
	view := SelectionView{Captured: ok, UI: s.highlights.UI()}
	if ok {
		view.Selection = &result
	}
	return view, nil
}

func (s *Service) CloseComposer() highlight.UIState {
	s.highlights.CloseComposer()
	return s.highlights.UI()
}

func (s *Service) UI() highlight.UIState {
	return s.highlights.UI()
}

// AddComment commits the pending selection as a highlight of documentID.
func (s *Service) AddComment(documentID, text string, session Session) (highlight.Highlight, error) {
	if _, err := s.shell(documentID); err != nil {
		return highlight.Highlight{}, err
	}
	if strings.TrimSpace(text) == "" {
		return highlight.Highlight{}, validationError("comment text is required")
	}
	if pending := s.highlights.PendingSelection(); pending == nil || pending.DocumentID != documentID {
		return highlight.Highlight{}, domainError(http.StatusConflict, "NO_PENDING_SELECTION", "There is no pending selection to comment on", nil)
	}
	h, ok := s.highlights.AddComment(text, session.UserName, session.UserID, documentID)
	if !ok {
		return highlight.Highlight{}, validationError("pending selection is empty")
	}
	return h, nil
}

func (s *Service) UpdateComment(highlightID, text string) (highlight.Highlight, error) {
	if _, ok := s.highlights.Get(highlightID); !ok {
		return highlight.Highlight{}, ErrHighlightNotFound
	}
	if strings.TrimSpace(text) == "" {
		return highlight.Highlight{}, validationError("comment text is required")
	}
	s.highlights.UpdateComment(highlightID, text)
	h, _ := s.highlights.Get(highlightID)
	return h, nil
}

func (s *Service) DeleteHighlight(highlightID string) error {
	if !s.highlights.DeleteHighlight(highlightID) {
		return ErrHighlightNotFound
	}
	return nil
}

func (s *Service) ClearHighlights(documentID string) int {
	return s.highlights.ClearHighlightsForDocument(documentID)
}

func (s *Service) ListHighlights(documentID string) []highlight.Highlight {
	return s.highlights.ForDocument(documentID)
}

// SetActiveHighlight focuses a highlight; an empty id clears the focus.
func (s *Service) SetActiveHighlight(highlightID string) (highlight.UIState, error) {
	if highlightID != "" {
		if _, ok := s.highlights.Get(highlightID); !ok {
			return highlight.UIState{}, ErrHighlightNotFound
		}
	}
	s.highlights.SetActiveHighlight(highlightID)
	return s.highlights.UI(), nil
}

type ClickView struct {
	Handled bool              `json:"handled"`
	UI      highlight.UIState `json:"ui"`
}

// Click delivers a click at path in the rendered document.
func (s *Service) Click(documentID string, path []int) (ClickView, error) {
	sh, err := s.shell(documentID)
	if err != nil {
		return ClickView{}, err
	}
	handled := sh.HandleClick(path)
	return ClickView{Handled: handled, UI: s.highlights.UI()}, nil
}

type RenderView struct {
	DocumentID string            `json:"documentId"`
	HTML       string            `json:"html"`
	Tree       content.Wire      `json:"tree"`
	Ranges     []highlight.Range `json:"ranges"`
	UI         highlight.UIState `json:"ui"`
}

func (s *Service) Render(documentID string) (RenderView, error) {
	sh, err := s.shell(documentID)
	if err != nil {
		return RenderView{}, err
	}
	tree := sh.Render()
	html, err := content.RenderHTML(tree)
	if err != nil {
		return RenderView{}, err
	}
	ranges := s.highlights.Ranges(documentID)
	if ranges == nil {
		ranges = []highlight.Range{}
	}
	return RenderView{
		DocumentID: documentID,
		HTML:       html,
		Tree:       content.ToWire(tree),
		Ranges:     ranges,
		UI:         s.highlights.UI(),
	}, nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	if _, err := s.store.GetDocument(ctx, req.DocumentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return s.exporter.Export(ctx, req)
}
