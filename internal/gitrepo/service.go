// Package gitrepo versions document content in one git repository per
// document. Highlight offsets are only valid against a specific version, so
// every content change becomes a commit that can be inspected later.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"marginalia/internal/content"
	"marginalia/internal/store"
)

const (
	contentFile = "content.json"
	mainBranch  = "main"
)

var (
	// ErrRepoNotFound is returned for documents without a repository.
	ErrRepoNotFound = errors.New("document repository not found")
	// ErrNoChanges is returned when a commit would not change the content.
	ErrNoChanges = errors.New("content unchanged")
)

// Source formats a document body can be stored in.
const (
	FormatProseMirror = "prosemirror"
	FormatHTML        = "html"
)

type Content struct {
	Title  string          `json:"title"`
	Format string          `json:"format"`
	Doc    json.RawMessage `json:"doc,omitempty"`
	HTML   string          `json:"html,omitempty"`
}

// Tree parses the stored body into a content tree.
func (c Content) Tree() (content.Node, error) {
	switch c.Format {
	case FormatProseMirror, "":
		if len(c.Doc) == 0 {
			return content.Fragment(), nil
		}
		return content.ParseProseMirror(c.Doc)
	case FormatHTML:
		return content.ParseHTML(strings.NewReader(c.HTML))
	default:
		return nil, fmt.Errorf("unsupported content format %q", c.Format)
	}
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureDocumentRepo creates the repository with initial as its first
// commit. An existing repository is left alone.
func (s *Service) EnsureDocumentRepo(documentID string, initial Content, author string) (store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return store.CommitInfo{}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return store.CommitInfo{}, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return store.CommitInfo{}, fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return store.CommitInfo{}, fmt.Errorf("set HEAD to main: %w", err)
	}

	hash, err := s.commit(repo, initial, author, "Import document")
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// CommitContent records a new version. It returns ErrNoChanges when c equals
// the head content.
func (s *Service) CommitContent(documentID string, c Content, author, message string) (store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return store.CommitInfo{}, err
	}

	head, err := headCommit(repo)
	if err != nil {
		return store.CommitInfo{}, err
	}
	current, err := readContentFromCommit(head)
	if err != nil {
		return store.CommitInfo{}, err
	}
	if !HasChanges(current, c) {
		return store.CommitInfo{}, ErrNoChanges
	}

	hash, err := s.commit(repo, c, author, message)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

func (s *Service) GetHeadContent(documentID string) (Content, store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	c, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	return c, toCommitInfo(commitObj), nil
}

func (s *Service) GetContentByHash(documentID, hash string) (Content, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Content{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContentFromCommit(commitObj)
}

// History lists commits newest first; limit <= 0 means all.
func (s *Service) History(documentID string, limit int) ([]store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0, max(limit, 0))
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, filepath.Base(documentID))
}

func (s *Service) open(documentID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, c Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.marginalia.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}

	var c Content
	if err := json.Unmarshal(data, &c); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return c, nil
}

// HasChanges reports whether to differs from from, ignoring JSON formatting
// of the ProseMirror body.
func HasChanges(from, to Content) bool {
	if from.Title != to.Title || from.Format != to.Format || from.HTML != to.HTML {
		return true
	}
	return !bytes.Equal(normalizeDoc(from.Doc), normalizeDoc(to.Doc))
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func normalizeDoc(doc json.RawMessage) []byte {
	if len(doc) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	return normalized
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
