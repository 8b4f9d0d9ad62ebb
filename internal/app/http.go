package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"marginalia/internal/auth"
	"marginalia/internal/export"
	"marginalia/internal/highlight"
	"marginalia/internal/rbac"
	"marginalia/internal/search"
	"marginalia/internal/selection"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/ready", s.handleReady)
	r.Post("/api/session/login", s.handleLogin)
	r.Get("/api/session", s.handleSession)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Post("/api/session/logout", s.handleLogout)
		r.Get("/api/ui", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.service.UI())
		})

		r.Route("/api/documents", func(r chi.Router) {
			r.With(s.allow(rbac.ActionRead)).Get("/", s.handleListDocuments)
			r.With(s.allow(rbac.ActionWrite)).Post("/", s.handleCreateDocument)

			r.Route("/{documentID}", func(r chi.Router) {
				r.With(s.allow(rbac.ActionRead)).Get("/", s.handleGetDocument)
				r.With(s.allow(rbac.ActionWrite)).Put("/content", s.handleUpdateContent)
				r.With(s.allow(rbac.ActionRead)).Get("/history", s.handleHistory)
				r.With(s.allow(rbac.ActionRead)).Get("/render", s.handleRender)
				r.With(s.allow(rbac.ActionRead)).Post("/click", s.handleClick)
				r.With(s.allow(rbac.ActionSelect)).Post("/selection", s.handleSelection)
				r.With(s.allow(rbac.ActionSelect)).Post("/composer/close", s.handleCloseComposer)
				r.With(s.allow(rbac.ActionRead)).Get("/highlights", s.handleListHighlights)
				r.With(s.allow(rbac.ActionComment)).Post("/highlights", s.handleAddComment)
				r.With(s.allow(rbac.ActionClear)).Delete("/highlights", s.handleClearHighlights)
				r.With(s.allow(rbac.ActionExport)).Get("/export", s.handleExport)
			})
		})

		r.Route("/api/highlights", func(r chi.Router) {
			r.With(s.allow(rbac.ActionSelect)).Put("/active", s.handleSetActive)
			r.With(s.allow(rbac.ActionComment)).Patch("/{highlightID}", s.handleUpdateComment)
			r.With(s.allow(rbac.ActionDelete)).Delete("/{highlightID}", s.handleDeleteHighlight)
		})

		r.With(s.allow(rbac.ActionRead)).Get("/api/search", s.handleSearch)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

type sessionKey struct{}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			s.logger.Error().Err(err).Msg("session lookup failed")
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

// allow rejects sessions whose role may not perform action.
func (s *HTTPServer) allow(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFrom(r)
			if !s.service.Can(session.Role, action) {
				s.logger.Warn().
					Str("user_id", session.UserID).
					Str("role", session.Role).
					Str("action", string(action)).
					Msg("permission denied")
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"action": action})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(writer, r)

		status := writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := s.logger.Info()
		if status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("http request")
	})
}

func (s *HTTPServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", s.corsOrigin)
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		header.Set("Cache-Control", "no-store")
		header.Set("Content-Type", "application/json")
		if id := middleware.GetReqID(r.Context()); id != "" {
			header.Set("X-Request-ID", id)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]any{"database": map[string]any{"status": "ok"}}
	if err := s.service.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	writeJSON(w, status, map[string]any{
		"ok":     status == http.StatusOK,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     session.Token,
		"userName":  session.UserName,
		"userId":    session.UserID,
		"role":      session.Role,
		"expiresAt": session.ExpiresAt,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userName":      session.UserName,
		"userId":        session.UserID,
		"role":          session.Role,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), sessionFrom(r)); err != nil {
		s.logger.Warn().Err(err).Msg("token revocation failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListDocuments(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": items})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body CreateDocumentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), body, sessionFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var body CreateDocumentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.UpdateContent(r.Context(), chi.URLParam(r, "documentID"), body, sessionFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	commits, err := s.service.History(r.Context(), chi.URLParam(r, "documentID"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": commits})
}

func (s *HTTPServer) handleRender(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Render(chi.URLParam(r, "documentID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleClick(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path []int `json:"path"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.Click(chi.URLParam(r, "documentID"), body.Path)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSelection(w http.ResponseWriter, r *http.Request) {
	var raw selection.Raw
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.CaptureSelection(chi.URLParam(r, "documentID"), raw)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCloseComposer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.CloseComposer())
}

func (s *HTTPServer) handleListHighlights(w http.ResponseWriter, r *http.Request) {
	items := s.service.ListHighlights(chi.URLParam(r, "documentID"))
	if items == nil {
		items = []highlight.Highlight{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"highlights": items})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	h, err := s.service.AddComment(chi.URLParam(r, "documentID"), body.Text, sessionFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *HTTPServer) handleClearHighlights(w http.ResponseWriter, r *http.Request) {
	removed := s.service.ClearHighlights(chi.URLParam(r, "documentID"))
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	includeComments := true
	if raw := r.URL.Query().Get("comments"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			includeComments = parsed
		}
	}

	session := sessionFrom(r)
	result, err := s.service.Export(r.Context(), export.Request{
		DocumentID:      chi.URLParam(r, "documentID"),
		Version:         r.URL.Query().Get("version"),
		Format:          format,
		IncludeComments: includeComments,
		RequestedBy:     session.UserName,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	if result.ObjectKey != "" {
		w.Header().Set("X-Export-Object-Key", result.ObjectKey)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HighlightID string `json:"highlightId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ui, err := s.service.SetActiveHighlight(body.HighlightID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ui)
}

func (s *HTTPServer) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	h, err := s.service.UpdateComment(chi.URLParam(r, "highlightID"), body.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *HTTPServer) handleDeleteHighlight(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteHighlight(chi.URLParam(r, "highlightID")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(search.Query{
		Text:       q,
		DocumentID: r.URL.Query().Get("documentId"),
		Limit:      queryInt(r, "limit", 0),
		Offset:     queryInt(r, "offset", 0),
	}))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
