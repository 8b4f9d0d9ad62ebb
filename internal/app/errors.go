package app

import (
	"errors"
	"fmt"
	"net/http"

	"marginalia/internal/auth"
	"marginalia/internal/export"
	"marginalia/internal/gitrepo"
	"marginalia/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrDocumentNotFound  = domainError(http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found", nil)
	ErrHighlightNotFound = domainError(http.StatusNotFound, "HIGHLIGHT_NOT_FOUND", "Highlight not found", nil)
)

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gitrepo.ErrRepoNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "CONTENT_UNAVAILABLE", "Document content unavailable", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
