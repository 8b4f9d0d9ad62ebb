// Package export renders a document with its highlights and comments to
// HTML, PDF or DOCX.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a user supplied format name to a Format.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatHTML, FormatPDF, FormatDOCX:
		return Format(value), nil
	case "":
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	DocumentID      string
	Version         string // "", "latest" or a commit hash
	Format          Format
	IncludeComments bool
	RequestedBy     string
}

// Result contains the export output
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	ObjectKey string // set when the artifact was uploaded
}

// Options configures the external converters.
type Options struct {
	ChromePath string
	PandocPath string
	Timeout    time.Duration
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrUnsupportedFormat     = errors.New("unsupported export format")
)

func mimeType(f Format) string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/html; charset=utf-8"
	}
}
