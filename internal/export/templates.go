package export

import (
	"bytes"
	"embed"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(
	template.New("document.html").
		Funcs(template.FuncMap{
			"lower": strings.ToLower,
			"formatDate": func(t time.Time, layout string) string {
				return t.Format(layout)
			},
		}).
		ParseFS(templateFS, "templates/document.html"),
)

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	Version     string
	RequestedBy string
	GeneratedAt time.Time
	ContentHTML template.HTML
	Comments    []TemplateComment
}

// TemplateComment is one entry of the comments appendix.
type TemplateComment struct {
	Index       int
	HighlightID string
	Quote       string
	Author      string
	Text        string
	CreatedAt   time.Time
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var highlightClass = regexp.MustCompile(`^highlight( highlight--active)?$`)

// contentPolicy keeps user generated markup plus the overlay marks.
func contentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(highlightClass).OnElements("mark")
	p.AllowAttrs("data-highlight-id").OnElements("mark")
	p.AllowAttrs("data-node-id").Globally()
	return p
}

var sanitizer = contentPolicy()

// SanitizeContent strips anything from rendered content that is not safe to
// embed in the export document.
func SanitizeContent(html string) template.HTML {
	return template.HTML(sanitizer.Sanitize(html))
}
