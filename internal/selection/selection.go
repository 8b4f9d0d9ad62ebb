// Package selection turns a raw on-screen selection inside a bounded
// container into offsets in the flattened content coordinate space.
package selection

import (
	"slices"
	"strings"
	"unicode/utf8"

	"marginalia/internal/content"
)

// Point is a boundary point addressed from the page root: a child-index path
// and an offset (characters for text leaves, children for other nodes).
type Point struct {
	Path   []int `json:"path"`
	Offset int   `json:"offset"`
}

// Rect is the on-screen box of a selection as reported by the view layer.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Raw is the native selection reported when a pointer is released.
type Raw struct {
	Anchor       Point `json:"anchor"`
	Focus        Point `json:"focus"`
	BoundingRect *Rect `json:"boundingRect,omitempty"`
}

// Collapsed reports whether the selection covers nothing.
func (r Raw) Collapsed() bool {
	return r.Anchor.Offset == r.Focus.Offset && slices.Equal(r.Anchor.Path, r.Focus.Path)
}

// Container is the bounded region selections are captured from: the rendered
// subtree and where it is mounted on the page.
type Container struct {
	Node content.Node
	Path []int
}

// Contains reports whether p lies inside the container.
func (c Container) Contains(p Point) bool {
	return len(p.Path) >= len(c.Path) && slices.Equal(p.Path[:len(c.Path)], c.Path)
}

// Result is a captured selection in flattened offsets.
type Result struct {
	Text         string `json:"text"`
	StartOffset  int    `json:"startOffset"`
	EndOffset    int    `json:"endOffset"`
	BoundingRect *Rect  `json:"boundingRect,omitempty"`
}

// Capture converts raw into offsets relative to the start of c. It reports
// false, without error, when the selection is collapsed, blank after
// trimming, or reaches outside the container; such selections are rejected
// rather than clipped.
func Capture(c Container, raw Raw) (Result, bool) {
	if c.Node == nil || raw.Collapsed() {
		return Result{}, false
	}
	if !c.Contains(raw.Anchor) || !c.Contains(raw.Focus) {
		return Result{}, false
	}

	anchor, ok := content.OffsetAt(c.Node, raw.Anchor.Path[len(c.Path):], raw.Anchor.Offset)
	if !ok {
		return Result{}, false
	}
	focus, ok := content.OffsetAt(c.Node, raw.Focus.Path[len(c.Path):], raw.Focus.Offset)
	if !ok {
		return Result{}, false
	}

	start, end := min(anchor, focus), max(anchor, focus)
	if start == end {
		return Result{}, false
	}

	text := content.Slice(c.Node, start, end)
	if strings.TrimSpace(text) == "" {
		return Result{}, false
	}

	return Result{
		Text:         text,
		StartOffset:  start,
		EndOffset:    start + utf8.RuneCountInString(text),
		BoundingRect: raw.BoundingRect,
	}, true
}
