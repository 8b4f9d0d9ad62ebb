// Package render re-injects highlight ranges into a content tree.
//
// Rendering is a pure function of the original tree and the current ranges:
// nothing is cached between passes and the input tree is never modified, so
// every pass reflects the store exactly as it is.
package render

import (
	"slices"

	"marginalia/internal/content"
	"marginalia/internal/highlight"
)

// Segment is one run of a text leaf after segmentation. RangeID is empty for
// text outside every range.
type Segment struct {
	Text    string
	RangeID string
	Active  bool
}

// Wrapped reports whether the segment belongs to a range.
func (s Segment) Wrapped() bool {
	return s.RangeID != ""
}

// SegmentLeaf splits a leaf starting at absolute offset leafStart into plain
// and wrapped runs that cover it exactly. ranges must be sorted by start.
//
// The cursor only moves forward: where ranges overlap, the overlapping text
// belongs to the range that starts first and the later range resumes at the
// cursor. Zero-length runs are dropped, so adjacent ranges stay separate
// without producing empty marks. Malformed ranges intersect nothing.
func SegmentLeaf(text string, leafStart int, ranges []highlight.Range, activeID string) []Segment {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return []Segment{{Text: text}}
	}
	leafEnd := leafStart + n

	var segments []Segment
	pos := 0
	for _, r := range ranges {
		if r.Start >= r.End || r.Start >= leafEnd || r.End <= leafStart {
			continue
		}
		relStart := max(0, r.Start-leafStart, pos)
		relEnd := min(n, r.End-leafStart)
		if relEnd <= relStart {
			continue
		}
		if relStart > pos {
			segments = append(segments, Segment{Text: string(runes[pos:relStart])})
		}
		segments = append(segments, Segment{
			Text:    string(runes[relStart:relEnd]),
			RangeID: r.ID,
			Active:  activeID != "" && r.ID == activeID,
		})
		pos = relEnd
	}
	if pos < n {
		segments = append(segments, Segment{Text: string(runes[pos:])})
	}
	return segments
}

// ClickFunc receives the id of a clicked highlight.
type ClickFunc func(rangeID string)

// Render returns tree with every covered run of text wrapped in a mark.
// Containers are rebuilt with the same tag and attributes, opaque nodes pass
// through untouched and leaves no range touches are reused as they are. Each
// mark stops click propagation before calling onClick with its range id.
func Render(tree content.Node, ranges []highlight.Range, activeID string, onClick ClickFunc) content.Node {
	sorted := slices.Clone(ranges)
	highlight.SortRanges(sorted)

	return content.Map(tree, func(leaf *content.Text, start int) []content.Node {
		segments := SegmentLeaf(leaf.Value, start, sorted, activeID)
		if len(segments) == 1 && !segments[0].Wrapped() {
			return []content.Node{leaf}
		}

		nodes := make([]content.Node, 0, len(segments))
		for _, seg := range segments {
			if !seg.Wrapped() {
				nodes = append(nodes, content.NewText(seg.Text))
				continue
			}
			nodes = append(nodes, &content.Mark{
				RangeID: seg.RangeID,
				Active:  seg.Active,
				Child:   content.NewText(seg.Text),
				OnClick: markClick(seg.RangeID, onClick),
			})
		}
		return nodes
	})
}

func markClick(id string, onClick ClickFunc) content.ClickFunc {
	return func(e *content.Event) {
		e.StopPropagation()
		if onClick != nil {
			onClick(id)
		}
	}
}
