package content

import (
	"strings"
	"unicode/utf8"
)

// Flatten returns visited plus the number of characters contributed by node.
// Traversal is pre-order, depth-first, left to right; only text leaves (and the
// text inside marks) count. Selection capture and rendering both rely on this
// exact ordering.
func Flatten(node Node, visited int) int {
	switch n := node.(type) {
	case *Text:
		return visited + utf8.RuneCountInString(n.Value)
	case *Mark:
		if n.Child == nil {
			return visited
		}
		return Flatten(n.Child, visited)
	case *Container:
		for _, child := range n.Children {
			visited = Flatten(child, visited)
		}
		return visited
	default:
		return visited
	}
}

// Length is the total flattened length of node.
func Length(node Node) int {
	return Flatten(node, 0)
}

// PlainText concatenates every text leaf of node in traversal order.
func PlainText(node Node) string {
	var sb strings.Builder
	writePlain(&sb, node)
	return sb.String()
}

func writePlain(sb *strings.Builder, node Node) {
	switch n := node.(type) {
	case *Text:
		sb.WriteString(n.Value)
	case *Mark, *Container:
		for _, child := range Children(n) {
			writePlain(sb, child)
		}
	}
}

// Slice returns the flattened text in [start, end), clamped to the tree.
func Slice(node Node, start, end int) string {
	runes := []rune(PlainText(node))
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}

// Locate follows a child-index path from root. An empty path is root itself.
func Locate(root Node, path []int) (Node, bool) {
	node := root
	for _, idx := range path {
		children := Children(node)
		if idx < 0 || idx >= len(children) {
			return nil, false
		}
		node = children[idx]
	}
	return node, node != nil
}

// OffsetAt converts a point inside root into a flattened offset. The point is
// a child-index path plus an offset: for a text leaf the offset counts
// characters into the leaf, for any other node it counts children, the same
// way a DOM boundary point does. Offsets past the end are clamped.
func OffsetAt(root Node, path []int, offset int) (int, bool) {
	total := 0
	node := root
	for _, idx := range path {
		children := Children(node)
		if idx < 0 || idx >= len(children) {
			return 0, false
		}
		for _, sibling := range children[:idx] {
			total = Flatten(sibling, total)
		}
		node = children[idx]
	}
	if node == nil {
		return 0, false
	}
	if offset < 0 {
		offset = 0
	}

	if text, ok := node.(*Text); ok {
		n := utf8.RuneCountInString(text.Value)
		if offset > n {
			offset = n
		}
		return total + offset, true
	}

	children := Children(node)
	if offset > len(children) {
		offset = len(children)
	}
	for _, child := range children[:offset] {
		total = Flatten(child, total)
	}
	return total, true
}

// LeafFunc rewrites a single text leaf. start is the leaf's absolute offset in
// the flattened tree. Returning nil drops the leaf.
type LeafFunc func(leaf *Text, start int) []Node

// Map rebuilds node with every text leaf replaced by fn's output. Containers
// keep their tag and attributes; opaque nodes and existing marks pass through
// as they are. The input tree is never modified. When the root itself is a
// leaf that expands into several nodes they are grouped in a fragment.
func Map(node Node, fn LeafFunc) Node {
	out, _ := mapNode(node, 0, fn)
	switch len(out) {
	case 0:
		return Fragment()
	case 1:
		return out[0]
	default:
		return Fragment(out...)
	}
}

func mapNode(node Node, offset int, fn LeafFunc) ([]Node, int) {
	switch n := node.(type) {
	case *Text:
		end := Flatten(n, offset)
		return fn(n, offset), end
	case *Container:
		children := make([]Node, 0, len(n.Children))
		for _, child := range n.Children {
			var mapped []Node
			mapped, offset = mapNode(child, offset, fn)
			children = append(children, mapped...)
		}
		return []Node{&Container{Tag: n.Tag, Attrs: n.Attrs, Children: children}}, offset
	case *Mark:
		return []Node{n}, Flatten(n, offset)
	case nil:
		return nil, offset
	default:
		return []Node{n}, offset
	}
}

// Visitor is called for every node in pre-order with its path and the
// flattened offset at which the node starts. Returning false skips children.
type Visitor func(node Node, path []int, start int) bool

// Walk visits node and its descendants in traversal order.
func Walk(node Node, visit Visitor) {
	walk(node, nil, 0, visit)
}

func walk(node Node, path []int, offset int, visit Visitor) int {
	if node == nil {
		return offset
	}
	if !visit(node, path, offset) {
		return Flatten(node, offset)
	}
	switch node.(type) {
	case *Container, *Mark:
		for i, child := range Children(node) {
			childPath := make([]int, len(path)+1)
			copy(childPath, path)
			childPath[len(path)] = i
			offset = walk(child, childPath, offset, visit)
		}
		return offset
	default:
		return Flatten(node, offset)
	}
}
