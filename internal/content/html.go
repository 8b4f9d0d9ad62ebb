package content

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseHTML reads an HTML fragment into a content tree. Scripts, styles and
// comments are dropped; void elements become opaque markers. Whitespace-only
// text is preserved because it is part of the flattened text a reader selects.
func ParseHTML(r io.Reader) (Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(r, body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	children := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if converted := fromHTMLNode(n); converted != nil {
			children = append(children, converted)
		}
	}
	return Fragment(children...), nil
}

func fromHTMLNode(n *html.Node) Node {
	switch n.Type {
	case html.TextNode:
		return NewText(n.Data)
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
			return nil
		case atom.Br, atom.Hr, atom.Img, atom.Wbr, atom.Input:
			return &Opaque{Label: n.Data}
		}
		var attrs map[string]string
		if len(n.Attr) > 0 {
			attrs = make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				attrs[a.Key] = a.Val
			}
		}
		var children []Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if converted := fromHTMLNode(c); converted != nil {
				children = append(children, converted)
			}
		}
		return &Container{Tag: n.Data, Attrs: attrs, Children: children}
	default:
		return nil
	}
}

// Class names put on rendered marks.
const (
	MarkClass       = "highlight"
	MarkActiveClass = "highlight highlight--active"
)

// RenderHTML serialises a content tree. Marks become
// <mark data-highlight-id="..."> elements; attributes are written in sorted
// order so the same tree always yields the same bytes.
func RenderHTML(node Node) (string, error) {
	root := &html.Node{Type: html.DocumentNode}
	appendHTML(root, node)

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return buf.String(), nil
}

func appendHTML(parent *html.Node, node Node) {
	switch n := node.(type) {
	case *Text:
		parent.AppendChild(&html.Node{Type: html.TextNode, Data: n.Value})
	case *Container:
		target := parent
		if !n.IsFragment() {
			target = &html.Node{
				Type:     html.ElementNode,
				Data:     n.Tag,
				DataAtom: atom.Lookup([]byte(n.Tag)),
				Attr:     sortedAttrs(n.Attrs),
			}
			parent.AppendChild(target)
		}
		for _, child := range n.Children {
			appendHTML(target, child)
		}
	case *Mark:
		class := MarkClass
		if n.Active {
			class = MarkActiveClass
		}
		el := &html.Node{
			Type:     html.ElementNode,
			Data:     "mark",
			DataAtom: atom.Mark,
			Attr: []html.Attribute{
				{Key: "class", Val: class},
				{Key: "data-highlight-id", Val: n.RangeID},
			},
		}
		parent.AppendChild(el)
		if n.Child != nil {
			appendHTML(el, n.Child)
		}
	case *Opaque:
		switch n.Label {
		case "br", "hr", "img", "wbr":
			parent.AppendChild(&html.Node{
				Type:     html.ElementNode,
				Data:     n.Label,
				DataAtom: atom.Lookup([]byte(n.Label)),
			})
		}
	}
}

func sortedAttrs(attrs map[string]string) []html.Attribute {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]html.Attribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, html.Attribute{Key: k, Val: attrs[k]})
	}
	return out
}
