package content

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParseProseMirror decodes ProseMirror document JSON into a content tree.
func ParseProseMirror(data []byte) (Node, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode prosemirror doc: %w", err)
	}
	if _, ok := doc["type"].(string); !ok {
		return nil, fmt.Errorf("decode prosemirror doc: missing node type")
	}
	return FromProseMirror(doc), nil
}

// FromProseMirror converts a decoded ProseMirror node into a content tree.
// Block nodes become containers tagged with their HTML element, text nodes
// become leaves wrapped in one container per formatting mark, and atoms such
// as hard breaks and rules become opaque markers.
func FromProseMirror(node map[string]any) Node {
	nodeType, _ := node["type"].(string)
	attrs, _ := node["attrs"].(map[string]any)

	switch nodeType {
	case "text":
		text, _ := node["text"].(string)
		marks, _ := node["marks"].([]any)
		return wrapMarks(NewText(text), marks)
	case "hardBreak":
		return &Opaque{Label: "br"}
	case "horizontalRule":
		return &Opaque{Label: "hr"}
	case "image":
		return &Opaque{Label: "img"}
	}

	tag := blockTag(nodeType, attrs)
	return &Container{
		Tag:      tag,
		Attrs:    nodeAttrs(attrs),
		Children: proseMirrorChildren(node["content"]),
	}
}

func proseMirrorChildren(content any) []Node {
	items, ok := content.([]any)
	if !ok {
		return nil
	}
	children := make([]Node, 0, len(items))
	for _, item := range items {
		child, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := child["type"].(string); !ok {
			continue
		}
		children = append(children, FromProseMirror(child))
	}
	return children
}

func blockTag(nodeType string, attrs map[string]any) string {
	switch nodeType {
	case "doc":
		return "article"
	case "paragraph":
		return "p"
	case "heading":
		level := 1
		if lvl, ok := attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
			level = int(lvl)
		}
		return "h" + strconv.Itoa(level)
	case "bulletList":
		return "ul"
	case "orderedList":
		return "ol"
	case "listItem":
		return "li"
	case "blockquote":
		return "blockquote"
	case "codeBlock":
		return "pre"
	case "table":
		return "table"
	case "tableRow":
		return "tr"
	case "tableCell":
		return "td"
	case "tableHeader":
		return "th"
	default:
		return "div"
	}
}

// nodeAttrs keeps only the attributes that survive into rendered output.
func nodeAttrs(attrs map[string]any) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := map[string]string{}
	if id, ok := attrs["nodeId"].(string); ok && id != "" {
		out["data-node-id"] = id
	}
	if id, ok := attrs["id"].(string); ok && id != "" {
		out["id"] = id
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// wrapMarks nests leaf in one container per mark, outermost mark first.
func wrapMarks(leaf Node, marks []any) Node {
	node := leaf
	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]any)
		if !ok {
			continue
		}
		markType, _ := mark["type"].(string)
		var attrs map[string]string
		tag := ""
		switch markType {
		case "bold", "strong":
			tag = "strong"
		case "italic", "em":
			tag = "em"
		case "code":
			tag = "code"
		case "strike":
			tag = "s"
		case "underline":
			tag = "u"
		case "link":
			tag = "a"
			if markAttrs, ok := mark["attrs"].(map[string]any); ok {
				if href, ok := markAttrs["href"].(string); ok {
					attrs = map[string]string{"href": href}
				}
			}
		default:
			continue
		}
		node = &Container{Tag: tag, Attrs: attrs, Children: []Node{node}}
	}
	return node
}
