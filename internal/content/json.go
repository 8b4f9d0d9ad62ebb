package content

import "encoding/json"

// Wire is the JSON shape of a node handed to clients that draw the overlay
// themselves instead of consuming HTML.
type Wire struct {
	Kind     string            `json:"kind"`
	Tag      string            `json:"tag,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	RangeID  string            `json:"highlightId,omitempty"`
	Active   bool              `json:"active,omitempty"`
	Label    string            `json:"label,omitempty"`
	Children []Wire            `json:"children,omitempty"`
}

// ToWire converts a tree into its JSON shape.
func ToWire(node Node) Wire {
	switch n := node.(type) {
	case *Text:
		return Wire{Kind: KindText.String(), Text: n.Value}
	case *Container:
		children := make([]Wire, 0, len(n.Children))
		for _, child := range n.Children {
			children = append(children, ToWire(child))
		}
		return Wire{Kind: KindContainer.String(), Tag: n.Tag, Attrs: n.Attrs, Children: children}
	case *Mark:
		w := Wire{Kind: KindMark.String(), RangeID: n.RangeID, Active: n.Active}
		if n.Child != nil {
			w.Text = n.Child.Value
		}
		return w
	case *Opaque:
		return Wire{Kind: KindOpaque.String(), Label: n.Label}
	default:
		return Wire{Kind: KindOpaque.String()}
	}
}

// MarshalTree encodes a tree as JSON.
func MarshalTree(node Node) ([]byte, error) {
	return json.Marshal(ToWire(node))
}
