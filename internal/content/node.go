// Package content models the annotated document as a tree of text leaves,
// containers and opaque markers, and defines the flattened character offsets
// that highlights are anchored to.
package content

// Kind tags the variant of a Node.
type Kind int

const (
	KindText Kind = iota
	KindContainer
	KindOpaque
	KindMark
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindContainer:
		return "container"
	case KindOpaque:
		return "opaque"
	case KindMark:
		return "mark"
	default:
		return "unknown"
	}
}

// Node is a single element of a content tree. Trees are treated as immutable
// once built; transforms return new containers instead of editing children in place.
type Node interface {
	Kind() Kind
}

// Text is a leaf carrying characters. Only text contributes to offsets.
type Text struct {
	Value string
}

func (*Text) Kind() Kind { return KindText }

// Container groups children under a tag with opaque attributes. Tag and Attrs
// are carried through every transform untouched.
type Container struct {
	Tag      string
	Attrs    map[string]string
	Children []Node
}

func (*Container) Kind() Kind { return KindContainer }

// Opaque stands for anything that is neither text nor a container: line
// breaks, images, rules, empty markers. It never advances the offset counter.
type Opaque struct {
	Label string
}

func (*Opaque) Kind() Kind { return KindOpaque }

// Mark is a wrapped segment emitted by the range renderer. It flattens to its
// child text, so a rendered tree has the same offsets as its source.
type Mark struct {
	RangeID string
	Active  bool
	Child   *Text
	OnClick ClickFunc
}

func (*Mark) Kind() Kind { return KindMark }

// NewText returns a text leaf.
func NewText(value string) *Text {
	return &Text{Value: value}
}

// NewContainer returns a container with the given tag and children.
func NewContainer(tag string, attrs map[string]string, children ...Node) *Container {
	return &Container{Tag: tag, Attrs: attrs, Children: children}
}

// Fragment groups nodes without introducing an element of its own.
func Fragment(children ...Node) *Container {
	return &Container{Children: children}
}

// IsFragment reports whether c is a tagless grouping container.
func (c *Container) IsFragment() bool {
	return c.Tag == ""
}

// Children returns the ordered children of n. Leaves and opaque nodes have none.
func Children(n Node) []Node {
	switch v := n.(type) {
	case *Container:
		return v.Children
	case *Mark:
		if v.Child == nil {
			return nil
		}
		return []Node{v.Child}
	default:
		return nil
	}
}
