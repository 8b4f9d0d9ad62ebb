package content

// ClickFunc handles a click that reached a mark.
type ClickFunc func(e *Event)

// Event is a click travelling from its target up to the root.
type Event struct {
	Target  Node
	Path    []int
	stopped bool
}

// StopPropagation prevents ancestors from seeing the event.
func (e *Event) StopPropagation() {
	e.stopped = true
}

// Stopped reports whether a handler stopped the event.
func (e *Event) Stopped() bool {
	return e.stopped
}

// Dispatch delivers a click at path to root's handlers, innermost first, and
// reports whether a handler stopped propagation. A path that does not resolve
// is clamped to its deepest resolvable prefix.
func Dispatch(root Node, path []int) (*Event, bool) {
	chain := []Node{root}
	node := root
	resolved := 0
	for _, idx := range path {
		children := Children(node)
		if idx < 0 || idx >= len(children) {
			break
		}
		node = children[idx]
		chain = append(chain, node)
		resolved++
	}

	e := &Event{Target: node, Path: path[:resolved]}
	for i := len(chain) - 1; i >= 0; i-- {
		mark, ok := chain[i].(*Mark)
		if !ok || mark.OnClick == nil {
			continue
		}
		mark.OnClick(e)
		if e.stopped {
			return e, true
		}
	}
	return e, false
}
