package selection

import (
	"sync"

	"github.com/rs/zerolog"
)

// Clearer removes the ambient (native) selection once it has been captured,
// leaving the overlay as the only visual indicator.
type Clearer interface {
	ClearSelection()
}

// ClearerFunc adapts a function to Clearer.
type ClearerFunc func()

func (f ClearerFunc) ClearSelection() { f() }

// Capturer watches pointer releases on one container. It is disabled while a
// comment composer is open so a new capture cannot replace the pending one.
type Capturer struct {
	mu        sync.Mutex
	container Container
	enabled   bool
	clearer   Clearer
	onCapture func(Result)
	logger    zerolog.Logger
}

// NewCapturer returns an enabled capturer. clearer and onCapture may be nil.
func NewCapturer(container Container, clearer Clearer, onCapture func(Result), logger zerolog.Logger) *Capturer {
	return &Capturer{
		container: container,
		enabled:   true,
		clearer:   clearer,
		onCapture: onCapture,
		logger:    logger,
	}
}

// SetContainer swaps the container, typically after a re-render.
func (c *Capturer) SetContainer(container Container) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.container = container
}

// SetEnabled turns capturing on or off.
func (c *Capturer) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Enabled reports whether pointer releases are captured.
func (c *Capturer) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// OnPointerUp handles one end-of-selection gesture. On success the ambient
// selection is cleared and the callback receives the result; otherwise
// nothing happens.
func (c *Capturer) OnPointerUp(raw Raw) (Result, bool) {
	c.mu.Lock()
	enabled, container := c.enabled, c.container
	c.mu.Unlock()

	if !enabled {
		c.logger.Debug().Msg("selection ignored: capture disabled")
		return Result{}, false
	}

	result, ok := Capture(container, raw)
	if !ok {
		c.logger.Debug().Msg("selection ignored: nothing capturable")
		return Result{}, false
	}

	if c.clearer != nil {
		c.clearer.ClearSelection()
	}
	c.logger.Debug().
		Int("start", result.StartOffset).
		Int("end", result.EndOffset).
		Msg("selection captured")
	if c.onCapture != nil {
		c.onCapture(result)
	}
	return result, true
}
