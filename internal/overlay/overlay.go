// Package overlay holds the ordered collection of text layers composited
// above the source image, together with the layer that click placement
// currently targets.
package overlay

import (
	"errors"
	"sync"
)

// Default placement for new layers, in normalized canvas coordinates.
const (
	DefaultX = 0.5
	DefaultY = 0.85
)

// ErrLayerIndex is returned when a layer index is outside the collection.
var ErrLayerIndex = errors.New("layer index out of range")

// Layer is a positioned text annotation.
type Layer struct {
	// Text is the rendered string. Never empty.
	Text string `json:"text"`
	// Size is the font size in canvas pixels.
	Size float64 `json:"size"`
	// Color is a CSS-style color value such as "#ffffff".
	Color string `json:"color"`
	// X is the horizontal center as a fraction of canvas width.
	X float64 `json:"x"`
	// Y is the text baseline as a fraction of canvas height.
	Y float64 `json:"y"`
}

// Collection is an ordered list of layers with an explicit selection.
// Adding a layer selects it; only the selected layer can be moved.
type Collection struct {
	mu       sync.RWMutex
	layers   []Layer
	selected int
}

// NewCollection returns an empty collection with nothing selected.
func NewCollection() *Collection {
	return &Collection{selected: -1}
}

// Add appends a layer and makes it the selected one.
// It returns the index of the new layer.
func (c *Collection) Add(l Layer) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers = append(c.layers, l)
	c.selected = len(c.layers) - 1
	return c.selected
}

// Select makes the layer at index i the target of MoveSelected.
func (c *Collection) Select(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.layers) {
		return ErrLayerIndex
	}
	c.selected = i
	return nil
}

// Selected returns the selected index, or -1 when the collection is empty.
func (c *Collection) Selected() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// MoveSelected overwrites the position of the selected layer.
// It reports false, leaving every layer untouched, when nothing is selected.
func (c *Collection) MoveSelected(x, y float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected < 0 || c.selected >= len(c.layers) {
		return false
	}
	c.layers[c.selected].X = x
	c.layers[c.selected].Y = y
	return true
}

// Clear removes every layer.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers = nil
	c.selected = -1
}

// Len returns the number of layers.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layers)
}

// Layers returns a copy of the layers in composition order.
func (c *Collection) Layers() []Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Layer, len(c.layers))
	copy(out, c.layers)
	return out
}
