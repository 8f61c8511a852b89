// Package raster is the 2D compositor behind the photo editor. It owns a
// pixel buffer and offers the handful of drawing primitives the editor
// needs: clear, draw a scaled image through a filter expression, draw
// centered text, and encode the buffer as PNG.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
)

// ErrInvalidSize is returned when a canvas dimension is not positive.
var ErrInvalidSize = errors.New("canvas dimensions must be positive")

// Canvas is a fixed-size RGBA pixel buffer. It is not safe for
// concurrent use; callers serialize access.
type Canvas struct {
	img   *image.NRGBA
	fonts *faceCache
}

// NewCanvas returns a transparent canvas of the given size.
func NewCanvas(width, height int) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	return &Canvas{
		img:   imaging.New(width, height, color.Transparent),
		fonts: newFaceCache(),
	}, nil
}

// Width returns the canvas width in pixels.
func (c *Canvas) Width() int { return c.img.Bounds().Dx() }

// Height returns the canvas height in pixels.
func (c *Canvas) Height() int { return c.img.Bounds().Dy() }

// Resize changes the canvas dimensions. Like assigning a new size to an
// HTML canvas, this discards the current contents.
func (c *Canvas) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	c.img = imaging.New(width, height, color.Transparent)
	return nil
}

// Clear resets every pixel to transparent black.
func (c *Canvas) Clear() {
	c.img = imaging.New(c.Width(), c.Height(), color.Transparent)
}

// DrawImage scales src to the full canvas, applies the filter
// expression to it and composites the result over the canvas.
func (c *Canvas) DrawImage(src image.Image, filterExpr string) error {
	f, err := ParseFilter(filterExpr)
	if err != nil {
		return err
	}
	scaled := imaging.Resize(src, c.Width(), c.Height(), imaging.Lanczos)
	c.img = imaging.Overlay(c.img, f.Apply(scaled), image.Pt(0, 0), 1.0)
	return nil
}

// Image returns a copy of the current pixel buffer.
func (c *Canvas) Image() *image.NRGBA {
	return imaging.Clone(c.img)
}

// EncodePNG writes the canvas as a lossless PNG.
func (c *Canvas) EncodePNG(w io.Writer) error {
	if err := imaging.Encode(w, c.img, imaging.PNG); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}
