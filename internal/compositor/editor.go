// Package compositor implements the photo editor: one source image, four
// filter sliders and an ordered list of text overlays, redrawn from scratch
// onto a canvas after every change.
package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/vbeats/vbeats-api/internal/overlay"
	"github.com/vbeats/vbeats-api/internal/raster"
)

// Static errors for editor operations.
var (
	// ErrNoImage is returned when an operation needs a loaded image.
	ErrNoImage = errors.New("load an image first")
	// ErrEmptyText is returned when the text field is blank.
	ErrEmptyText = errors.New("enter text to add")
	// ErrUnsupportedImage is returned when an upload is not an image.
	ErrUnsupportedImage = errors.New("file is not an image")
	// ErrImageDecode is returned when an image upload cannot be decoded.
	ErrImageDecode = errors.New("image could not be decoded")
	// ErrInvalidRect is returned when a click carries an empty bounding box.
	ErrInvalidRect = errors.New("canvas bounding box must have positive size")
	// ErrInvalidColor is returned when a text color cannot be parsed.
	ErrInvalidColor = errors.New("invalid text color")
)

// ErrLayerIndex is returned when selecting a layer that does not exist.
var ErrLayerIndex = overlay.ErrLayerIndex

// MaxTextSizeFactor is the largest text size as a multiple of the canvas height.
const MaxTextSizeFactor = 4

// TextInput carries the raw values of the text, size and color fields.
type TextInput struct {
	Text  string
	Size  string
	Color string
}

// Rect is the on-screen bounding box of the canvas.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ClickEvent is a pointer click in client coordinates.
type ClickEvent struct {
	ClientX float64
	ClientY float64
	Rect    Rect
}

// Artifact is an exported file ready for download.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// State is a read-only view of the editor.
type State struct {
	Width    int             `json:"width"`
	Height   int             `json:"height"`
	HasImage bool            `json:"has_image"`
	FileName string          `json:"file_name"`
	Filters  Filters         `json:"filters"`
	Layers   []overlay.Layer `json:"layers"`
	Selected int             `json:"selected"`
}

// Option configures an Editor.
type Option func(*Editor)

// WithClock overrides the clock used for export file names.
func WithClock(now func() time.Time) Option {
	return func(e *Editor) {
		e.now = now
	}
}

// Editor is one photo editing session. All methods are safe for
// concurrent use; each mutation redraws before returning.
type Editor struct {
	mu       sync.Mutex
	settings Settings
	logger   *slog.Logger
	now      func() time.Time

	canvas   *raster.Canvas
	source   image.Image
	scaled   image.Image
	fileName string
	filters  Filters
	layers   *overlay.Collection
}

// NewEditor creates an editor with a blank canvas.
func NewEditor(settings Settings, logger *slog.Logger, opts ...Option) (*Editor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := settings.Filters.Validate(); err != nil {
		return nil, err
	}
	canvas, err := raster.NewCanvas(settings.CanvasWidth, settings.CanvasHeight)
	if err != nil {
		return nil, err
	}

	e := &Editor{
		settings: settings,
		logger:   logger,
		now:      time.Now,
		canvas:   canvas,
		filters:  settings.Filters,
		layers:   overlay.NewCollection(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// LoadImage decodes an uploaded image, fits the canvas to the viewport
// and redraws. On failure the previous state is kept.
func (e *Editor) LoadImage(ctx context.Context, name string, r io.Reader, vp Viewport) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("%w: detected %s", ErrUnsupportedImage, mt.String())
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrImageDecode, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.source = img
	e.fileName = name
	if err := e.fitLocked(vp); err != nil {
		return err
	}

	e.logger.Debug("image loaded",
		slog.String("file", name),
		slog.String("mime", mt.String()),
		slog.String("size", humanize.Bytes(uint64(len(data)))),
		slog.Int("source_width", img.Bounds().Dx()),
		slog.Int("source_height", img.Bounds().Dy()),
		slog.Int("canvas_width", e.canvas.Width()),
		slog.Int("canvas_height", e.canvas.Height()),
	)
	return e.redrawLocked()
}

// SetFilters replaces the slider values and redraws.
func (e *Editor) SetFilters(f Filters) error {
	if err := f.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters = f
	return e.redrawLocked()
}

// AddText appends a text layer at the default position and selects it.
func (e *Editor) AddText(in TextInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == nil {
		return ErrNoImage
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return ErrEmptyText
	}

	size, err := strconv.ParseFloat(strings.TrimSpace(in.Size), 64)
	if err != nil || size <= 0 || math.IsInf(size, 0) || math.IsNaN(size) {
		size = e.settings.TextSize
	}
	size = min(size, e.maxTextSizeLocked())

	col := strings.TrimSpace(in.Color)
	if col == "" {
		col = e.settings.TextColor
	}
	if _, err := raster.ParseColor(col); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidColor, col)
	}

	e.layers.Add(overlay.Layer{
		Text:  text,
		Size:  size,
		Color: col,
		X:     e.settings.TextX,
		Y:     e.settings.TextY,
	})
	return e.redrawLocked()
}

// maxTextSizeLocked caps text at MaxTextSizeFactor canvas heights, never
// below the default size.
func (e *Editor) maxTextSizeLocked() float64 {
	return max(e.settings.TextSize, float64(MaxTextSizeFactor*e.canvas.Height()))
}

// Click moves the selected layer to the clicked point. It reports false
// and changes nothing when there are no layers.
func (e *Editor) Click(ev ClickEvent) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.layers.Len() == 0 {
		return false, nil
	}
	if ev.Rect.Width <= 0 || ev.Rect.Height <= 0 {
		return false, ErrInvalidRect
	}

	x := clamp01((ev.ClientX - ev.Rect.Left) / ev.Rect.Width)
	y := clamp01((ev.ClientY - ev.Rect.Top) / ev.Rect.Height)
	if !e.layers.MoveSelected(x, y) {
		return false, nil
	}
	return true, e.redrawLocked()
}

// SelectLayer makes layer i the target of subsequent clicks.
func (e *Editor) SelectLayer(i int) error {
	return e.layers.Select(i)
}

// ClearText removes every text layer and redraws.
func (e *Editor) ClearText() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers.Clear()
	return e.redrawLocked()
}

// Fit re-fits the canvas to the viewport. Without an image it does nothing.
func (e *Editor) Fit(vp Viewport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == nil {
		return nil
	}
	if err := e.fitLocked(vp); err != nil {
		return err
	}
	return e.redrawLocked()
}

// Reset drops the image, the file name and every text layer, and blanks
// the canvas. Filter sliders keep their values.
func (e *Editor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = nil
	e.scaled = nil
	e.fileName = ""
	e.layers.Clear()
	e.canvas.Clear()
}

// Snapshot returns the canvas as currently drawn, encoded as PNG.
func (e *Editor) Snapshot() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeLocked()
}

// Export returns the rendered canvas as a downloadable PNG.
func (e *Editor) Export() (*Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == nil {
		return nil, ErrNoImage
	}
	data, err := e.encodeLocked()
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Filename:    fmt.Sprintf("vbeats-photo-%d.png", e.now().UnixMilli()),
		ContentType: "image/png",
		Data:        data,
	}, nil
}

// Image returns a copy of the current pixel buffer.
func (e *Editor) Image() *image.NRGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canvas.Image()
}

// State returns a snapshot of the editor state.
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Width:    e.canvas.Width(),
		Height:   e.canvas.Height(),
		HasImage: e.source != nil,
		FileName: e.fileName,
		Filters:  e.filters,
		Layers:   e.layers.Layers(),
		Selected: e.layers.Selected(),
	}
}

// fitLocked sizes the canvas to the source image, capped by the viewport
// and never upscaled.
func (e *Editor) fitLocked(vp Viewport) error {
	w, h := FitSize(e.source.Bounds().Dx(), e.source.Bounds().Dy(), vp, e.settings)
	if err := e.canvas.Resize(w, h); err != nil {
		return err
	}
	e.scaled = imaging.Resize(e.source, w, h, imaging.Lanczos)
	return nil
}

// FitSize computes the canvas size for an image of srcW x srcH pixels.
func FitSize(srcW, srcH int, vp Viewport, s Settings) (int, int) {
	window := vp.WindowWidth
	if window <= 0 {
		window = s.DefaultWindowWidth
	}
	maxW := min(window-s.Margin, s.MaxWidth)
	if maxW < 1 {
		maxW = 1
	}
	ratio := math.Min(1, float64(maxW)/float64(srcW))
	w := max(1, int(math.Round(float64(srcW)*ratio)))
	h := max(1, int(math.Round(float64(srcH)*ratio)))
	return w, h
}

func (e *Editor) redrawLocked() error {
	e.canvas.Clear()
	if e.source == nil {
		return nil
	}

	if err := e.canvas.DrawImage(e.scaled, e.filters.Expression()); err != nil {
		return fmt.Errorf("draw image: %w", err)
	}

	w := float64(e.canvas.Width())
	h := float64(e.canvas.Height())
	for _, l := range e.layers.Layers() {
		if err := e.canvas.FillText(l.Text, l.X*w, l.Y*h, l.Size, l.Color); err != nil {
			return fmt.Errorf("draw text %q: %w", l.Text, err)
		}
	}
	return nil
}

func (e *Editor) encodeLocked() ([]byte, error) {
	var buf bytes.Buffer
	if err := e.canvas.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
