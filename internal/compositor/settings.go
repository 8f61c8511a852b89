package compositor

import (
	"errors"
	"fmt"

	"github.com/vbeats/vbeats-api/internal/raster"
)

// ErrFilterOutOfRange is returned when a filter value falls outside its control range.
var ErrFilterOutOfRange = errors.New("filter value out of range")

// Filters holds the four percentage sliders. Brightness and Contrast
// range over [0,200] with 100 as neutral; Grayscale and Invert range
// over [0,100] with 0 as neutral.
type Filters struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Grayscale  float64 `json:"grayscale"`
	Invert     float64 `json:"invert"`
}

// NeutralFilters returns filters that leave the image unchanged.
func NeutralFilters() Filters {
	return Filters{Brightness: 100, Contrast: 100}
}

// Validate checks every slider against its range.
func (f Filters) Validate() error {
	check := func(name string, v, hi float64) error {
		if v < 0 || v > hi {
			return fmt.Errorf("%w: %s=%v (0-%v)", ErrFilterOutOfRange, name, v, hi)
		}
		return nil
	}
	if err := check("brightness", f.Brightness, 200); err != nil {
		return err
	}
	if err := check("contrast", f.Contrast, 200); err != nil {
		return err
	}
	if err := check("grayscale", f.Grayscale, 100); err != nil {
		return err
	}
	return check("invert", f.Invert, 100)
}

// Expression renders the combined filter string. The order is fixed:
// brightness, contrast, grayscale, invert.
func (f Filters) Expression() string {
	return raster.Filter{
		{Func: raster.Brightness, Amount: f.Brightness / 100},
		{Func: raster.Contrast, Amount: f.Contrast / 100},
		{Func: raster.Grayscale, Amount: f.Grayscale / 100},
		{Func: raster.Invert, Amount: f.Invert / 100},
	}.String()
}

// Settings configures a new Editor.
type Settings struct {
	// CanvasWidth and CanvasHeight size the blank canvas before any image is loaded.
	CanvasWidth  int
	CanvasHeight int

	// MaxWidth caps the fitted canvas width.
	MaxWidth int
	// Margin is subtracted from the window width before fitting.
	Margin int
	// DefaultWindowWidth is used when a viewport does not report its width.
	DefaultWindowWidth int

	// Text layer defaults.
	TextSize  float64
	TextColor string
	TextX     float64
	TextY     float64

	// Filters are the initial slider values.
	Filters Filters
}

// DefaultSettings returns the stock editor settings.
func DefaultSettings() Settings {
	return Settings{
		CanvasWidth:        800,
		CanvasHeight:       500,
		MaxWidth:           1200,
		Margin:             120,
		DefaultWindowWidth: 1320,
		TextSize:           48,
		TextColor:          "#ffffff",
		TextX:              0.5,
		TextY:              0.85,
		Filters:            NeutralFilters(),
	}
}

// Viewport describes the display the canvas is fitted to.
type Viewport struct {
	// WindowWidth is the available window width in logical pixels.
	// Zero selects Settings.DefaultWindowWidth.
	WindowWidth int `json:"window_width"`
}
