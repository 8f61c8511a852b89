package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidEditorDefaults is returned when the editor defaults file holds unusable values.
var ErrInvalidEditorDefaults = errors.New("config: invalid editor defaults")

// EditorDefaults holds the photo editor's initial control values.
type EditorDefaults struct {
	Canvas struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"canvas"`
	Text struct {
		Size  float64 `yaml:"size"`
		Color string  `yaml:"color"`
		X     float64 `yaml:"x"`
		Y     float64 `yaml:"y"`
	} `yaml:"text"`
	Filters struct {
		Brightness float64 `yaml:"brightness"`
		Contrast   float64 `yaml:"contrast"`
		Grayscale  float64 `yaml:"grayscale"`
		Invert     float64 `yaml:"invert"`
	} `yaml:"filters"`
}

// DefaultEditorDefaults returns the built-in editor defaults.
func DefaultEditorDefaults() *EditorDefaults {
	d := &EditorDefaults{}
	d.Canvas.Width = 800
	d.Canvas.Height = 500
	d.Text.Size = 48
	d.Text.Color = "#ffffff"
	d.Text.X = 0.5
	d.Text.Y = 0.85
	d.Filters.Brightness = 100
	d.Filters.Contrast = 100
	d.Filters.Grayscale = 0
	d.Filters.Invert = 0
	return d
}

// LoadEditorDefaults reads editor defaults from a YAML file. Keys missing
// from the file keep their built-in values; a missing file yields the
// built-in defaults.
func LoadEditorDefaults(path string) (*EditorDefaults, error) {
	d := DefaultEditorDefaults()
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read editor defaults: %w", err)
	}

	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parse editor defaults: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks value ranges.
func (d *EditorDefaults) Validate() error {
	switch {
	case d.Canvas.Width <= 0 || d.Canvas.Height <= 0:
		return fmt.Errorf("%w: canvas size %dx%d", ErrInvalidEditorDefaults, d.Canvas.Width, d.Canvas.Height)
	case d.Text.Size <= 0:
		return fmt.Errorf("%w: text size %v", ErrInvalidEditorDefaults, d.Text.Size)
	case d.Text.X < 0 || d.Text.X > 1 || d.Text.Y < 0 || d.Text.Y > 1:
		return fmt.Errorf("%w: text position (%v, %v)", ErrInvalidEditorDefaults, d.Text.X, d.Text.Y)
	case d.Filters.Brightness < 0 || d.Filters.Brightness > 200,
		d.Filters.Contrast < 0 || d.Filters.Contrast > 200,
		d.Filters.Grayscale < 0 || d.Filters.Grayscale > 100,
		d.Filters.Invert < 0 || d.Filters.Invert > 100:
		return fmt.Errorf("%w: filter out of range", ErrInvalidEditorDefaults)
	}
	return nil
}
