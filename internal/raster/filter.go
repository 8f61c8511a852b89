package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// Static errors for filter expressions.
var (
	// ErrFilterSyntax is returned when a filter expression cannot be tokenized.
	ErrFilterSyntax = errors.New("malformed filter expression")
	// ErrUnknownFilter is returned for filter functions the rasterizer does not support.
	ErrUnknownFilter = errors.New("unknown filter function")
	// ErrNegativeFilter is returned when a filter amount is below zero.
	ErrNegativeFilter = errors.New("filter amount must not be negative")
)

// FilterFunc names a supported filter function.
type FilterFunc string

// Supported filter functions.
const (
	Brightness FilterFunc = "brightness"
	Contrast   FilterFunc = "contrast"
	Grayscale  FilterFunc = "grayscale"
	Invert     FilterFunc = "invert"
)

// FilterOp is one function of a filter expression. Amount is a ratio,
// so "120%" and "1.2" both parse to 1.2.
type FilterOp struct {
	Func   FilterFunc
	Amount float64
}

// Filter is an ordered list of filter operations. Order matters: the
// operations do not commute.
type Filter []FilterOp

// ParseFilter parses a CSS-style filter string such as
// "brightness(120%) contrast(100%) grayscale(0%) invert(0%)".
// An empty string or "none" yields an empty filter.
func ParseFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "none" {
		return nil, nil
	}

	var f Filter
	rest := expr
	for rest != "" {
		open := strings.IndexByte(rest, '(')
		closing := strings.IndexByte(rest, ')')
		if open <= 0 || closing < open {
			return nil, fmt.Errorf("%w: %q", ErrFilterSyntax, expr)
		}

		name := FilterFunc(strings.TrimSpace(rest[:open]))
		switch name {
		case Brightness, Contrast, Grayscale, Invert:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
		}

		amount, err := parseAmount(strings.TrimSpace(rest[open+1 : closing]))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		f = append(f, FilterOp{Func: name, Amount: amount})
		rest = strings.TrimSpace(rest[closing+1:])
	}
	return f, nil
}

func parseAmount(raw string) (float64, error) {
	scale := 1.0
	if strings.HasSuffix(raw, "%") {
		raw = strings.TrimSuffix(raw, "%")
		scale = 100
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrFilterSyntax, raw)
	}
	if v < 0 {
		return 0, ErrNegativeFilter
	}
	return v / scale, nil
}

// String renders the filter back to its expression form.
func (f Filter) String() string {
	if len(f) == 0 {
		return "none"
	}
	parts := make([]string, len(f))
	for i, op := range f {
		pct := math.Round(op.Amount*100*1e6) / 1e6
		parts[i] = fmt.Sprintf("%s(%s%%)", op.Func, strconv.FormatFloat(pct, 'f', -1, 64))
	}
	return strings.Join(parts, " ")
}

// identity reports whether applying f leaves every pixel unchanged.
func (f Filter) identity() bool {
	for _, op := range f {
		switch op.Func {
		case Brightness, Contrast:
			if op.Amount != 1 {
				return false
			}
		case Grayscale, Invert:
			if op.Amount != 0 {
				return false
			}
		}
	}
	return true
}

// Apply returns a filtered copy of img. All operations run in a single
// pass, each clamped to the channel range before the next one.
func (f Filter) Apply(img image.Image) *image.NRGBA {
	if f.identity() {
		return imaging.Clone(img)
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r := float64(c.R) / 255
		g := float64(c.G) / 255
		b := float64(c.B) / 255
		for _, op := range f {
			r, g, b = op.apply(r, g, b)
		}
		return color.NRGBA{R: toByte(r), G: toByte(g), B: toByte(b), A: c.A}
	})
}

func (op FilterOp) apply(r, g, b float64) (float64, float64, float64) {
	a := op.Amount
	switch op.Func {
	case Brightness:
		return clamp01(r * a), clamp01(g * a), clamp01(b * a)
	case Contrast:
		return clamp01((r-0.5)*a + 0.5), clamp01((g-0.5)*a + 0.5), clamp01((b-0.5)*a + 0.5)
	case Grayscale:
		a = math.Min(a, 1)
		lum := 0.2126*r + 0.7152*g + 0.0722*b
		return r*(1-a) + lum*a, g*(1-a) + lum*a, b*(1-a) + lum*a
	case Invert:
		a = math.Min(a, 1)
		return r*(1-a) + (1-r)*a, g*(1-a) + (1-g)*a, b*(1-a) + (1-b)*a
	}
	return r, g, b
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func toByte(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}
