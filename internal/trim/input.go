package trim

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultClipLength is the clip length in seconds used when no end time
// is given and the file's duration is unknown.
const DefaultClipLength = 5

// TrimInput carries the raw start and end fields of a trim request.
// Empty or unparseable fields count as absent, and so does an end of 0.
type TrimInput struct {
	Start   string
	End     string
	Publish bool
}

// Range is a validated trim range in seconds.
type Range struct {
	Start float64
	End   float64
}

// resolveRange applies the field defaults: start falls back to 0; end
// falls back to defaultEnd when known, else to start plus DefaultClipLength.
// An end of 0 is never a usable bound and takes the fallback as well.
func resolveRange(in TrimInput, defaultEnd float64, hasDefaultEnd bool) (Range, error) {
	start, ok := parseSeconds(in.Start)
	if !ok {
		start = 0
	}

	end, ok := parseSeconds(in.End)
	if !ok || end == 0 {
		if hasDefaultEnd {
			end = defaultEnd
		} else {
			end = start + DefaultClipLength
		}
	}

	if start < 0 {
		return Range{}, fmt.Errorf("%w: start %v is negative", ErrInvalidRange, start)
	}
	if end <= start {
		return Range{}, fmt.Errorf("%w: end %v must be greater than start %v", ErrInvalidRange, end, start)
	}
	return Range{Start: start, End: end}, nil
}

func parseSeconds(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// formatSeconds renders seconds the way they are passed to the engine:
// "0", "10", "2.5".
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
