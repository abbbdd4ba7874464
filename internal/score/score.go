// Package score locates the score marker line in engine output and derives
// the rating shown to users.
package score

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/lei/lighthouse-kiosk/internal/models"
)

// Marker is the label preceding the numeric score in engine output
const Marker = "LIGHTHOUSE SCORE:"

var markerPattern = regexp.MustCompile(regexp.QuoteMeta(Marker) + `\s*(.*)$`)

// Rating thresholds, inclusive upper bounds
const (
	PoorMax    = 45.0
	AverageMax = 75.0
)

var errOutOfRange = errors.New("score outside [0, 100]")

// ParseError is returned when the marker matched but the value is not a usable number
type ParseError struct {
	Line  string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse score %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Extractor finds the single score of a run. Use a fresh Extractor per run.
type Extractor struct {
	matched bool
}

// NewExtractor creates an extractor for one run
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Feed inspects one line. It returns ok=true only for the first marker line
// of the run; any later line, marker or not, yields nothing.
func (e *Extractor) Feed(line string) (float64, bool, error) {
	if e.matched {
		return 0, false, nil
	}

	m := markerPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false, nil
	}
	e.matched = true

	value := strings.TrimSpace(m[1])
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, &ParseError{Line: line, Value: value, Err: err}
	}
	if math.IsNaN(v) || v < 0 || v > 100 {
		return 0, false, &ParseError{Line: line, Value: value, Err: errOutOfRange}
	}

	return v, true, nil
}

// Matched reports whether a marker line has been consumed
func (e *Extractor) Matched() bool {
	return e.matched
}

// Rate maps a score to its rating
func Rate(score float64) models.Rating {
	switch {
	case score <= PoorMax:
		return models.RatingPoor
	case score <= AverageMax:
		return models.RatingAverage
	default:
		return models.RatingGood
	}
}

// Format renders a score with at most one fractional digit
func Format(score float64) string {
	return strconv.FormatFloat(math.Round(score*10)/10, 'f', -1, 64)
}
