// Package util contains misc internal utilities.
package util

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadStep is generated when a range is asked for with a non-positive step
var ErrBadStep = errors.New("step must be positive and finite")

// Arange returns the half-open interval [start, stop) sampled every step.
// The length is ceil((stop-start)/step) and element i is start+i*step,
// with any element that rounding pushed to or past stop dropped.
func Arange(start, stop, step float64) ([]float64, error) {
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, ErrBadStep
	}
	if math.IsNaN(start) || math.IsNaN(stop) || math.IsInf(start, 0) || math.IsInf(stop, 0) {
		return nil, fmt.Errorf("range [%v, %v) is not finite", start, stop)
	}
	if stop <= start {
		return []float64{}, nil
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := start + float64(i)*step
		if v >= stop {
			break
		}
		out = append(out, v)
	}
	return out, nil
}

// EvenlySpaced returns the spacing of s and true if every neighbor
// difference matches the first within a relative tolerance of tol
func EvenlySpaced(s []float64, tol float64) (float64, bool) {
	if len(s) < 2 {
		return 0, false
	}
	d := s[1] - s[0]
	if d == 0 {
		return 0, false
	}
	for i := 2; i < len(s); i++ {
		if math.Abs((s[i]-s[i-1])-d) > tol*math.Abs(d) {
			return d, false
		}
	}
	return d, true
}

// ParseFloats reads whitespace or comma separated floats from text
func ParseFloats(text string) ([]float64, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]float64, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%q): %w", i, f, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Limiter imposes software limits on a value
type Limiter struct {
	Min float64 `yaml:"Min" koanf:"Min"`
	Max float64 `yaml:"Max" koanf:"Max"`
}

// Set reports whether the limiter holds a usable (Min < Max) interval
func (l Limiter) Set() bool {
	return l.Min < l.Max
}

// Check returns true if the value is within the limits, or if there are none
func (l Limiter) Check(input float64) bool {
	if !l.Set() {
		return true
	}
	return input >= l.Min && input <= l.Max
}
