package axis

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// Fit selects how a calibration maps physical to raw units
type Fit string

const (
	// Linear is a least squares line through the points
	Linear Fit = "linear"

	// Piecewise interpolates linearly between neighboring points
	Piecewise Fit = "piecewise"
)

// CalPoint is one measured (physical, raw) pair
type CalPoint struct {
	Physical float64 `yaml:"Physical" koanf:"Physical"`
	Raw      float64 `yaml:"Raw" koanf:"Raw"`
}

// Calibration maps physical units to raw device units for axes where the
// relation is measured rather than known, e.g. a monochromator grating
type Calibration struct {
	Points []CalPoint
	Fit    Fit

	alpha, beta float64
	pl          interp.PiecewiseLinear
}

// ErrNotMonotonic is generated when calibration points are not strictly
// increasing in physical units
var ErrNotMonotonic = errors.New("calibration points are not strictly increasing in physical units")

// NewCalibration validates and fits a calibration
func NewCalibration(points []CalPoint, fit Fit) (*Calibration, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("calibration needs at least 2 points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if !(points[i].Physical > points[i-1].Physical) {
			return nil, ErrNotMonotonic
		}
	}
	c := &Calibration{Points: append([]CalPoint(nil), points...), Fit: fit}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.Physical, p.Raw
	}
	switch fit {
	case Linear, "":
		c.Fit = Linear
		c.alpha, c.beta = stat.LinearRegression(xs, ys, nil, false)
	case Piecewise:
		if err := c.pl.Fit(xs, ys); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown calibration fit %q", fit)
	}
	return c, nil
}

// Raw converts a physical value to raw units.  Piecewise fits extrapolate
// flat beyond the measured points.
func (c *Calibration) Raw(physical float64) float64 {
	if c.Fit == Piecewise {
		first, last := c.Points[0], c.Points[len(c.Points)-1]
		if physical <= first.Physical {
			return first.Raw
		}
		if physical >= last.Physical {
			return last.Raw
		}
		return c.pl.Predict(physical)
	}
	return c.alpha + c.beta*physical
}
