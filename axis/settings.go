/*Package axis controls one single-degree-of-freedom instrument dimension:
a delay line, a filter wheel, a tunable source or a monochromator.

An axis converts the physical values it is scanned in to raw device
positions, owns its scan list, and contributes one loop to a composed scan
through Controller.Sweep.
*/
package axis

import (
	"errors"
	"fmt"
	"time"

	"github.com/ultrafast-lab/scanctl/mathx"
	"github.com/ultrafast-lab/scanctl/scan"
	"github.com/ultrafast-lab/scanctl/util"
)

var (
	// ErrNoExternalList is generated when ExternalFile mode is selected before a list was loaded
	ErrNoExternalList = errors.New("no external scan list loaded")

	// ErrEmptyRange is generated when a range contains no points
	ErrEmptyRange = errors.New("range contains no points, stop must be greater than start")
)

// Settings is the configuration of one axis
type Settings struct {
	Name string
	Unit Unit
	Mode Mode

	// Start, Stop, Step define the half-open range used in Range mode
	Start, Stop, Step float64

	// External is the list used in ExternalFile mode, loaded from ExternalPath
	External     []float64
	ExternalPath string

	// ZeroPoint is the raw position of physical zero
	ZeroPoint float64

	// Multiples scales base units to raw units, e.g. 0.5 for a double pass delay line
	Multiples float64

	Direction Direction

	// Settle is waited after every move
	Settle time.Duration

	// Limits bound manual moves
	Limits util.Limiter

	// Quantum rounds raw positions, e.g. 1 for a stepper counting whole steps
	Quantum float64

	// Calibration replaces the unit conversion when set
	Calibration *Calibration
}

// ScanList returns the positions visited by a scan.  It is a pure
// function of the settings: Manual yields the single Stay entry, Range the
// half-open arange, ExternalFile a copy of the loaded list.
func ScanList(s Settings) ([]float64, error) {
	switch s.Mode {
	case Manual:
		return []float64{scan.Stay}, nil
	case Range:
		l, err := util.Arange(s.Start, s.Stop, s.Step)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		if len(l) == 0 {
			return nil, fmt.Errorf("%s: %w", s.Name, ErrEmptyRange)
		}
		return l, nil
	case ExternalFile:
		if len(s.External) == 0 {
			return nil, fmt.Errorf("%s: %w", s.Name, ErrNoExternalList)
		}
		return append([]float64(nil), s.External...), nil
	}
	return nil, fmt.Errorf("%s: unknown mode %v", s.Name, s.Mode)
}

// Raw converts a physical value to the raw device position
func (s Settings) Raw(physical float64) float64 {
	var raw float64
	if s.Calibration != nil {
		raw = s.Calibration.Raw(physical)
	} else {
		m := s.Multiples
		if m == 0 {
			m = 1
		}
		raw = s.Unit.Base(physical) * m * mathx.Sign(float64(s.Direction))
	}
	raw += s.ZeroPoint
	if s.Quantum > 0 {
		raw = mathx.Round(raw, s.Quantum)
	}
	return raw
}
