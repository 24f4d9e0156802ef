package axis

import (
	"fmt"
	"math"
	"strings"
)

// LightSpeed is the speed of light in air, mm/ps
const LightSpeed = 0.299702547

// Unit is a physical unit an axis is scanned in
type Unit string

const (
	Femtosecond Unit = "fs"
	Picosecond  Unit = "ps"
	Nanosecond  Unit = "ns"
	Millimeter  Unit = "mm"
	Radian      Unit = "radian"
	Degree      Unit = "degree"
	ArcMinute   Unit = "minute"
	ArcSecond   Unit = "second"
	Nanometer   Unit = "nm"
	Wavenumber  Unit = "cm-1"
	Raw         Unit = "raw"
)

var knownUnits = map[Unit]bool{
	Femtosecond: true, Picosecond: true, Nanosecond: true, Millimeter: true,
	Radian: true, Degree: true, ArcMinute: true, ArcSecond: true,
	Nanometer: true, Wavenumber: true, Raw: true,
}

// ParseUnit normalizes a unit name
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.ToLower(strings.TrimSpace(s)))
	switch u {
	case "":
		return Raw, nil
	case "deg":
		return Degree, nil
	case "rad":
		return Radian, nil
	case "cm^-1", "wavenumber":
		return Wavenumber, nil
	}
	if !knownUnits[u] {
		return "", fmt.Errorf("unknown unit %q", s)
	}
	return u, nil
}

// Base converts a value in unit u to the axis base unit: millimeters of
// optical path for delays, degrees for angles, nanometers for wavelength
func (u Unit) Base(v float64) float64 {
	switch u {
	case Femtosecond:
		return v / 1000 * LightSpeed
	case Picosecond:
		return v * LightSpeed
	case Nanosecond:
		return v * 1000 * LightSpeed
	case Radian:
		return v * 180 / math.Pi
	case ArcMinute:
		return v / 60
	case ArcSecond:
		return v / 3600
	case Wavenumber:
		return 1e7 / v
	}
	return v
}
