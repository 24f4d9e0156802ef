package axis

import (
	"fmt"
	"strings"
)

// Mode selects how an axis builds its scan list
type Mode int

const (
	// Manual axes are not moved by a scan; they contribute one point
	Manual Mode = iota

	// Range axes visit [Start, Stop) every Step
	Range

	// ExternalFile axes visit a list loaded from a file
	ExternalFile
)

var modeNames = map[Mode]string{
	Manual:       "Manual",
	Range:        "Range",
	ExternalFile: "External file",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode is case and space insensitive, so "external file",
// "ExternalFile" and "external" all parse
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, " ", "")) {
	case "manual", "":
		return Manual, nil
	case "range":
		return Range, nil
	case "externalfile", "external", "file":
		return ExternalFile, nil
	}
	return Manual, fmt.Errorf("unknown axis mode %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Direction maps increasing physical values to increasing (Positive) or
// decreasing (Negative) raw positions
type Direction int

const (
	Positive Direction = 1
	Negative Direction = -1
)

func (d Direction) String() string {
	if d == Negative {
		return "Negative"
	}
	return "Positive"
}

// ParseDirection parses "Positive" or "Negative"; empty means Positive
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "+", "":
		return Positive, nil
	case "negative", "-":
		return Negative, nil
	}
	return Positive, fmt.Errorf("unknown direction %q", s)
}
