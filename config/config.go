/*Package config loads, validates and persists the scanctl configuration.

Defaults come from Defaults through koanf's structs provider, the YAML file
is layered on top, and the result is decoded into explicit structs.  Keys
are the field names, e.g.

	Addr: ":8000"
	OutputDir: scandata
	Devices:
	  - Name: delay-stage
	    Addr: http://192.168.1.20:8001
	Axes:
	  - Name: delay
	    Device: delay-stage
	    Unit: ps
	    Mode: Range
	    Start: -1
	    Stop: 5
	    Step: 0.05
	Techniques:
	  - Name: pump-probe
	    Kind: absorption
	    Axes: [delay]
	    Sensor: boxcar
	    Shutter: shutter
	    Background: true

Validate runs before any hardware is touched; every problem is reported as
a *ConfigError naming the offending field.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/mitchellh/mapstructure"

	"github.com/ultrafast-lab/scanctl/axis"
	"github.com/ultrafast-lab/scanctl/reduce"
	"github.com/ultrafast-lab/scanctl/util"
)

// Protocols understood by Device.Protocol
const (
	HTTP = "http"
	Line = "line"
)

// Device is one remote hardware server
type Device struct {
	// Name is how axes and techniques refer to the device
	Name string `yaml:"Name" koanf:"Name"`

	// Addr is the base URL for http devices, or host:port or a serial
	// port such as /dev/ttyUSB0 for line devices
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Protocol is "http" (default) or "line"
	Protocol string `yaml:"Protocol" koanf:"Protocol"`

	// Serial selects a serial port for line devices; Baud is its rate
	Serial bool `yaml:"Serial" koanf:"Serial"`
	Baud   int  `yaml:"Baud" koanf:"Baud"`

	Timeout time.Duration `yaml:"Timeout" koanf:"Timeout"`

	// Retries is the number of attempts per command, zero is the default of 3
	Retries int `yaml:"Retries" koanf:"Retries"`

	// ReadCommand overrides the sample read command
	ReadCommand string `yaml:"ReadCommand" koanf:"ReadCommand"`
}

// Axis is the configuration of one scanned dimension
type Axis struct {
	Name string `yaml:"Name" koanf:"Name"`

	// Device is the motion server, empty for an axis without hardware
	Device string `yaml:"Device" koanf:"Device"`

	Unit string `yaml:"Unit" koanf:"Unit"`
	Mode string `yaml:"Mode" koanf:"Mode"`

	Start float64 `yaml:"Start" koanf:"Start"`
	Stop  float64 `yaml:"Stop" koanf:"Stop"`
	Step  float64 `yaml:"Step" koanf:"Step"`

	// ExternalPath is a text file of whitespace separated positions
	ExternalPath string `yaml:"ExternalPath" koanf:"ExternalPath"`

	ZeroPoint float64       `yaml:"ZeroPoint" koanf:"ZeroPoint"`
	Multiples float64       `yaml:"Multiples" koanf:"Multiples"`
	Direction string        `yaml:"Direction" koanf:"Direction"`
	Settle    time.Duration `yaml:"Settle" koanf:"Settle"`
	Limits    util.Limiter  `yaml:"Limits" koanf:"Limits"`
	Quantum   float64       `yaml:"Quantum" koanf:"Quantum"`

	Calibration []axis.CalPoint `yaml:"Calibration,omitempty" koanf:"Calibration"`
	Fit         string          `yaml:"Fit,omitempty" koanf:"Fit"`
}

// Technique is one acquisition recipe: axes, sensor and reduction
type Technique struct {
	Name string `yaml:"Name" koanf:"Name"`

	// Kind is averaging, absorption or spectral
	Kind string `yaml:"Kind" koanf:"Kind"`

	// Axes are composed in order, the first is the slowest loop
	Axes []string `yaml:"Axes" koanf:"Axes"`

	// Sensor is the device samples are read from
	Sensor string `yaml:"Sensor" koanf:"Sensor"`

	// Shutter and ShutterChannel select the background switch
	Shutter        string `yaml:"Shutter" koanf:"Shutter"`
	ShutterChannel int    `yaml:"ShutterChannel" koanf:"ShutterChannel"`
	Background     bool   `yaml:"Background" koanf:"Background"`

	// Mode is sent to the sensor before every run, e.g. Boxcar
	Mode string `yaml:"Mode" koanf:"Mode"`

	// Rounds overrides the global number of rounds when nonzero
	Rounds      int           `yaml:"Rounds" koanf:"Rounds"`
	SampleWidth int           `yaml:"SampleWidth" koanf:"SampleWidth"`
	Exposure    time.Duration `yaml:"Exposure" koanf:"Exposure"`
	FileStem    string        `yaml:"FileStem" koanf:"FileStem"`
}

// Config is the complete configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// OutputDir receives the exported files
	OutputDir string `yaml:"OutputDir" koanf:"OutputDir"`

	// Rounds is the default number of repetitions of a scan
	Rounds int `yaml:"Rounds" koanf:"Rounds"`

	// MessageLines is the length of the message log
	MessageLines int `yaml:"MessageLines" koanf:"MessageLines"`

	// ExportFITS writes a FITS file next to the CSV files
	ExportFITS bool `yaml:"ExportFITS" koanf:"ExportFITS"`

	// PreviewRate is the maximum number of previews per second sent to
	// websocket clients
	PreviewRate float64 `yaml:"PreviewRate" koanf:"PreviewRate"`

	// LastConfig is the write-through document of edits and positions
	LastConfig string `yaml:"LastConfig" koanf:"LastConfig"`

	Devices    []Device    `yaml:"Devices" koanf:"Devices"`
	Axes       []Axis      `yaml:"Axes" koanf:"Axes"`
	Techniques []Technique `yaml:"Techniques" koanf:"Techniques"`
}

// Defaults returns the configuration used when no file is present
func Defaults() Config {
	return Config{
		Addr:         ":8000",
		OutputDir:    "scandata",
		Rounds:       1,
		MessageLines: 20,
		PreviewRate:  10,
		LastConfig:   "last_config.yml",
		Devices:      []Device{},
		Axes:         []Axis{},
		Techniques:   []Technique{},
	}
}

// ConfigError names the field of an invalid configuration
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load layers the defaults and then, if they exist, the files at paths
// onto k.  Missing files are skipped.
func Load(k *koanf.Koanf, paths ...string) error {
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return err
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such") {
				continue
			}
			return fmt.Errorf("error loading config %s: %w", path, err)
		}
	}
	return nil
}

// Unmarshal decodes k into a Config.  Durations may be written as "250ms".
func Unmarshal(k *koanf.Koanf) (Config, error) {
	c := Config{}
	err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           &c,
		},
	})
	return c, err
}

// Read loads, decodes and validates the configuration at paths
func Read(paths ...string) (Config, error) {
	k := koanf.New(".")
	if err := Load(k, paths...); err != nil {
		return Config{}, err
	}
	c, err := Unmarshal(k)
	if err != nil {
		return c, err
	}
	return c, Validate(c)
}

// Validate checks the configuration before any hardware is touched.  It
// returns the first problem as a *ConfigError.
func Validate(c Config) error {
	if c.Rounds < 1 {
		return &ConfigError{"Rounds", "must be at least 1"}
	}
	devices := map[string]bool{}
	for i, d := range c.Devices {
		f := fmt.Sprintf("Devices[%d]", i)
		if d.Name == "" {
			return &ConfigError{f + ".Name", "is empty"}
		}
		if devices[d.Name] {
			return &ConfigError{f + ".Name", fmt.Sprintf("%q is used twice", d.Name)}
		}
		devices[d.Name] = true
		if d.Addr == "" {
			return &ConfigError{f + ".Addr", "is empty"}
		}
		switch strings.ToLower(d.Protocol) {
		case "", HTTP, Line:
		default:
			return &ConfigError{f + ".Protocol", fmt.Sprintf("%q is not http or line", d.Protocol)}
		}
	}

	axes := map[string]bool{}
	for i, a := range c.Axes {
		f := fmt.Sprintf("Axes[%d]", i)
		if a.Name == "" {
			return &ConfigError{f + ".Name", "is empty"}
		}
		if axes[a.Name] {
			return &ConfigError{f + ".Name", fmt.Sprintf("%q is used twice", a.Name)}
		}
		axes[a.Name] = true
		if a.Device != "" && !devices[a.Device] {
			return &ConfigError{f + ".Device", fmt.Sprintf("no device named %q", a.Device)}
		}
		if _, err := a.Settings(); err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				ce.Field = f + "." + ce.Field
				return ce
			}
			return &ConfigError{f, err.Error()}
		}
	}

	names := map[string]bool{}
	for i, t := range c.Techniques {
		f := fmt.Sprintf("Techniques[%d]", i)
		if t.Name == "" {
			return &ConfigError{f + ".Name", "is empty"}
		}
		if names[t.Name] {
			return &ConfigError{f + ".Name", fmt.Sprintf("%q is used twice", t.Name)}
		}
		names[t.Name] = true
		if _, err := reduce.New(t.Kind, t.Name, nil); err != nil {
			return &ConfigError{f + ".Kind", err.Error()}
		}
		if len(t.Axes) == 0 {
			return &ConfigError{f + ".Axes", "no axes to scan"}
		}
		seen := map[string]bool{}
		for _, a := range t.Axes {
			if !axes[a] {
				return &ConfigError{f + ".Axes", fmt.Sprintf("no axis named %q", a)}
			}
			if seen[a] {
				return &ConfigError{f + ".Axes", fmt.Sprintf("axis %q is listed twice", a)}
			}
			seen[a] = true
		}
		if !devices[t.Sensor] {
			return &ConfigError{f + ".Sensor", fmt.Sprintf("no device named %q", t.Sensor)}
		}
		if t.Background && !devices[t.Shutter] {
			return &ConfigError{f + ".Shutter", fmt.Sprintf("background reads need a shutter device, %q not found", t.Shutter)}
		}
		if strings.EqualFold(t.Kind, "absorption") && !t.Background {
			return &ConfigError{f + ".Background", reduce.ErrNeedsBackground.Error()}
		}
		if t.Rounds < 0 {
			return &ConfigError{f + ".Rounds", "is negative"}
		}
	}
	return nil
}

// Settings converts the axis configuration, reading the external list
// from ExternalPath when the mode is ExternalFile
func (a Axis) Settings() (axis.Settings, error) {
	s := axis.Settings{
		Name:         a.Name,
		Start:        a.Start,
		Stop:         a.Stop,
		Step:         a.Step,
		ExternalPath: a.ExternalPath,
		ZeroPoint:    a.ZeroPoint,
		Multiples:    a.Multiples,
		Settle:       a.Settle,
		Limits:       a.Limits,
		Quantum:      a.Quantum,
	}
	var err error
	if s.Unit, err = axis.ParseUnit(a.Unit); err != nil {
		return s, &ConfigError{"Unit", err.Error()}
	}
	if s.Mode, err = axis.ParseMode(a.Mode); err != nil {
		return s, &ConfigError{"Mode", err.Error()}
	}
	if s.Direction, err = axis.ParseDirection(a.Direction); err != nil {
		return s, &ConfigError{"Direction", err.Error()}
	}
	if len(a.Calibration) > 0 {
		if s.Calibration, err = axis.NewCalibration(a.Calibration, axis.Fit(strings.ToLower(a.Fit))); err != nil {
			return s, &ConfigError{"Calibration", err.Error()}
		}
	}
	if s.ExternalPath != "" {
		b, err := os.ReadFile(s.ExternalPath)
		if err != nil {
			if s.Mode == axis.ExternalFile {
				return s, &ConfigError{"ExternalPath", err.Error()}
			}
		} else if s.External, err = util.ParseFloats(string(b)); err != nil {
			return s, &ConfigError{"ExternalPath", err.Error()}
		}
	}
	if _, err := axis.ScanList(s); err != nil {
		return s, &ConfigError{"Mode", err.Error()}
	}
	return s, nil
}

// FromSettings returns a with the editable fields replaced by s
func (a Axis) FromSettings(s axis.Settings) Axis {
	a.Unit = string(s.Unit)
	a.Mode = s.Mode.String()
	a.Start, a.Stop, a.Step = s.Start, s.Stop, s.Step
	a.ExternalPath = s.ExternalPath
	a.ZeroPoint = s.ZeroPoint
	a.Multiples = s.Multiples
	a.Direction = s.Direction.String()
	a.Settle = s.Settle
	a.Limits = s.Limits
	a.Quantum = s.Quantum
	return a
}
