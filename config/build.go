package config

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/ultrafast-lab/scanctl/axis"
	"github.com/ultrafast-lab/scanctl/bridge"
	"github.com/ultrafast-lab/scanctl/hardware"
	"github.com/ultrafast-lab/scanctl/msglog"
	"github.com/ultrafast-lab/scanctl/reduce"
	"github.com/ultrafast-lab/scanctl/session"
)

// DefaultTimeout is used for devices without a Timeout
const DefaultTimeout = 2 * time.Second

// Hardware holds the devices built from a configuration
type Hardware struct {
	Devices map[string]*hardware.Device

	closers []io.Closer
}

// BuildDevices constructs a client for every device.  No connection is made.
func BuildDevices(c Config) *Hardware {
	hw := &Hardware{Devices: map[string]*hardware.Device{}}
	for _, d := range c.Devices {
		var client hardware.Client
		if d.Timeout <= 0 {
			d.Timeout = DefaultTimeout
		}
		switch strings.ToLower(d.Protocol) {
		case Line:
			baud := 0
			if d.Serial {
				baud = d.Baud
				if baud == 0 {
					baud = 9600
				}
			}
			lc := hardware.NewLineClient(d.Addr, baud, d.Timeout)
			if d.Retries > 0 {
				lc.Retries = d.Retries
			}
			hw.closers = append(hw.closers, lc)
			client = lc
		default:
			hc := hardware.NewHTTPClient(d.Addr, d.Timeout)
			if d.Retries > 0 {
				hc.Retries = d.Retries
			}
			client = hc
		}
		dev := hardware.NewDevice(d.Name, client)
		if d.ReadCommand != "" {
			dev.ReadCommand = d.ReadCommand
		}
		hw.Devices[d.Name] = dev
	}
	return hw
}

// Close releases pooled connections
func (hw *Hardware) Close() error {
	var first error
	for _, c := range hw.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BuildAxes constructs a controller for every axis, keyed by name
func BuildAxes(c Config, hw *Hardware, logf func(string, ...interface{})) (map[string]*axis.Controller, error) {
	out := make(map[string]*axis.Controller, len(c.Axes))
	for _, a := range c.Axes {
		s, err := a.Settings()
		if err != nil {
			return nil, err
		}
		var mov axis.Mover
		if a.Device != "" {
			dev, ok := hw.Devices[a.Device]
			if !ok {
				return nil, &ConfigError{"Axes." + a.Name + ".Device", fmt.Sprintf("no device named %q", a.Device)}
			}
			mov = dev
		}
		ctl, err := axis.New(s, mov, logf)
		if err != nil {
			return nil, err
		}
		out[a.Name] = ctl
	}
	return out, nil
}

// Env is what techniques share at run time
type Env struct {
	Hardware *Hardware
	Axes     map[string]*axis.Controller
	Log      *msglog.Log
	Bridge   *bridge.Bridge

	// Done is called with the technique's axes after every run
	Done func(name string, st session.State, axes []*axis.Controller)
}

// BuildLab constructs one session per technique
func BuildLab(c Config, env Env) (*session.Lab, error) {
	lab := session.NewLab()
	for _, t := range c.Techniques {
		p, err := plan(c, t, env)
		if err != nil {
			return nil, err
		}
		if err := lab.Add(session.New(t.Name, p)); err != nil {
			return nil, err
		}
	}
	return lab, nil
}

func plan(c Config, t Technique, env Env) (session.Plan, error) {
	red, err := reduce.New(t.Kind, t.Name, env.Bridge)
	if err != nil {
		return session.Plan{}, &ConfigError{"Techniques." + t.Name + ".Kind", err.Error()}
	}
	p := session.Plan{
		Reducer:     red,
		Background:  t.Background,
		Mode:        t.Mode,
		Rounds:      c.Rounds,
		SampleWidth: t.SampleWidth,
		Exposure:    t.Exposure,
		OutputDir:   filepath.Join(c.OutputDir, t.Name),
		FileStem:    t.FileStem,
		FITS:        c.ExportFITS,
		Bridge:      env.Bridge,
	}
	if t.Rounds > 0 {
		p.Rounds = t.Rounds
	}
	for _, name := range t.Axes {
		a, ok := env.Axes[name]
		if !ok {
			return p, &ConfigError{"Techniques." + t.Name + ".Axes", fmt.Sprintf("no axis named %q", name)}
		}
		p.Axes = append(p.Axes, a)
	}
	sensor, ok := env.Hardware.Devices[t.Sensor]
	if !ok {
		return p, &ConfigError{"Techniques." + t.Name + ".Sensor", fmt.Sprintf("no device named %q", t.Sensor)}
	}
	p.Sensor = sensor
	if t.Mode != "" {
		p.ModeSwitch = sensor
	}
	if t.Background {
		sh, ok := env.Hardware.Devices[t.Shutter]
		if !ok {
			return p, &ConfigError{"Techniques." + t.Name + ".Shutter", fmt.Sprintf("no device named %q", t.Shutter)}
		}
		p.Shutter = sh.Shutter(t.ShutterChannel)
	}
	if env.Log != nil {
		p.Logf = env.Log.Session(t.Name)
	}
	if env.Done != nil {
		axes, name, done := p.Axes, t.Name, env.Done
		p.Done = func(st session.State) { done(name, st, axes) }
	}
	return p, nil
}
