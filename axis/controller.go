package axis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ultrafast-lab/scanctl/hardware"
	"github.com/ultrafast-lab/scanctl/scan"
	"github.com/ultrafast-lab/scanctl/util"
)

var (
	// ErrFrozen is generated when an axis in use by a running scan is edited
	ErrFrozen = errors.New("axis is in use by a running scan")

	// ErrOutOfLimits is generated when a manual move violates the software limits
	ErrOutOfLimits = errors.New("requested position violates software limits, aborted")
)

// Mover is the hardware an axis drives
type Mover interface {
	Online(ctx context.Context) (hardware.Response, error)
	MoveAbs(ctx context.Context, raw float64) (hardware.Response, error)
}

// Controller owns one axis: its settings, scan list and last position.
// It is safe for concurrent use; the scan list is frozen while a scan
// uses it.
type Controller struct {
	mu     sync.Mutex
	s      Settings
	list   []float64
	frozen bool
	pos    float64
	known  bool
	dev    Mover
	logf   scan.Logger
	hooks  []func(Settings)
}

// New validates the settings and returns a controller
func New(s Settings, dev Mover, logf scan.Logger) (*Controller, error) {
	list, err := ScanList(s)
	if err != nil {
		return nil, err
	}
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Controller{s: s, list: list, dev: dev, logf: logf}, nil
}

// Name returns the name of the axis
func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.Name
}

// Settings returns a copy of the current settings
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.s
	s.External = append([]float64(nil), c.s.External...)
	return s
}

// List returns a copy of the current scan list
func (c *Controller) List() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.list...)
}

// OnEdit registers fn to be called with the new settings after every
// successful edit
func (c *Controller) OnEdit(fn func(Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *Controller) edit(fn func(*Settings)) error {
	c.mu.Lock()
	if c.frozen {
		c.mu.Unlock()
		return ErrFrozen
	}
	next := c.s
	fn(&next)
	list, err := ScanList(next)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.s, c.list = next, list
	hooks := append(([]func(Settings))(nil), c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h(next)
	}
	return nil
}

// SetMode switches mode and regenerates the scan list
func (c *Controller) SetMode(m Mode) error {
	return c.edit(func(s *Settings) { s.Mode = m })
}

// SetRange sets the range parameters and regenerates the scan list
func (c *Controller) SetRange(start, stop, step float64) error {
	return c.edit(func(s *Settings) { s.Start, s.Stop, s.Step = start, stop, step })
}

// LoadExternal installs an external list and selects ExternalFile mode
func (c *Controller) LoadExternal(list []float64, path string) error {
	return c.edit(func(s *Settings) {
		s.External = append([]float64(nil), list...)
		s.ExternalPath = path
		s.Mode = ExternalFile
	})
}

// LoadExternalFile reads whitespace or comma separated values from r
func (c *Controller) LoadExternalFile(r io.Reader, path string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	list, err := util.ParseFloats(string(b))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return c.LoadExternal(list, path)
}

// Update replaces every setting but the name, e.g. after the
// configuration file was edited
func (c *Controller) Update(next Settings) error {
	return c.edit(func(s *Settings) {
		next.Name = s.Name
		*s = next
	})
}

// SetZeroPoint sets the raw position of physical zero
func (c *Controller) SetZeroPoint(raw float64) error {
	return c.edit(func(s *Settings) { s.ZeroPoint = raw })
}

// Freeze marks the axis in use by a scan and returns the list to scan.
// Edits fail with ErrFrozen until Thaw.
func (c *Controller) Freeze() ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return nil, fmt.Errorf("%s: %w", c.s.Name, ErrFrozen)
	}
	c.frozen = true
	return append([]float64(nil), c.list...), nil
}

// Thaw releases an axis frozen by Freeze
func (c *Controller) Thaw() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = false
}

// Frozen returns true while a scan uses the axis
func (c *Controller) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

// Position returns the last physical position moved to, and whether there
// has been one
func (c *Controller) Position() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos, c.known
}

// Restore sets the last known position without moving, e.g. from a
// persisted document at startup
func (c *Controller) Restore(physical float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos, c.known = physical, true
}

// Online checks the hardware behind the axis
func (c *Controller) Online(ctx context.Context) error {
	if c.dev == nil {
		return nil
	}
	resp, err := c.dev.Online(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Name(), err)
	}
	c.logf("%s: %s", c.Name(), resp)
	return nil
}

// MoveAbsolute converts a physical position to raw units and commands the
// hardware once, then waits the settle time.  Limits are not checked.
func (c *Controller) MoveAbsolute(ctx context.Context, physical float64) error {
	s := c.Settings()
	if c.dev == nil {
		c.mu.Lock()
		c.pos, c.known = physical, true
		c.mu.Unlock()
		return nil
	}
	raw := s.Raw(physical)
	resp, err := c.dev.MoveAbs(ctx, raw)
	if err != nil {
		return fmt.Errorf("%s: move to %g %s (raw %g): %w", s.Name, physical, s.Unit, raw, err)
	}
	c.logf("%s: %s", s.Name, resp)
	c.mu.Lock()
	c.pos, c.known = physical, true
	c.mu.Unlock()
	if s.Settle > 0 {
		t := time.NewTimer(s.Settle)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// MoveManual is a user initiated move; it honors the software limits and
// is refused while a scan uses the axis
func (c *Controller) MoveManual(ctx context.Context, physical float64) error {
	if c.Frozen() {
		return ErrFrozen
	}
	if lim := c.Settings().Limits; !lim.Check(physical) {
		return fmt.Errorf("%w: %g not in [%g, %g]", ErrOutOfLimits, physical, lim.Min, lim.Max)
	}
	return c.MoveAbsolute(ctx, physical)
}

// StepManual moves by delta from the last position, or from zero when the
// position is unknown
func (c *Controller) StepManual(ctx context.Context, delta float64) error {
	pos, _ := c.Position()
	return c.MoveManual(ctx, pos+delta)
}

// Sweep returns the loop this axis contributes to a scan over list,
// normally the list returned by Freeze
func (c *Controller) Sweep(list []float64) scan.Combinator {
	return scan.Sweep(c.Name(), list, func(f *scan.Frame, v float64) error {
		return c.MoveAbsolute(f.Ctx, v)
	})
}
