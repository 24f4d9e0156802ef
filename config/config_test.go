package config_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ultrafast-lab/scanctl/axis"
	"github.com/ultrafast-lab/scanctl/config"
	"github.com/ultrafast-lab/scanctl/hardware/sim"
	"github.com/ultrafast-lab/scanctl/session"
	"github.com/ultrafast-lab/scanctl/util"
)

const doc = `
Addr: ":9000"
OutputDir: %s
Rounds: 2
Devices:
  - Name: stage
    Addr: %s
    Timeout: 250ms
  - Name: boxcar
    Addr: %s
    Retries: 5
Axes:
  - Name: delay
    Device: stage
    Unit: raw
    Mode: Range
    Start: 0
    Stop: 3
    Step: 1
    Settle: 1ms
    Limits:
      Min: -10
      Max: 10
  - Name: wheel
    Mode: Manual
Techniques:
  - Name: pump-probe
    Kind: absorption
    Axes: [delay, wheel]
    Sensor: boxcar
    Shutter: boxcar
    Background: true
    Mode: Boxcar
`

func write(t *testing.T, name, body string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(fn, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestDefaultsWhenFileMissing(t *testing.T) {
	c, err := config.Read(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(config.Defaults(), c, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("defaults (-want +got):\n%s", diff)
	}
}

func TestReadFile(t *testing.T) {
	fn := write(t, "scanctl.yml", fmt.Sprintf(doc, "out", "http://stage:1", "http://boxcar:2"))
	c, err := config.Read(fn)
	if err != nil {
		t.Fatal(err)
	}
	if c.Addr != ":9000" || c.Rounds != 2 || c.MessageLines != 20 {
		t.Errorf("top level keys not merged over defaults: %+v", c)
	}
	if c.Devices[0].Timeout != 250*time.Millisecond {
		t.Errorf("expected a 250ms timeout, got %v", c.Devices[0].Timeout)
	}
	if c.Devices[1].Retries != 5 {
		t.Errorf("expected 5 retries, got %d", c.Devices[1].Retries)
	}
	want := config.Axis{
		Name: "delay", Device: "stage", Unit: "raw", Mode: "Range",
		Start: 0, Stop: 3, Step: 1, Settle: time.Millisecond,
		Limits: util.Limiter{Min: -10, Max: 10},
	}
	if diff := cmp.Diff(want, c.Axes[0]); diff != "" {
		t.Errorf("axis (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"delay", "wheel"}, c.Techniques[0].Axes); diff != "" {
		t.Errorf("technique axes (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		c := config.Defaults()
		c.Devices = []config.Device{{Name: "boxcar", Addr: "http://x"}}
		c.Axes = []config.Axis{{Name: "delay", Mode: "Range", Start: 0, Stop: 1, Step: 0.5}}
		c.Techniques = []config.Technique{{Name: "avg", Kind: "averaging", Axes: []string{"delay"}, Sensor: "boxcar"}}
		return c
	}
	if err := config.Validate(base()); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
	cases := []struct {
		field string
		edit  func(*config.Config)
	}{
		{"Rounds", func(c *config.Config) { c.Rounds = 0 }},
		{"Devices[1].Name", func(c *config.Config) { c.Devices = append(c.Devices, c.Devices[0]) }},
		{"Devices[0].Protocol", func(c *config.Config) { c.Devices[0].Protocol = "usb" }},
		{"Axes[0].Device", func(c *config.Config) { c.Axes[0].Device = "nowhere" }},
		{"Axes[0].Unit", func(c *config.Config) { c.Axes[0].Unit = "parsec" }},
		{"Axes[0].Mode", func(c *config.Config) { c.Axes[0].Stop = -1 }},
		{"Axes[0].Mode", func(c *config.Config) { c.Axes[0].Mode = "ExternalFile" }},
		{"Axes[0].Direction", func(c *config.Config) { c.Axes[0].Direction = "sideways" }},
		{"Techniques[0].Kind", func(c *config.Config) { c.Techniques[0].Kind = "raman" }},
		{"Techniques[0].Axes", func(c *config.Config) { c.Techniques[0].Axes = []string{"angle"} }},
		{"Techniques[0].Axes", func(c *config.Config) { c.Techniques[0].Axes = []string{"delay", "delay"} }},
		{"Techniques[0].Sensor", func(c *config.Config) { c.Techniques[0].Sensor = "camera" }},
		{"Techniques[0].Shutter", func(c *config.Config) { c.Techniques[0].Background = true }},
		{"Techniques[0].Background", func(c *config.Config) { c.Techniques[0].Kind = "absorption" }},
	}
	for _, tc := range cases {
		c := base()
		tc.edit(&c)
		err := config.Validate(c)
		var ce *config.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("%s: expected a ConfigError, got %v", tc.field, err)
			continue
		}
		if ce.Field != tc.field {
			t.Errorf("expected field %s, got %s (%v)", tc.field, ce.Field, err)
		}
	}
}

func TestExternalList(t *testing.T) {
	fn := write(t, "delays.txt", "0 0.5\n1.5, 4\n")
	a := config.Axis{Name: "delay", Mode: "External file", ExternalPath: fn}
	s, err := a.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0, 0.5, 1.5, 4}, s.External); diff != "" {
		t.Errorf("external list (-want +got):\n%s", diff)
	}
}

func TestPersisterWritesThrough(t *testing.T) {
	c := config.Defaults()
	c.Axes = []config.Axis{{Name: "delay", Device: "stage", Mode: "Range", Start: 0, Stop: 1, Step: 0.1}}
	fn := filepath.Join(t.TempDir(), "state", "last_config.yml")
	p := config.NewPersister(fn, c, nil)

	s, err := c.Axes[0].Settings()
	if err != nil {
		t.Fatal(err)
	}
	ctl, err := axis.New(s, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctl.OnEdit(p.Axis)
	if err := ctl.SetRange(-1, 2, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := ctl.MoveManual(context.Background(), 0.25); err != nil {
		t.Fatal(err)
	}
	p.Positions(ctl)

	snap, err := config.ReadSnapshot(fn)
	if err != nil {
		t.Fatal(err)
	}
	a := snap.Axes[0]
	if a.Start != -1 || a.Stop != 2 || a.Step != 0.5 || a.Device != "stage" {
		t.Errorf("edit not persisted: %+v", a)
	}
	if snap.Positions["delay"] != 0.25 {
		t.Errorf("expected position 0.25, got %v", snap.Positions)
	}

	again, err := axis.New(s, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	restored := config.Restore(snap, map[string]*axis.Controller{"delay": again})
	if diff := cmp.Diff([]string{"delay=0.25"}, restored); diff != "" {
		t.Errorf("restore (-want +got):\n%s", diff)
	}
	if pos, ok := again.Position(); !ok || pos != 0.25 {
		t.Errorf("expected restored position 0.25, got %v %v", pos, ok)
	}
}

func TestApplyAxesSkipsFrozen(t *testing.T) {
	c := config.Defaults()
	c.Axes = []config.Axis{
		{Name: "a", Mode: "Range", Start: 0, Stop: 2, Step: 1},
		{Name: "b", Mode: "Range", Start: 0, Stop: 2, Step: 1},
	}
	ctls, err := config.BuildAxes(c, config.BuildDevices(c), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctls["a"].Freeze(); err != nil {
		t.Fatal(err)
	}
	c.Axes[0].Stop, c.Axes[1].Stop = 5, 5
	err = config.ApplyAxes(c, ctls)
	if !errors.Is(err, axis.ErrFrozen) {
		t.Errorf("expected ErrFrozen for the axis in use, got %v", err)
	}
	if n := len(ctls["a"].List()); n != 2 {
		t.Errorf("frozen axis changed: %d points", n)
	}
	if n := len(ctls["b"].List()); n != 5 {
		t.Errorf("idle axis not updated: %d points", n)
	}
}

func TestBuildLabRunsAgainstEmulator(t *testing.T) {
	emu := sim.New()
	srv := httptest.NewServer(emu.Handler())
	defer srv.Close()

	out := t.TempDir()
	fn := write(t, "scanctl.yml", fmt.Sprintf(doc, out, srv.URL, srv.URL))
	c, err := config.Read(fn)
	if err != nil {
		t.Fatal(err)
	}
	hw := config.BuildDevices(c)
	defer hw.Close()
	ctls, err := config.BuildAxes(c, hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	var finished []string
	lab, err := config.BuildLab(c, config.Env{
		Hardware: hw,
		Axes:     ctls,
		Done: func(name string, st session.State, axes []*axis.Controller) {
			finished = append(finished, fmt.Sprintf("%s %s %d", name, st, len(axes)))
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"pump-probe"}, lab.Names()); diff != "" {
		t.Fatalf("techniques (-want +got):\n%s", diff)
	}
	s, _ := lab.Get("pump-probe")
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := s.Wait(); st != session.Finished {
		t.Fatalf("expected Finished, got %v (%s)", st, s.Status().Cause)
	}
	if diff := cmp.Diff([]string{"pump-probe Finished 2"}, finished); diff != "" {
		t.Errorf("done callback (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(out, "pump-probe", "pump-probe-Round1-Delta-OD.csv")); err != nil {
		t.Errorf("expected the last round export: %v", err)
	}
	if emu.Mode() != "Boxcar" {
		t.Errorf("expected the working mode to be set, got %q", emu.Mode())
	}
}
