package axis_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ultrafast-lab/scanctl/axis"
	"github.com/ultrafast-lab/scanctl/hardware"
	"github.com/ultrafast-lab/scanctl/scan"
)

type fakeStage struct {
	raw  []float64
	fail map[float64]error
}

func (f *fakeStage) Online(context.Context) (hardware.Response, error) {
	return hardware.Response{Success: true, Message: "online"}, nil
}

func (f *fakeStage) MoveAbs(_ context.Context, raw float64) (hardware.Response, error) {
	if err, ok := f.fail[raw]; ok {
		return hardware.Response{}, err
	}
	f.raw = append(f.raw, raw)
	return hardware.Response{Success: true, Message: fmt.Sprintf("at %g", raw)}, nil
}

func ExampleScanList() {
	l, _ := axis.ScanList(axis.Settings{Name: "delay", Mode: axis.Range, Start: 0, Stop: 3, Step: 1})
	fmt.Println(l)
	// Output: [0 1 2]
}

func TestScanListModes(t *testing.T) {
	manual, err := axis.ScanList(axis.Settings{Mode: axis.Manual, Start: 0, Stop: 10, Step: 1})
	if err != nil || len(manual) != 1 || !scan.IsStay(manual[0]) {
		t.Errorf("manual axis should yield one stay entry, got %v %v", manual, err)
	}
	ext := []float64{5, 1, 3}
	got, err := axis.ScanList(axis.Settings{Mode: axis.ExternalFile, External: ext})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ext, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	got[0] = 99
	if ext[0] != 5 {
		t.Error("scan list aliases the external list")
	}
	if _, err := axis.ScanList(axis.Settings{Mode: axis.ExternalFile}); !errors.Is(err, axis.ErrNoExternalList) {
		t.Errorf("expected ErrNoExternalList, got %v", err)
	}
	if _, err := axis.ScanList(axis.Settings{Mode: axis.Range, Start: 1, Stop: 1, Step: 1}); !errors.Is(err, axis.ErrEmptyRange) {
		t.Errorf("expected ErrEmptyRange, got %v", err)
	}
}

func TestScanListIdempotent(t *testing.T) {
	s := axis.Settings{Mode: axis.Range, Start: -1.3, Stop: 7.9, Step: 0.17}
	a, _ := axis.ScanList(s)
	b, _ := axis.ScanList(s)
	if len(a) != len(b) {
		t.Fatalf("length changed %d -> %d", len(a), len(b))
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			t.Errorf("element %d differs: %v vs %v", i, a[i], b[i])
		}
	}
	if want := int(math.Ceil((7.9 + 1.3) / 0.17)); len(a) != want {
		t.Errorf("expected %d points, got %d", want, len(a))
	}
}

func TestRawConversion(t *testing.T) {
	cases := []struct {
		name string
		s    axis.Settings
		in   float64
		want float64
	}{
		{"ps double pass", axis.Settings{Unit: axis.Picosecond, Multiples: 0.5, ZeroPoint: 100}, 10, 100 + 10*axis.LightSpeed*0.5},
		{"fs negative", axis.Settings{Unit: axis.Femtosecond, Multiples: 1, Direction: axis.Negative}, 1000, -axis.LightSpeed},
		{"ns", axis.Settings{Unit: axis.Nanosecond}, 1, 1000 * axis.LightSpeed},
		{"arcminutes", axis.Settings{Unit: axis.ArcMinute}, 30, 0.5},
		{"radian", axis.Settings{Unit: axis.Radian}, math.Pi, 180},
		{"wavenumber", axis.Settings{Unit: axis.Wavenumber}, 12500, 800},
		{"quantized", axis.Settings{Unit: axis.Raw, Quantum: 1}, 41.6, 42},
	}
	for _, c := range cases {
		if got := c.s.Raw(c.in); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("%s: Raw(%v) = %v, expected %v", c.name, c.in, got, c.want)
		}
	}
}

func TestParsers(t *testing.T) {
	for _, s := range []string{"External file", "externalfile", "EXTERNAL"} {
		if m, err := axis.ParseMode(s); err != nil || m != axis.ExternalFile {
			t.Errorf("ParseMode(%q) = %v, %v", s, m, err)
		}
	}
	if _, err := axis.ParseMode("spiral"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if u, err := axis.ParseUnit("PS"); err != nil || u != axis.Picosecond {
		t.Errorf("ParseUnit(PS) = %v, %v", u, err)
	}
	if _, err := axis.ParseUnit("furlong"); err == nil {
		t.Error("expected error for unknown unit")
	}
	if d, err := axis.ParseDirection("Negative"); err != nil || d != axis.Negative {
		t.Errorf("ParseDirection = %v, %v", d, err)
	}
}

func TestCalibration(t *testing.T) {
	pts := []axis.CalPoint{{400, 1000}, {500, 2000}, {600, 3000}}
	lin, err := axis.NewCalibration(pts, axis.Linear)
	if err != nil {
		t.Fatal(err)
	}
	if got := lin.Raw(450); math.Abs(got-1500) > 1e-6 {
		t.Errorf("linear calibration Raw(450) = %v", got)
	}
	pw, err := axis.NewCalibration([]axis.CalPoint{{400, 1000}, {500, 2000}, {600, 2500}}, axis.Piecewise)
	if err != nil {
		t.Fatal(err)
	}
	if got := pw.Raw(550); math.Abs(got-2250) > 1e-9 {
		t.Errorf("piecewise Raw(550) = %v", got)
	}
	if got := pw.Raw(700); got != 2500 {
		t.Errorf("piecewise should hold flat beyond the points, got %v", got)
	}
	_, err = axis.NewCalibration([]axis.CalPoint{{500, 1}, {400, 2}}, axis.Linear)
	if !errors.Is(err, axis.ErrNotMonotonic) {
		t.Errorf("expected ErrNotMonotonic, got %v", err)
	}
	s := axis.Settings{Calibration: lin, Quantum: 1}
	if got := s.Raw(412.34); got != 1123 {
		t.Errorf("calibrated and quantized raw = %v", got)
	}
}

func TestControllerEditsAndFreeze(t *testing.T) {
	c, err := axis.New(axis.Settings{Name: "delay", Mode: axis.Range, Start: 0, Stop: 2, Step: 1}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var edits []axis.Settings
	c.OnEdit(func(s axis.Settings) { edits = append(edits, s) })
	if err := c.SetRange(0, 4, 2); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0, 2}, c.List()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if err := c.SetRange(5, 1, 1); err == nil {
		t.Error("expected empty range to be rejected")
	}
	if diff := cmp.Diff([]float64{0, 2}, c.List()); diff != "" {
		t.Errorf("rejected edit changed the list (-want +got):\n%s", diff)
	}
	frozen, err := c.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetMode(axis.Manual); !errors.Is(err, axis.ErrFrozen) {
		t.Errorf("expected ErrFrozen, got %v", err)
	}
	if _, err := c.Freeze(); !errors.Is(err, axis.ErrFrozen) {
		t.Errorf("expected double freeze to fail, got %v", err)
	}
	c.Thaw()
	if err := c.LoadExternalFile(strings.NewReader("3 1\n2"), "list.txt"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0, 2}, frozen); diff != "" {
		t.Errorf("frozen list changed (-want +got):\n%s", diff)
	}
	if c.Settings().Mode != axis.ExternalFile {
		t.Errorf("loading a file should select ExternalFile mode")
	}
	if len(edits) != 2 {
		t.Errorf("expected 2 edit notifications, got %d", len(edits))
	}
}

func TestManualMoveLimits(t *testing.T) {
	st := &fakeStage{}
	s := axis.Settings{Name: "wheel", Unit: axis.Degree, Mode: axis.Manual}
	s.Limits.Min, s.Limits.Max = 0, 90
	c, _ := axis.New(s, st, nil)
	ctx := context.Background()
	if err := c.MoveManual(ctx, 120); !errors.Is(err, axis.ErrOutOfLimits) {
		t.Errorf("expected ErrOutOfLimits, got %v", err)
	}
	if err := c.MoveManual(ctx, 45); err != nil {
		t.Fatal(err)
	}
	if err := c.StepManual(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{45, 55}, st.raw); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if err := c.MoveAbsolute(ctx, 120); err != nil {
		t.Errorf("scan moves are not limited, got %v", err)
	}
}

func TestSweepMovesAndSkipsFailures(t *testing.T) {
	st := &fakeStage{fail: map[float64]error{1: errors.New("stalled")}}
	var lines []string
	logf := func(format string, args ...interface{}) { lines = append(lines, fmt.Sprintf(format, args...)) }
	c, _ := axis.New(axis.Settings{Name: "delay", Unit: axis.Raw, Mode: axis.Range, Start: 0, Stop: 3, Step: 1}, st, logf)
	list, _ := c.Freeze()
	defer c.Thaw()
	var visited []float64
	c.Sweep(list)(func(f *scan.Frame) { visited = append(visited, f.Positions()[0]) })(scan.NewFrame(nil, nil, logf))
	if diff := cmp.Diff([]float64{0, 2}, visited); diff != "" {
		t.Errorf("visited (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 2}, st.raw); diff != "" {
		t.Errorf("moves (-want +got):\n%s", diff)
	}
	if pos, ok := c.Position(); !ok || pos != 2 {
		t.Errorf("expected last position 2, got %v %v", pos, ok)
	}
	if len(lines) != 3 {
		t.Errorf("expected two move responses and one failure logged, got %q", lines)
	}
}
