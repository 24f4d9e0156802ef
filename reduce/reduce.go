/*Package reduce turns raw samples into the quantities a technique reports.

A Reducer allocates the session's store from the frozen scan layout, then
receives every sample read by the scan worker together with the Frame it
was read at.  Results are written to the store first; an ephemeral copy is
then posted to the UI bridge, which may drop it.
*/
package reduce

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/ultrafast-lab/scanctl/bridge"
	"github.com/ultrafast-lab/scanctl/scan"
	"github.com/ultrafast-lab/scanctl/store"
)

// AxisInfo describes one scanned axis, outer to inner
type AxisInfo struct {
	Name string
	Unit string
	List []float64
}

// Layout is the frozen shape of a scan
type Layout struct {
	Axes []AxisInfo

	// SampleWidth is the native number of points per sample.  1 reduces
	// every waveform to its mean.
	SampleWidth int

	// Background is true when every point is read twice, see scan.WithBackground
	Background bool
}

// Shape returns the scan list lengths, outer to inner
func (l Layout) Shape() []int {
	out := make([]int, len(l.Axes))
	for i, a := range l.Axes {
		out[i] = len(a.List)
	}
	return out
}

// Poster receives previews; *bridge.Bridge satisfies it
type Poster interface {
	Post(bridge.Update) bool
}

// Reducer is one technique's numeric pipeline
type Reducer interface {
	// Allocate sizes the result buffers for a session
	Allocate(Layout) (*store.Store, error)

	// Reduce processes one sample
	Reduce(f *scan.Frame, sample []float64)
}

// New returns the reducer for a technique kind:
// "averaging", "absorption" or "spectral"
func New(kind, session string, p Poster) (Reducer, error) {
	switch strings.ToLower(kind) {
	case "averaging", "average", "":
		return NewAveraging(session, p), nil
	case "absorption", "deltaod", "delta-od":
		return NewAbsorption(session, p), nil
	case "spectral", "ft", "fourier":
		return NewSpectral(session, p), nil
	}
	return nil, fmt.Errorf("unknown technique kind %q", kind)
}

// AxisChannel names the exported list of an axis' positions
func AxisChannel(name string) string {
	return "Axis-" + name
}

// base holds what every reducer shares: the store, the layout and the
// background read waiting for its signal
type base struct {
	session string
	post    Poster
	lay     Layout
	st      *store.Store
	width   int

	bg   []float64
	bgAt []int
}

func (b *base) init(l Layout, width int) {
	b.lay = l
	b.width = width
	b.st = store.New()
	b.bg, b.bgAt = nil, nil
	for _, a := range l.Axes {
		if len(a.List) == 1 && scan.IsStay(a.List[0]) {
			continue
		}
		b.st.Add(AxisChannel(a.Name), store.Derived, true, len(a.List))
		b.st.Set(AxisChannel(a.Name), nil, a.List...)
	}
}

// cell is the shape of a per-sample channel
func (b *base) cell() []int {
	s := b.lay.Shape()
	if b.width > 1 {
		s = append(s, b.width)
	}
	return s
}

// collapse reduces a raw sample to the channel width
func (b *base) collapse(f *scan.Frame, raw []float64) ([]float64, bool) {
	if len(raw) == 0 {
		f.Logf("empty sample at %v dropped", f.Index())
		return nil, false
	}
	if b.width <= 1 {
		return []float64{stat.Mean(raw, nil)}, true
	}
	if len(raw) != b.width {
		f.Logf("sample of %d points at %v dropped, expected %d", len(raw), f.Index(), b.width)
		return nil, false
	}
	return raw, true
}

func (b *base) holdBackground(idx []int, s []float64) {
	b.bg = append([]float64(nil), s...)
	b.bgAt = idx
}

// takeBackground returns the background read at idx during this visit
func (b *base) takeBackground(idx []int) []float64 {
	bg, at := b.bg, b.bgAt
	b.bg, b.bgAt = nil, nil
	if bg == nil || len(at) != len(idx) {
		return nil
	}
	for i := range at {
		if at[i] != idx[i] {
			return nil
		}
	}
	return bg
}

func (b *base) check(f *scan.Frame, err error) {
	if err != nil {
		f.Logf("store: %v", err)
	}
}

// preview posts the row of channel along the fastest axis through the
// current point, or the current waveform when samples are vectors
func (b *base) preview(f *scan.Frame, channel string) {
	idx := f.Index()
	var (
		x, y []float64
		err  error
	)
	switch {
	case b.width > 1:
		y, err = b.st.Get(channel, idx)
	case len(idx) == 0:
		y, err = b.st.Get(channel, nil)
	default:
		y, err = b.st.Get(channel, idx[:len(idx)-1])
		x = b.lay.Axes[len(idx)-1].List
	}
	if err != nil {
		return
	}
	b.post.Post(previewUpdate(b.session, channel, idx, x, y))
}

func previewUpdate(session, channel string, idx []int, x, y []float64) bridge.Update {
	return bridge.Update{
		Kind:    bridge.Preview,
		Session: session,
		Channel: channel,
		Index:   idx,
		X:       finite(x, true),
		Y:       finite(y, false),
	}
}

// finite copies s with non-finite values replaced, since JSON cannot carry
// them.  Index positions are used for an axis that is not moved.
func finite(s []float64, index bool) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	for i, v := range s {
		switch {
		case !math.IsNaN(v) && !math.IsInf(v, 0):
			out[i] = v
		case index:
			out[i] = float64(i)
		}
	}
	return out
}

type nopPoster struct{}

func (nopPoster) Post(bridge.Update) bool { return false }

func orNop(p Poster) Poster {
	if p == nil {
		return nopPoster{}
	}
	return p
}
