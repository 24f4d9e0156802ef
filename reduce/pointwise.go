package reduce

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ultrafast-lab/scanctl/scan"
	"github.com/ultrafast-lab/scanctl/store"
)

// Channel names written by the pointwise reducers
const (
	Signal        = "Signal"
	SignalSum     = "Signal-Sum"
	SignalMean    = "Signal-Mean"
	Counts        = "Counts"
	BackgroundCh  = "Background"
	BackgroundSum = "Background-Sum"
)

// ErrNeedsBackground is generated when a technique that compares signal to
// background is run without background reads
var ErrNeedsBackground = errors.New("technique requires background reads")

// Difference is signal minus background
func Difference(sig, bg float64) float64 {
	return sig - bg
}

// DeltaOD is the optical density change -log10(sig/bg).  It is negative
// when the signal exceeds the background.  Zero or negative inputs are not
// guarded and yield Inf or NaN.
func DeltaOD(sig, bg float64) float64 {
	return -math.Log10(sig / bg)
}

// Pointwise reduces every axis index independently: instant and summed
// signal, the running mean across rounds, and when background is read, a
// per-point comparison of signal against background.
type Pointwise struct {
	base

	// DeltaName is the channel the comparison is written to
	DeltaName string

	// Delta compares one signal point to its background
	Delta func(sig, bg float64) float64

	// FromSums recomputes the summed comparison from the summed signal and
	// background instead of accumulating the per-round comparisons
	FromSums bool

	// RequireBackground rejects layouts without background reads
	RequireBackground bool
}

// NewAveraging returns the reducer for averaging techniques
func NewAveraging(session string, p Poster) *Pointwise {
	return &Pointwise{
		base:      base{session: session, post: orNop(p)},
		DeltaName: "Delta",
		Delta:     Difference,
	}
}

// NewAbsorption returns the reducer for pump-probe absorption techniques
func NewAbsorption(session string, p Poster) *Pointwise {
	return &Pointwise{
		base:              base{session: session, post: orNop(p)},
		DeltaName:         "Delta-OD",
		Delta:             DeltaOD,
		FromSums:          true,
		RequireBackground: true,
	}
}

// Allocate implements Reducer
func (r *Pointwise) Allocate(l Layout) (*store.Store, error) {
	if r.RequireBackground && !l.Background {
		return nil, ErrNeedsBackground
	}
	r.init(l, l.SampleWidth)
	cell := r.cell()
	r.st.Add(Signal, store.Instant, true, cell...)
	r.st.Add(SignalSum, store.Sum, true, cell...)
	r.st.Add(SignalMean, store.Derived, false, cell...)
	r.st.Add(Counts, store.Sum, false, l.Shape()...)
	if l.Background {
		r.st.Add(BackgroundCh, store.Instant, true, cell...)
		r.st.Add(BackgroundSum, store.Sum, true, cell...)
		sumKind := store.Sum
		if r.FromSums {
			sumKind = store.Derived
		}
		r.st.Add(r.DeltaName, store.Instant, true, cell...)
		r.st.Add(r.DeltaName+"-Sum", sumKind, true, cell...)
	}
	return r.st, nil
}

// Reduce implements Reducer
func (r *Pointwise) Reduce(f *scan.Frame, raw []float64) {
	s, ok := r.collapse(f, raw)
	if !ok {
		return
	}
	idx := f.Index()
	if f.Tag == scan.Background {
		r.check(f, r.st.Set(BackgroundCh, idx, s...))
		r.check(f, r.st.Accumulate(BackgroundSum, idx, s...))
		r.holdBackground(idx, s)
		r.preview(f, BackgroundCh)
		return
	}

	r.check(f, r.st.Set(Signal, idx, s...))
	r.check(f, r.st.Accumulate(SignalSum, idx, s...))
	r.check(f, r.st.Accumulate(Counts, idx, 1))
	sum, err := r.st.Get(SignalSum, idx)
	r.check(f, err)
	n, err := r.st.Get(Counts, idx)
	r.check(f, err)
	if err == nil && len(sum) == len(s) {
		floats.Scale(1/n[0], sum)
		r.check(f, r.st.Set(SignalMean, idx, sum...))
	}
	r.preview(f, SignalMean)

	if !r.lay.Background {
		return
	}
	bg := r.takeBackground(idx)
	if bg == nil {
		f.Logf("no background for %v, %s skipped", idx, r.DeltaName)
		return
	}
	d := make([]float64, len(s))
	for i := range s {
		d[i] = r.Delta(s[i], bg[i])
	}
	r.check(f, r.st.Set(r.DeltaName, idx, d...))
	if r.FromSums {
		sigSum, err1 := r.st.Get(SignalSum, idx)
		bgSum, err2 := r.st.Get(BackgroundSum, idx)
		if err1 == nil && err2 == nil {
			for i := range sigSum {
				sigSum[i] = r.Delta(sigSum[i], bgSum[i])
			}
			r.check(f, r.st.Set(r.DeltaName+"-Sum", idx, sigSum...))
		}
	} else {
		r.check(f, r.st.Accumulate(r.DeltaName+"-Sum", idx, d...))
	}
	r.preview(f, r.DeltaName)
}
