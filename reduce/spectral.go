package reduce

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/ultrafast-lab/scanctl/scan"
	"github.com/ultrafast-lab/scanctl/store"
	"github.com/ultrafast-lab/scanctl/util"
)

// Channel names written by the spectral reducer
const (
	TimeDomain  = "Time-Domain"
	FFTReal     = "FFT-Real"
	FFTImag     = "FFT-Imag"
	FFTAbs      = "FFT-Abs"
	FFTPhase    = "FFT-Phase"
	Frequencies = "Frequencies"
)

// MinPreviewPoints is the number of points collected along the fastest
// axis before a growing-window transform is previewed
const MinPreviewPoints = 6

// ErrNotEvenlySpaced is generated when the fastest axis of a spectral
// technique is not a uniform grid
var ErrNotEvenlySpaced = errors.New("fastest axis must be evenly spaced with at least 2 points")

// FFTFreq returns the sample frequencies of an n point transform with
// spacing d, in standard order: zero, positive, then negative
func FFTFreq(n int, d float64) []float64 {
	out := make([]float64, n)
	pos := (n-1)/2 + 1
	for i := range out {
		k := i
		if i >= pos {
			k = i - n
		}
		out[i] = float64(k) / (float64(n) * d)
	}
	return out
}

// Shift moves the zero frequency term to the center of s
func Shift[T any](s []T) []T {
	n := len(s)
	out := make([]T, n)
	for i, v := range s {
		out[(i+n/2)%n] = v
	}
	return out
}

// Spectrum returns the shifted frequencies and the shifted transform of x
// normalized by its length
func Spectrum(x []float64, d float64) ([]float64, []complex128) {
	n := len(x)
	if n == 0 {
		return nil, nil
	}
	in := make([]complex128, n)
	for i, v := range x {
		in[i] = complex(v, 0)
	}
	c := fourier.NewCmplxFFT(n).Coefficients(nil, in)
	for i := range c {
		c[i] /= complex(float64(n), 0)
	}
	return Shift(FFTFreq(n, d)), Shift(c)
}

// Spectral reduces Fourier-transform interferometry scans.  The fastest
// axis is the interferometer delay.  Along it a time-domain row is built
// (signal, or signal minus background), previewed as a growing-window
// transform once enough points exist, and transformed in full when the pass
// completes.
type Spectral struct {
	base
	dt float64
	n  int
}

// NewSpectral returns the reducer for spectral techniques
func NewSpectral(session string, p Poster) *Spectral {
	return &Spectral{base: base{session: session, post: orNop(p)}}
}

// Allocate implements Reducer
func (r *Spectral) Allocate(l Layout) (*store.Store, error) {
	if len(l.Axes) == 0 {
		return nil, ErrNotEvenlySpaced
	}
	fast := l.Axes[len(l.Axes)-1]
	dt, ok := util.EvenlySpaced(fast.List, 1e-6)
	if !ok {
		return nil, fmt.Errorf("%s: %w", fast.Name, ErrNotEvenlySpaced)
	}
	r.dt, r.n = dt, len(fast.List)
	r.init(l, 1)
	shape := l.Shape()
	r.st.Add(Signal, store.Instant, true, shape...)
	r.st.Add(SignalSum, store.Sum, true, shape...)
	if l.Background {
		r.st.Add(BackgroundCh, store.Instant, true, shape...)
		r.st.Add(BackgroundSum, store.Sum, true, shape...)
	}
	r.st.Add(TimeDomain, store.Instant, true, shape...)
	for _, ch := range []string{FFTReal, FFTImag, FFTAbs, FFTPhase} {
		r.st.Add(ch, store.Derived, true, shape...)
	}
	r.st.Add(Frequencies, store.Derived, true, r.n)
	r.st.Set(Frequencies, nil, Shift(FFTFreq(r.n, dt))...)
	return r.st, nil
}

// Reduce implements Reducer
func (r *Spectral) Reduce(f *scan.Frame, raw []float64) {
	s, ok := r.collapse(f, raw)
	if !ok {
		return
	}
	idx := f.Index()
	if len(idx) == 0 {
		return
	}
	if f.Tag == scan.Background {
		r.check(f, r.st.Set(BackgroundCh, idx, s...))
		r.check(f, r.st.Accumulate(BackgroundSum, idx, s...))
		r.holdBackground(idx, s)
		return
	}
	r.check(f, r.st.Set(Signal, idx, s...))
	r.check(f, r.st.Accumulate(SignalSum, idx, s...))
	td := s[0]
	if r.lay.Background {
		if bg := r.takeBackground(idx); bg != nil {
			td -= bg[0]
		} else {
			td = math.NaN()
		}
	}
	r.check(f, r.st.Set(TimeDomain, idx, td))
	r.preview(f, TimeDomain)

	k := idx[len(idx)-1]
	if k+1 < MinPreviewPoints && k+1 < r.n {
		return
	}
	rowIdx := idx[:len(idx)-1]
	row, err := r.st.Get(TimeDomain, rowIdx)
	if err != nil {
		r.check(f, err)
		return
	}
	freqs, c := Spectrum(row[:k+1], r.dt)
	if k+1 == r.n {
		r.freeze(f, rowIdx, c)
	}
	r.post.Post(previewUpdate(r.session, FFTAbs, idx, freqs, abs(c)))
}

// freeze writes the full length transform into the result rows
func (r *Spectral) freeze(f *scan.Frame, rowIdx []int, c []complex128) {
	re := make([]float64, len(c))
	im := make([]float64, len(c))
	ph := make([]float64, len(c))
	for i, v := range c {
		re[i], im[i], ph[i] = real(v), imag(v), cmplx.Phase(v)
	}
	r.check(f, r.st.Set(FFTReal, rowIdx, re...))
	r.check(f, r.st.Set(FFTImag, rowIdx, im...))
	r.check(f, r.st.Set(FFTAbs, rowIdx, abs(c)...))
	r.check(f, r.st.Set(FFTPhase, rowIdx, ph...))
}

func abs(c []complex128) []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = cmplx.Abs(v)
	}
	return out
}
