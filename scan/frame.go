package scan

import (
	"context"
	"math"
)

// Tag tells the leaf which branch of a background/signal pair it is in
type Tag int

const (
	// Signal is the tag for the pumped/open measurement, and the only tag
	// used when no background is taken
	Signal Tag = iota

	// Background is the tag for the reference measurement
	Background
)

func (t Tag) String() string {
	if t == Background {
		return "Background"
	}
	return "Signal"
}

// Stay is the single scan list entry of an axis that is not moved
var Stay = math.NaN()

// IsStay returns true if v is the Stay sentinel
func IsStay(v float64) bool {
	return math.IsNaN(v)
}

// Coord is the state of one axis loop while the traversal is inside it
type Coord struct {
	Axis  string
	Index int
	Len   int
	Pos   float64
}

// Logger formats a line for the experiment message log
type Logger func(format string, args ...interface{})

// Frame is the carrier threaded through every Step of a traversal.
// It is owned by the goroutine running the traversal.
type Frame struct {
	// Ctx is passed to hardware calls
	Ctx context.Context

	// Token is polled by every combinator
	Token *Token

	// Round is the zero-based round counter, Rounds the total
	Round, Rounds int

	// Coords holds one entry per active axis loop, outer to inner
	Coords []Coord

	// Tag is set by the WithBackground combinator
	Tag Tag

	// Logf writes to the message log; never nil on frames from NewFrame
	Logf Logger
}

// NewFrame returns a frame ready to be passed to the outermost Step
func NewFrame(ctx context.Context, tok *Token, logf Logger) *Frame {
	if ctx == nil {
		ctx = context.Background()
	}
	if tok == nil {
		tok = &Token{}
	}
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Frame{Ctx: ctx, Token: tok, Rounds: 1, Logf: logf}
}

// Stopped returns true if the traversal has been cancelled
func (f *Frame) Stopped() bool {
	return f.Token.Cancelled()
}

// Index returns a copy of the current per-axis indices, outer to inner
func (f *Frame) Index() []int {
	out := make([]int, len(f.Coords))
	for i, c := range f.Coords {
		out[i] = c.Index
	}
	return out
}

// Positions returns a copy of the current per-axis positions, outer to inner
func (f *Frame) Positions() []float64 {
	out := make([]float64, len(f.Coords))
	for i, c := range f.Coords {
		out[i] = c.Pos
	}
	return out
}

// FastestDone returns true when the innermost axis is at its last index,
// i.e. the current call completes a pass over the fastest axis.
// With no axes every call completes a pass.
func (f *Frame) FastestDone() bool {
	if len(f.Coords) == 0 {
		return true
	}
	c := f.Coords[len(f.Coords)-1]
	return c.Index+1 == c.Len
}

// Fail logs err and cancels the traversal if the error is Fatal
func (f *Frame) Fail(err error, format string, args ...interface{}) {
	if IsFatal(err) {
		f.Token.Abort(err)
	}
	f.Logf(format+": %v", append(args, err)...)
}

func (f *Frame) enter(axis string, n int) int {
	f.Coords = append(f.Coords, Coord{Axis: axis, Len: n, Pos: Stay})
	return len(f.Coords) - 1
}

func (f *Frame) leave(slot int) {
	f.Coords = f.Coords[:slot]
}
