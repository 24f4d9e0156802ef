package scan

// Step is one unit of work in a traversal
type Step func(*Frame)

// Combinator wraps an inner Step into an outer Step
type Combinator func(Step) Step

// Chain is an ordered list of combinators, outermost first
type Chain []Combinator

// Build composes the chain around leaf.  Element 0 is applied last and so
// becomes the slowest varying loop.
func (c Chain) Build(leaf Step) Step {
	s := leaf
	for i := len(c) - 1; i >= 0; i-- {
		s = c[i](s)
	}
	return s
}

// MoveFunc commands an axis to a scan list value before the inner step runs
type MoveFunc func(f *Frame, v float64) error

// Sweep returns a combinator that walks list in order, calling move before
// each inner call.  Stay entries are not moved.  A failed move skips that
// point; a Fatal failure also cancels the traversal.
func Sweep(axis string, list []float64, move MoveFunc) Combinator {
	return func(inner Step) Step {
		return func(f *Frame) {
			slot := f.enter(axis, len(list))
			defer f.leave(slot)
			for i, v := range list {
				if f.Stopped() {
					return
				}
				f.Coords[slot].Index = i
				f.Coords[slot].Pos = v
				if move != nil && !IsStay(v) {
					if err := move(f, v); err != nil {
						f.Fail(err, "%s: move to %g failed, point skipped", axis, v)
						continue
					}
				}
				inner(f)
			}
		}
	}
}

// Rounds replays the inner step n times, setting Frame.Round
func Rounds(n int) Combinator {
	return func(inner Step) Step {
		return func(f *Frame) {
			f.Rounds = n
			for r := 0; r < n; r++ {
				if f.Stopped() {
					return
				}
				f.Round = r
				f.Logf("Scanning round No.%d of %d", r, n)
				inner(f)
			}
		}
	}
}
