package scan

import "context"

// Switcher commands the state that separates signal from background,
// typically a pump shutter
type Switcher interface {
	SetShutter(ctx context.Context, open bool) error
}

// WithBackground returns a combinator that, when enabled, calls inner twice per
// point: first with the switch closed (tagged Background), then with it open
// (tagged Signal).  When disabled inner is called once, tagged Signal.
// A failed switch skips that branch.
func WithBackground(sw Switcher, enabled bool) Combinator {
	return func(inner Step) Step {
		if !enabled || sw == nil {
			return func(f *Frame) {
				if f.Stopped() {
					return
				}
				f.Tag = Signal
				inner(f)
			}
		}
		return func(f *Frame) {
			for _, tag := range []Tag{Background, Signal} {
				if f.Stopped() {
					return
				}
				if err := sw.SetShutter(f.Ctx, tag == Signal); err != nil {
					f.Fail(err, "%s branch skipped at %v", tag, f.Index())
					continue
				}
				f.Tag = tag
				inner(f)
			}
		}
	}
}
