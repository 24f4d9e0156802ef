/*Package session runs one acquisition: it freezes the axes, sizes the
result store, builds the combinator chain and executes it on a dedicated
worker goroutine.

States move Idle -> Running -> Finished or Cancelled -> Idle.  Start is an
atomic compare-and-swap out of any non-running state, so at most one run per
Session is ever active.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ultrafast-lab/scanctl/axis"
	"github.com/ultrafast-lab/scanctl/bridge"
	"github.com/ultrafast-lab/scanctl/reduce"
	"github.com/ultrafast-lab/scanctl/scan"
	"github.com/ultrafast-lab/scanctl/store"
)

// State of a session
type State int32

const (
	Idle State = iota
	Running
	Finished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Finished:
		return "Finished"
	case Cancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	// ErrAlreadyRunning is generated when Start is called on a running session
	ErrAlreadyRunning = errors.New("session is already running")

	// ErrNotRunning is generated when a running session was expected
	ErrNotRunning = errors.New("session is not running")
)

// Sampler reads one sample from the acquisition hardware
type Sampler interface {
	ReadSample(ctx context.Context) ([]float64, error)
}

// Moder switches the acquisition hardware into a technique's working mode
type Moder interface {
	SetMode(ctx context.Context, mode string) error
}

// Plan is everything a session needs, constructed once and injected
type Plan struct {
	// Axes in composition order: the first is the slowest varying loop
	Axes []*axis.Controller

	Sensor  Sampler
	Reducer reduce.Reducer

	// Shutter is switched for background reads when Background is true
	Shutter    scan.Switcher
	Background bool

	// Mode is sent to ModeSwitch before the run when both are set
	ModeSwitch Moder
	Mode       string

	Rounds      int
	SampleWidth int

	// Exposure is waited before every read
	Exposure time.Duration

	// OutputDir and FileStem name exports: OutputDir/FileStem-Round{n}, n from 0
	OutputDir string
	FileStem  string
	FITS      bool

	// Logf receives the session's message log lines
	Logf scan.Logger

	// Bridge receives flag changes
	Bridge *bridge.Bridge

	// Done is called after every run with the final state, e.g. to persist
	// the last axis positions
	Done func(State)
}

// Status is a snapshot for clients
type Status struct {
	Name    string       `json:"name"`
	ID      string       `json:"id,omitempty"`
	State   string       `json:"state"`
	Flags   bridge.Flags `json:"flags"`
	Round   int          `json:"round"`
	Rounds  int          `json:"rounds"`
	Index   []int        `json:"index,omitempty"`
	Samples int64        `json:"samples"`
	Started time.Time    `json:"started,omitempty"`
	Cause   string       `json:"cause,omitempty"`
}

// Session is one technique's acquisition
type Session struct {
	name string
	plan Plan

	state     atomic.Int32
	terminate atomic.Bool
	finished  atomic.Bool
	samples   atomic.Int64

	mu      sync.Mutex
	id      string
	token   *scan.Token
	store   *store.Store
	started time.Time
	round   int
	rounds  int
	index   []int
	cause   error
	done    chan struct{}
}

// New returns an idle session
func New(name string, p Plan) *Session {
	if p.Rounds < 1 {
		p.Rounds = 1
	}
	if p.Logf == nil {
		p.Logf = func(string, ...interface{}) {}
	}
	if p.FileStem == "" {
		p.FileStem = name
	}
	s := &Session{name: name, plan: p, done: make(chan struct{})}
	close(s.done)
	return s
}

// Name returns the technique name
func (s *Session) Name() string { return s.name }

// State returns the current state
func (s *Session) State() State { return State(s.state.Load()) }

// Flags returns the control flags
func (s *Session) Flags() bridge.Flags {
	return bridge.Flags{
		Running:   s.State() == Running,
		Terminate: s.terminate.Load(),
		Finished:  s.finished.Load(),
	}
}

func (s *Session) publish() {
	f := s.Flags()
	s.plan.Bridge.Post(bridge.Update{Kind: bridge.FlagChange, Session: s.name, Flags: &f})
}

// Store returns the store of the current or last run, or nil
func (s *Session) Store() *store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Status returns a snapshot
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:    s.name,
		ID:      s.id,
		State:   s.State().String(),
		Flags:   s.Flags(),
		Round:   s.round,
		Rounds:  s.rounds,
		Index:   append([]int(nil), s.index...),
		Samples: s.samples.Load(),
		Started: s.started,
	}
	if s.cause != nil {
		st.Cause = s.cause.Error()
	}
	return st
}

// Start freezes the axes, allocates the store and launches the worker.
// It returns once the worker is running; use Wait to block until it ends.
func (s *Session) Start(ctx context.Context) error {
	tok := &scan.Token{}
	done := make(chan struct{})
	s.mu.Lock()
	for {
		cur := s.state.Load()
		if State(cur) == Running {
			s.mu.Unlock()
			return ErrAlreadyRunning
		}
		if s.state.CompareAndSwap(cur, int32(Running)) {
			break
		}
	}
	// a cancel requested from here on reaches this run's token
	s.token = tok
	s.done = done
	s.terminate.Store(false)
	s.finished.Store(false)
	s.mu.Unlock()

	lists, err := s.freeze()
	if err != nil {
		s.abandon(done)
		return err
	}
	layout := reduce.Layout{SampleWidth: s.plan.SampleWidth, Background: s.plan.Background}
	for i, a := range s.plan.Axes {
		st := a.Settings()
		layout.Axes = append(layout.Axes, reduce.AxisInfo{Name: st.Name, Unit: string(st.Unit), List: lists[i]})
	}
	st, err := s.plan.Reducer.Allocate(layout)
	if err != nil {
		s.thaw()
		s.abandon(done)
		return err
	}

	s.mu.Lock()
	s.id = uuid.NewString()
	s.store = st
	s.started = time.Now()
	s.round, s.rounds, s.index, s.cause = 0, s.plan.Rounds, nil, nil
	s.mu.Unlock()
	s.samples.Store(0)
	s.publish()

	chain := scan.Chain{scan.Rounds(s.plan.Rounds)}
	for i, a := range s.plan.Axes {
		chain = append(chain, a.Sweep(lists[i]))
	}
	chain = append(chain, scan.WithBackground(s.plan.Shutter, s.plan.Background))
	step := chain.Build(s.acquire)

	go s.work(ctx, tok, step, done)
	return nil
}

// abandon returns a run that failed to start to Idle
func (s *Session) abandon(done chan struct{}) {
	s.mu.Lock()
	s.state.Store(int32(Idle))
	s.mu.Unlock()
	close(done)
}

func (s *Session) freeze() ([][]float64, error) {
	lists := make([][]float64, len(s.plan.Axes))
	for i, a := range s.plan.Axes {
		l, err := a.Freeze()
		if err != nil {
			for _, b := range s.plan.Axes[:i] {
				b.Thaw()
			}
			return nil, err
		}
		lists[i] = l
	}
	return lists, nil
}

func (s *Session) thaw() {
	for _, a := range s.plan.Axes {
		a.Thaw()
	}
}

func (s *Session) work(ctx context.Context, tok *scan.Token, step scan.Step, done chan struct{}) {
	final := Finished
	defer func() {
		if r := recover(); r != nil {
			s.plan.Logf("Experiment aborted: %v", r)
			tok.Abort(fmt.Errorf("panic: %v", r))
			final = Cancelled
		}
		s.thaw()
		s.finished.Store(true)
		s.state.Store(int32(final))
		s.plan.Logf("Experiment done (%s)", final)
		s.publish()
		if s.plan.Done != nil {
			s.plan.Done(final)
		}
		close(done)
	}()

	s.plan.Logf("Experiment %s started", s.name)
	if s.plan.ModeSwitch != nil && s.plan.Mode != "" {
		if err := s.plan.ModeSwitch.SetMode(ctx, s.plan.Mode); err != nil {
			s.plan.Logf("working mode %s: %v", s.plan.Mode, err)
			if scan.IsFatal(err) {
				tok.Abort(err)
			}
		}
	}
	f := scan.NewFrame(ctx, tok, s.plan.Logf)
	step(f)
	if tok.Cancelled() {
		final = Cancelled
		s.mu.Lock()
		if c := tok.Cause(); c != nil && !errors.Is(c, scan.ErrCancelled) {
			s.cause = c
		}
		s.mu.Unlock()
	}
}

// acquire is the leaf of every chain: read, reduce, and export at the end
// of each pass over the fastest axis
func (s *Session) acquire(f *scan.Frame) {
	s.mu.Lock()
	s.round, s.index = f.Round, f.Index()
	s.mu.Unlock()

	if s.plan.Exposure > 0 {
		select {
		case <-time.After(s.plan.Exposure):
		case <-f.Ctx.Done():
		}
	}
	sample, err := s.plan.Sensor.ReadSample(f.Ctx)
	if err != nil {
		f.Fail(err, "read at %v (%s) failed, sample skipped", f.Index(), f.Tag)
	} else {
		s.samples.Add(1)
		s.plan.Reducer.Reduce(f, sample)
	}
	if f.Tag == scan.Signal && f.FastestDone() {
		s.export(f)
	}
}

// Prefix returns the export prefix of a round.  Rounds are numbered from
// zero in file names, as in the message log.
func (s *Session) Prefix(round int) string {
	return filepath.Join(s.plan.OutputDir, fmt.Sprintf("%s-Round%d", s.plan.FileStem, round))
}

func (s *Session) export(f *scan.Frame) {
	st := s.Store()
	if st == nil {
		return
	}
	prefix := s.Prefix(f.Round)
	if err := st.Flush(prefix); err != nil {
		f.Logf("export %s: %v", prefix, err)
		return
	}
	if s.plan.FITS {
		if err := st.ExportFITS(prefix); err != nil {
			f.Logf("export %s.fits: %v", prefix, err)
		}
	}
}

// RequestCancel asks a running session to stop at its next check point.
// It does not block.
func (s *Session) RequestCancel() error {
	s.mu.Lock()
	if s.State() != Running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.terminate.Store(true)
	tok := s.token
	s.mu.Unlock()
	tok.Cancel()
	s.plan.Logf("Cancel requested")
	s.publish()
	return nil
}

// Wait blocks until the current run, if any, has ended
func (s *Session) Wait() State {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	<-done
	return s.State()
}

// Reset returns a Finished or Cancelled session to Idle
func (s *Session) Reset() error {
	for {
		cur := State(s.state.Load())
		if cur == Running {
			return ErrAlreadyRunning
		}
		if s.state.CompareAndSwap(int32(cur), int32(Idle)) {
			s.finished.Store(false)
			s.terminate.Store(false)
			s.publish()
			return nil
		}
	}
}
