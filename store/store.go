/*Package store holds the result buffers of a scan and exports them.

Every channel is a row-major float64 array whose shape is the scan list
lengths of the axes, outer to inner, optionally followed by the native
width of a sample.  Shapes are fixed when the store is allocated at the
start of a session.
*/
package store

import (
	"errors"
	"fmt"
	"sync"
)

// Kind describes how a channel evolves during a session
type Kind int

const (
	// Instant channels are overwritten by every sample
	Instant Kind = iota

	// Sum channels accumulate across rounds
	Sum

	// Derived channels are computed from other channels
	Derived
)

var (
	// ErrShape is generated when an index does not fit a channel
	ErrShape = errors.New("index does not match channel shape")

	// ErrNoChannel is generated when a channel name is unknown
	ErrNoChannel = errors.New("no such channel")
)

// Channel is one named buffer
type Channel struct {
	Name    string
	Kind    Kind
	Persist bool
	Shape   []int
	Data    []float64
}

func (c *Channel) strides() []int {
	s := make([]int, len(c.Shape))
	acc := 1
	for i := len(c.Shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= c.Shape[i]
	}
	return s
}

// offset returns the flat offset of idx, which may name a whole trailing
// block by being shorter than the shape, and the length of that block
func (c *Channel) offset(idx []int) (int, int, error) {
	if len(idx) > len(c.Shape) {
		return 0, 0, fmt.Errorf("%w: %s has %d dims, index %v", ErrShape, c.Name, len(c.Shape), idx)
	}
	st := c.strides()
	off := 0
	for i, v := range idx {
		if v < 0 || v >= c.Shape[i] {
			return 0, 0, fmt.Errorf("%w: %s index %v, shape %v", ErrShape, c.Name, idx, c.Shape)
		}
		off += v * st[i]
	}
	n := 1
	for _, d := range c.Shape[len(idx):] {
		n *= d
	}
	return off, n, nil
}

// Store is a set of channels.  It is safe for concurrent use: the session
// worker writes while status requests read.
type Store struct {
	mu       sync.RWMutex
	channels []*Channel
	byName   map[string]*Channel
}

// New returns an empty store
func New() *Store {
	return &Store{byName: map[string]*Channel{}}
}

// Add allocates a zeroed channel.  A channel of the same name is replaced.
func (s *Store) Add(name string, kind Kind, persist bool, shape ...int) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	c := &Channel{Name: name, Kind: kind, Persist: persist, Shape: append([]int(nil), shape...), Data: make([]float64, n)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byName[name]; ok {
		for i, ch := range s.channels {
			if ch == old {
				s.channels[i] = c
			}
		}
	} else {
		s.channels = append(s.channels, c)
	}
	s.byName[name] = c
}

// Names returns channel names in the order they were added
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.channels))
	for i, c := range s.channels {
		out[i] = c.Name
	}
	return out
}

// Shape returns the shape of a channel
func (s *Store) Shape(name string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoChannel, name)
	}
	return append([]int(nil), c.Shape...), nil
}

// Set writes vals into the block at idx.  len(vals) must equal the size of
// the block.
func (s *Store) Set(name string, idx []int, vals ...float64) error {
	return s.apply(name, idx, vals, func(dst []float64) {
		copy(dst, vals)
	})
}

// Accumulate adds vals into the block at idx
func (s *Store) Accumulate(name string, idx []int, vals ...float64) error {
	return s.apply(name, idx, vals, func(dst []float64) {
		for i, v := range vals {
			dst[i] += v
		}
	})
}

func (s *Store) apply(name string, idx []int, vals []float64, fn func([]float64)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChannel, name)
	}
	off, n, err := c.offset(idx)
	if err != nil {
		return err
	}
	if len(vals) != n {
		return fmt.Errorf("%w: %s block at %v holds %d values, got %d", ErrShape, name, idx, n, len(vals))
	}
	fn(c.Data[off : off+n])
	return nil
}

// Get returns a copy of the block at idx; a nil idx returns the whole channel
func (s *Store) Get(name string, idx []int) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoChannel, name)
	}
	off, n, err := c.offset(idx)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), c.Data[off:off+n]...), nil
}

// snapshot copies the persisted channels under the read lock
func (s *Store) snapshot() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, len(s.channels))
	for _, c := range s.channels {
		if !c.Persist {
			continue
		}
		cp := *c
		cp.Shape = append([]int(nil), c.Shape...)
		cp.Data = append([]float64(nil), c.Data...)
		out = append(out, cp)
	}
	return out
}
