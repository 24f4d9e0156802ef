/*Package bridge carries updates from a scan worker to whatever renders them.

The worker is the single producer: it Posts immutable Update values and
never blocks doing so; when the consumer falls behind, updates are dropped
and counted.  The single consumer ranges over Updates, typically a Hub that
fans them out over websockets.
*/
package bridge

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind of an update
type Kind string

const (
	// LogLine carries one message log line
	LogLine Kind = "log"

	// Preview replaces one channel of a session's live view
	Preview Kind = "preview"

	// FlagChange carries a session's new flags
	FlagChange Kind = "flags"
)

// Flags mirror a session's control state
type Flags struct {
	Running   bool `json:"running"`
	Terminate bool `json:"terminate"`
	Finished  bool `json:"finished"`
}

// Update is one immutable payload.  Slices are owned by the update and
// must not be retained by the producer after Post.
type Update struct {
	Kind    Kind      `json:"type"`
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`

	Line string `json:"line,omitempty"`

	Channel string    `json:"channel,omitempty"`
	Index   []int     `json:"index,omitempty"`
	X       []float64 `json:"x,omitempty"`
	Y       []float64 `json:"y,omitempty"`
	Shape   []int     `json:"shape,omitempty"`

	Flags *Flags `json:"flags,omitempty"`
}

// Bridge is a bounded single-producer single-consumer queue of updates
type Bridge struct {
	ch      chan Update
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New returns a bridge buffering up to capacity updates
func New(capacity int) *Bridge {
	if capacity < 1 {
		capacity = 1
	}
	return &Bridge{ch: make(chan Update, capacity)}
}

// Post enqueues u without blocking.  It returns false when the update was
// dropped.  A nil Bridge drops everything.
func (b *Bridge) Post(u Update) bool {
	if b == nil {
		return false
	}
	if u.Time.IsZero() {
		u.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- u:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Updates is the consumer side
func (b *Bridge) Updates() <-chan Update {
	return b.ch
}

// Dropped returns the number of updates dropped because the queue was full
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// Close ends the stream; further posts are dropped
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
