package scan

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCancelled is the cause of a Token cancelled without one
var ErrCancelled = errors.New("scan cancelled")

// Token is a cooperative cancellation flag shared down a combinator chain.
// The zero value is ready to use and not cancelled.
type Token struct {
	cancelled atomic.Bool

	mu    sync.Mutex
	cause error
}

// Cancel requests that the traversal stop at its next check point
func (t *Token) Cancel() {
	t.Abort(ErrCancelled)
}

// Abort cancels the token and records err as the cause.  Only the first
// cause is kept.
func (t *Token) Abort(err error) {
	if err == nil {
		err = ErrCancelled
	}
	t.mu.Lock()
	if t.cause == nil {
		t.cause = err
	}
	t.mu.Unlock()
	t.cancelled.Store(true)
}

// Cancelled returns true once Cancel or Abort has been called
func (t *Token) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Cause returns the reason for cancellation, or nil
func (t *Token) Cause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}

// Fatal is implemented by errors that should stop the whole traversal
// rather than skip the current point
type Fatal interface {
	Fatal() bool
}

// IsFatal returns true if any error in err's chain reports itself Fatal
func IsFatal(err error) bool {
	var f Fatal
	return errors.As(err, &f) && f.Fatal()
}
