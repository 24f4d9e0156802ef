package hardware

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// DefaultRetries is the number of attempts made before giving up
const DefaultRetries = 3

// retry calls op up to attempts times, waiting interval between tries.
// op marks errors that should not be retried with backoff.Permanent.
// Exhausting the attempts yields a *ConnectionError.
func retry(ctx context.Context, addr, cmd string, attempts int, interval time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = DefaultRetries
	}
	var (
		tries int
		last  error
		perm  bool
	)
	wrapped := func() error {
		tries++
		err := op()
		if err == nil {
			return nil
		}
		if p, ok := err.(*backoff.PermanentError); ok {
			perm = true
			last = p.Err
			return err
		}
		last = err
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1)), ctx)
	if err := backoff.Retry(wrapped, b); err != nil {
		if perm {
			return last
		}
		return &ConnectionError{Addr: addr, Command: cmd, Attempts: tries, Err: last}
	}
	return nil
}
