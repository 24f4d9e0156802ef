package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool holds up to maxSize connections to a device.  Idle connections are
// closed once every connection has been returned and the timeout elapses,
// and re-opened as needed.  It is concurrent safe.  Pools must be created
// with NewPool.
type Pool struct {
	maxSize int
	onLease int
	timeout time.Duration
	idle    []io.ReadWriteCloser
	timer   *time.Timer
	maker   CreationFunc

	mu   sync.Mutex
	cond *sync.Cond
}

// NewPool creates a new pool
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		maker:   maker,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Get retrieves a connection, blocking until one is available if all are
// in use.  When done with it, return it with Put, or discard it with
// Destroy if it has gone bad.
//
// If the error from Get is not nil, the connection must not be returned.
func (p *Pool) Get() (io.ReadWriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	for len(p.idle) == 0 && p.onLease == p.maxSize {
		p.cond.Wait()
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.onLease++
		return c, nil
	}
	c, err := p.maker()
	if err != nil {
		return nil, err
	}
	p.onLease++
	return c, nil
}

// Put restores a connection to the pool
func (p *Pool) Put(c io.ReadWriteCloser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = append(p.idle, c)
	p.onLease--
	if p.onLease == 0 && p.timeout > 0 {
		p.timer = time.AfterFunc(p.timeout, p.reclaim)
	}
	p.cond.Signal()
}

// Destroy immediately closes a connection taken from the pool
func (p *Pool) Destroy(c io.ReadWriteCloser) {
	c.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	p.cond.Signal()
}

// Close closes every idle connection
func (p *Pool) Close() error {
	p.reclaim()
	return nil
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.onLease
}

// Active returns the number of connections currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

func (p *Pool) reclaim() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, c := range idle {
		c.Close()
	}
}
