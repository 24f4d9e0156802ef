package session

import (
	"fmt"
	"sort"
	"sync"
)

// Lab holds the sessions of every configured technique
type Lab struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewLab returns an empty lab
func NewLab() *Lab {
	return &Lab{sessions: map[string]*Session{}}
}

// Add registers a session under its name
func (l *Lab) Add(s *Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[s.Name()]; ok {
		return fmt.Errorf("technique %q registered twice", s.Name())
	}
	l.sessions[s.Name()] = s
	return nil
}

// Get returns the session of a technique
func (l *Lab) Get(name string) (*Session, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sessions[name]
	return s, ok
}

// Names returns the technique names, sorted
func (l *Lab) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.sessions))
	for k := range l.sessions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Busy returns true if any session is running
func (l *Lab) Busy() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.sessions {
		if s.State() == Running {
			return true
		}
	}
	return false
}

// CancelAll requests every running session to stop and waits for them
func (l *Lab) CancelAll() {
	l.mu.RLock()
	ss := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		ss = append(ss, s)
	}
	l.mu.RUnlock()
	for _, s := range ss {
		s.RequestCancel()
		s.Wait()
	}
}
