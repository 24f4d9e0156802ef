// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/ultrafast-lab/scanctl/generichttp"
)

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a type which behaves like a sync.Mutex without the blocking.
// It is locked by hand, or implicitly while Busy returns true.
type Locker struct {
	isLocked atomic.Bool

	// Busy, when set, locks the protected routes while it returns true,
	// e.g. while a scan is running
	Busy func() bool

	// DoNotProtect is a list of path fragments not to apply the lock to
	DoNotProtect []string

	// Methods are the HTTP methods that are protected, all when empty
	Methods []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.isLocked.Store(true)
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.isLocked.Store(false)
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return l.isLocked.Load() || (l.Busy != nil && l.Busy())
}

func (l *Locker) protects(r *http.Request) bool {
	if len(l.Methods) > 0 {
		found := false
		for _, m := range l.Methods {
			if m == r.Method {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	for _, str := range l.DoNotProtect {
		if strings.Contains(r.URL.Path, str) {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.protects(r) && l.Locked() {
			http.Error(w, "locked while a scan is running", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Locker) set(locked bool) error {
	if locked {
		l.Lock()
	} else {
		l.Unlock()
	}
	return nil
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	generichttp.SetBool(l.set, nil)(w, r)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	generichttp.GetBool(func() (bool, error) { return l.Locked(), nil }, nil)(w, r)
}
