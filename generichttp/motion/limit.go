package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/ultrafast-lab/scanctl/generichttp"
	"github.com/ultrafast-lab/scanctl/util"
)

var (
	errClamped = errors.New("requested position violates software limits, aborted")
)

// LimitFunc returns the current limits of an axis and false if the axis
// has none
type LimitFunc func(axis string) (util.Limiter, bool)

// LimitMiddleware imposes axis-specific limits on motion.  Requests that
// would violate a limit are refused before they reach the mover.
type LimitMiddleware struct {
	// Limits looks up the limits of an axis on every request
	Limits LimitFunc

	// Mov is a reference to the mover, used to query axis positions
	Mov Mover
}

// Check verifies if a motion would violate the axis limit, if it exists,
// and if it does, responds with StatusBadRequest;
// otherwise, flows control to the next handler
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/pos") || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		axis, relative, err := popAxisFromPath(r)
		limiter, ok := l.Limits(axis)
		if !ok || !limiter.Set() {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// downstream handlers want the body too
		bodyContent, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewBuffer(bodyContent))
		f := generichttp.FloatT{}
		if err = json.Unmarshal(bodyContent, &f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd := f.F64
		if relative {
			currPos, err := l.Mov.GetPos(axis)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			cmd += currPos
		}
		if !limiter.Check(cmd) {
			http.Error(w, errClamped.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// popAxisFromPath is popAxisRelative for middleware, which runs before
// chi has matched the route parameters
func popAxisFromPath(r *http.Request) (string, bool, error) {
	parts := strings.Split(strings.TrimSuffix(r.URL.Path, "/pos"), "/")
	axis := parts[len(parts)-1]
	_, rel, err := popAxisRelative(r)
	return axis, rel, err
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer
func (l LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = Limits(l)
}

// Limits returns an HTTP handler func that returns the limits for an axis
func Limits(l LimitMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		lim, ok := l.Limits(axis)
		if !ok {
			generichttp.Reply(w, nil)
			return
		}
		generichttp.Reply(w, lim)
	}
}
