/*Package labhttp is the control surface of scanctl: techniques are started,
cancelled and inspected, axes are edited and moved by hand, and the UI
subscribes to the update stream over a websocket.

Routes:

	GET  /endpoints
	GET  /messages
	GET  /techniques
	GET  /techniques/{name}
	POST /techniques/{name}/start
	POST /techniques/{name}/cancel
	POST /techniques/{name}/reset
	GET  /techniques/{name}/preview
	GET  /axes
	GET  /axis/{axis}
	GET  /axis/{axis}/list
	GET  /axis/{axis}/mode
	POST /axis/{axis}/mode      {"str": "Range"}
	POST /axis/{axis}/range     {"start": 0, "stop": 5, "step": 0.1}
	POST /axis/{axis}/external  text body, optional ?path=name
	GET  /axis/{axis}/zero
	POST /axis/{axis}/zero      {"f64": 12.5}
	POST /axis/{axis}/online
	GET  /axis/{axis}/pos
	POST /axis/{axis}/pos       {"f64": 1.5}, ?relative=true for a step
	GET  /axis/{axis}/limits
	GET  /lock
	POST /lock                  {"bool": true}
	GET  /ws

Axis edits and manual moves are refused with 423 while a scan runs.
*/
package labhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/ultrafast-lab/scanctl/axis"
	"github.com/ultrafast-lab/scanctl/bridge"
	"github.com/ultrafast-lab/scanctl/generichttp"
	"github.com/ultrafast-lab/scanctl/generichttp/motion"
	"github.com/ultrafast-lab/scanctl/hardware"
	"github.com/ultrafast-lab/scanctl/msglog"
	"github.com/ultrafast-lab/scanctl/reduce"
	"github.com/ultrafast-lab/scanctl/scan"
	"github.com/ultrafast-lab/scanctl/server/middleware/locker"
	"github.com/ultrafast-lab/scanctl/session"
	"github.com/ultrafast-lab/scanctl/util"
)

var (
	// ErrNoAxis is generated when a route names an unknown axis
	ErrNoAxis = errors.New("no such axis")

	// ErrNoTechnique is generated when a route names an unknown technique
	ErrNoTechnique = errors.New("no such technique")

	// ErrBadInput is generated when a request body cannot be used
	ErrBadInput = errors.New("bad input")
)

// Status maps an error to an HTTP status code
func Status(err error) int {
	var (
		ce *hardware.ConnectionError
		de *hardware.DeviceError
		se *hardware.SyncError
	)
	switch {
	case errors.Is(err, ErrNoAxis), errors.Is(err, ErrNoTechnique):
		return http.StatusNotFound
	case errors.Is(err, axis.ErrFrozen):
		return http.StatusLocked
	case errors.Is(err, session.ErrAlreadyRunning), errors.Is(err, session.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, ErrBadInput),
		errors.Is(err, axis.ErrOutOfLimits), errors.Is(err, axis.ErrEmptyRange),
		errors.Is(err, axis.ErrNoExternalList), errors.Is(err, util.ErrBadStep),
		errors.Is(err, reduce.ErrNeedsBackground), errors.Is(err, reduce.ErrNotEvenlySpaced):
		return http.StatusBadRequest
	case errors.As(err, &ce), errors.As(err, &de), errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var es = generichttp.ErrorStatus(Status)

// Server binds a lab, its axes and the update stream to HTTP
type Server struct {
	lab  *session.Lab
	axes map[string]*axis.Controller
	log  *msglog.Log
	hub  *bridge.Hub

	// ctx outlives requests; sessions started over HTTP run under it
	ctx context.Context

	// Moved is called after every manual move, e.g. to persist positions
	Moved func(*axis.Controller)

	rt     generichttp.RouteTable
	lock   *locker.Locker
	limits motion.LimitMiddleware
}

// New returns a server.  Sessions started through it run under ctx.
// hub and log may be nil.
func New(ctx context.Context, lab *session.Lab, axes map[string]*axis.Controller, log *msglog.Log, hub *bridge.Hub) *Server {
	s := &Server{lab: lab, axes: axes, log: log, hub: hub, ctx: ctx, rt: generichttp.RouteTable{}}
	s.lock = locker.New()
	s.lock.DoNotProtect = append(s.lock.DoNotProtect, "techniques")
	s.lock.Methods = []string{http.MethodPost}
	s.lock.Busy = lab.Busy

	s.limits = motion.LimitMiddleware{Limits: s.axisLimits, Mov: mover{s}}

	s.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/messages"}] = s.messages
	s.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/techniques"}] = s.techniques
	s.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/techniques/{name}"}] = s.status
	s.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/techniques/{name}/start"}] = s.start
	s.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/techniques/{name}/cancel"}] = s.cancel
	s.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/techniques/{name}/reset"}] = s.reset
	s.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/techniques/{name}/preview"}] = s.preview
	s.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axes"}] = s.listAxes
	s.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}"}] = s.getAxis
	s.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/list"}] = s.scanList
	s.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/mode"}] = s.getMode
	s.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/mode"}] = s.setMode
	s.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/range"}] = s.setRange
	s.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/external"}] = s.loadExternal
	s.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/zero"}] = s.getZero
	s.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/zero"}] = s.setZero
	s.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/online"}] = s.online
	motion.HTTPMove(mover{s}, s.rt, es)
	s.limits.Inject(s)
	locker.Inject(s, s.lock)
	return s
}

// RT satisfies generichttp.HTTPer
func (s *Server) RT() generichttp.RouteTable {
	return s.rt
}

// Router returns the root handler, with request logging
func (s *Server) Router() chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Group(func(r chi.Router) {
		r.Use(s.limits.Check)
		r.Use(s.lock.Check)
		s.rt.Bind(r)
	})
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.Reply(w, s.rt.Endpoints())
	})
	if s.hub != nil {
		root.Get("/ws", s.hub.ServeHTTP)
	}
	return root
}

func (s *Server) axis(r *http.Request) (*axis.Controller, error) {
	name := chi.URLParam(r, "axis")
	a, ok := s.axes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoAxis, name)
	}
	return a, nil
}

func (s *Server) session(r *http.Request) (*session.Session, error) {
	name := chi.URLParam(r, "name")
	ss, ok := s.lab.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoTechnique, name)
	}
	return ss, nil
}

func (s *Server) axisLimits(name string) (util.Limiter, bool) {
	a, ok := s.axes[name]
	if !ok {
		return util.Limiter{}, false
	}
	return a.Settings().Limits, true
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Server) messages(w http.ResponseWriter, r *http.Request) {
	lines := []string{}
	if s.log != nil {
		lines = s.log.Lines()
	}
	generichttp.Reply(w, lines)
}

func (s *Server) techniques(w http.ResponseWriter, r *http.Request) {
	generichttp.Reply(w, s.lab.Names())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ss, err := s.session(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	generichttp.Reply(w, ss.Status())
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	ss, err := s.session(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	if err := ss.Start(s.ctx); err != nil {
		s.logf("%s not started: %v", ss.Name(), err)
		es.Fail(w, err)
		return
	}
	generichttp.Reply(w, ss.Status())
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	ss, err := s.session(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	if err := ss.RequestCancel(); err != nil {
		es.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	ss, err := s.session(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	if err := ss.Reset(); err != nil {
		es.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// preview replies with the latest preview of every channel of a technique
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	ss, err := s.session(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	out := []bridge.Update{}
	if s.hub != nil {
		out = s.hub.Latest(ss.Name())
	}
	generichttp.Reply(w, out)
}

// AxisView is the JSON form of an axis
type AxisView struct {
	Name         string       `json:"name"`
	Unit         string       `json:"unit"`
	Mode         string       `json:"mode"`
	Start        float64      `json:"start"`
	Stop         float64      `json:"stop"`
	Step         float64      `json:"step"`
	ExternalPath string       `json:"externalPath,omitempty"`
	ZeroPoint    float64      `json:"zeroPoint"`
	Limits       util.Limiter `json:"limits"`
	Points       int          `json:"points"`
	Position     *float64     `json:"position,omitempty"`
	Frozen       bool         `json:"frozen"`
}

func view(a *axis.Controller) AxisView {
	st := a.Settings()
	v := AxisView{
		Name:         st.Name,
		Unit:         string(st.Unit),
		Mode:         st.Mode.String(),
		Start:        st.Start,
		Stop:         st.Stop,
		Step:         st.Step,
		ExternalPath: st.ExternalPath,
		ZeroPoint:    st.ZeroPoint,
		Limits:       st.Limits,
		Points:       len(a.List()),
		Frozen:       a.Frozen(),
	}
	if pos, ok := a.Position(); ok {
		v.Position = &pos
	}
	return v
}

func (s *Server) listAxes(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.axes))
	for k := range s.axes {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]AxisView, 0, len(names))
	for _, n := range names {
		out = append(out, view(s.axes[n]))
	}
	generichttp.Reply(w, out)
}

func (s *Server) getAxis(w http.ResponseWriter, r *http.Request) {
	a, err := s.axis(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	generichttp.Reply(w, view(a))
}

// scanList replies with the positions a scan would visit; a manual axis
// visits no position and replies with an empty list
func (s *Server) scanList(w http.ResponseWriter, r *http.Request) {
	a, err := s.axis(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	out := []float64{}
	for _, v := range a.List() {
		if !scan.IsStay(v) {
			out = append(out, v)
		}
	}
	generichttp.Reply(w, out)
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	a, err := s.axis(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	generichttp.GetString(func() (string, error) { return a.Settings().Mode.String(), nil }, es)(w, r)
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	a, err := s.axis(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	generichttp.SetString(func(str string) error {
		m, err := axis.ParseMode(str)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadInput, err)
		}
		return a.SetMode(m)
	}, es)(w, r)
}

type rangeT struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
}

func (s *Server) setRange(w http.ResponseWriter, r *http.Request) {
	a, err := s.axis(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	rng := rangeT{}
	err = json.NewDecoder(r.Body).Decode(&rng)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.SetRange(rng.Start, rng.Stop, rng.Step); err != nil {
		es.Fail(w, err)
		return
	}
	generichttp.Reply(w, view(a))
}

func (s *Server) loadExternal(w http.ResponseWriter, r *http.Request) {
	a, err := s.axis(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	defer r.Body.Close()
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "upload"
	}
	if err := a.LoadExternalFile(r.Body, path); err != nil {
		if errors.Is(err, axis.ErrFrozen) {
			es.Fail(w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	generichttp.Reply(w, view(a))
}

func (s *Server) getZero(w http.ResponseWriter, r *http.Request) {
	a, err := s.axis(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	generichttp.GetFloat(func() (float64, error) { return a.Settings().ZeroPoint, nil }, es)(w, r)
}

func (s *Server) setZero(w http.ResponseWriter, r *http.Request) {
	a, err := s.axis(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	generichttp.SetFloat(a.SetZeroPoint, es)(w, r)
}

func (s *Server) online(w http.ResponseWriter, r *http.Request) {
	a, err := s.axis(r)
	if err != nil {
		es.Fail(w, err)
		return
	}
	if err := a.Online(r.Context()); err != nil {
		s.logf("%v", err)
		es.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// mover adapts the axes of a server to motion.Mover
type mover struct {
	*Server
}

func (m mover) get(name string) (*axis.Controller, error) {
	a, ok := m.axes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoAxis, name)
	}
	return a, nil
}

func (m mover) GetPos(name string) (float64, error) {
	a, err := m.get(name)
	if err != nil {
		return 0, err
	}
	pos, _ := a.Position()
	return pos, nil
}

func (m mover) MoveAbs(ctx context.Context, name string, pos float64) error {
	a, err := m.get(name)
	if err != nil {
		return err
	}
	if err := a.MoveManual(ctx, pos); err != nil {
		m.logf("%v", err)
		return err
	}
	m.moved(a)
	return nil
}

func (m mover) MoveRel(ctx context.Context, name string, delta float64) error {
	a, err := m.get(name)
	if err != nil {
		return err
	}
	if err := a.StepManual(ctx, delta); err != nil {
		m.logf("%v", err)
		return err
	}
	m.moved(a)
	return nil
}

func (m mover) moved(a *axis.Controller) {
	if m.Moved != nil {
		m.Moved(a)
	}
}
