/*Package sim emulates the remote motion, shutter, and boxcar servers.

One Emulator answers every command in the hardware protocol, over HTTP
(Handler) and over CRC framed lines (ServeLines).  It is used by tests and by
the labsim command to exercise a scan without the bench.
*/
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"github.com/ultrafast-lab/scanctl/comm"
	"github.com/ultrafast-lab/scanctl/hardware"
	"github.com/ultrafast-lab/scanctl/util"
)

// Waveform returns the sample read at a stage position with the pump
// shutter open or closed
type Waveform func(pos float64, open bool) []float64

// Cosine returns a waveform of width points whose signal branch oscillates
// at freq cycles per position unit on top of a unit background
func Cosine(freq float64, width int) Waveform {
	if width < 1 {
		width = 1
	}
	return func(pos float64, open bool) []float64 {
		v := 1.0
		if open {
			v += 0.5 * (1 + math.Cos(2*math.Pi*freq*pos))
		}
		out := make([]float64, width)
		for i := range out {
			out[i] = v
		}
		return out
	}
}

// Emulator is a fake server.  The zero value is not usable; see New.
type Emulator struct {
	mu       sync.Mutex
	pos      float64
	shutters map[int]bool
	mode     string
	failNext int
	desync   bool
	commands []string

	// Limits rejects moves outside of it when set
	Limits util.Limiter

	// Wave generates samples
	Wave Waveform

	// Latency is slept before every answer
	Latency time.Duration
}

// New returns an emulator with a 1-point cosine waveform
func New() *Emulator {
	return &Emulator{shutters: map[int]bool{}, Wave: Cosine(0.25, 1)}
}

// FailNext makes the next n requests fail at the transport level
func (e *Emulator) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = n
}

// Desync makes the next answer report loss of synchronization
func (e *Emulator) Desync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.desync = true
}

// Position returns the last commanded raw position
func (e *Emulator) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// Mode returns the working mode last set
func (e *Emulator) Mode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Commands returns every command received, including failed ones
func (e *Emulator) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

var errInjected = errors.New("injected transport failure")

// admit records cmd and reports whether to answer it
func (e *Emulator) admit(cmd string) error {
	if e.Latency > 0 {
		time.Sleep(e.Latency)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, cmd)
	if e.failNext > 0 {
		e.failNext--
		return errInjected
	}
	return nil
}

func (e *Emulator) finish(r hardware.Response) hardware.Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.desync {
		e.desync = false
		r.Desync = true
		r.Success = false
		r.Message = "controller lost synchronization"
	}
	return r
}

func ok(msg string, result interface{}) hardware.Response {
	r := hardware.Response{Success: true, Message: msg}
	if result != nil {
		r.Result, _ = json.Marshal(result)
	}
	return r
}

func fail(msg string) hardware.Response {
	return hardware.Response{Success: false, Message: msg}
}

func (e *Emulator) online() hardware.Response {
	return ok("Server online", nil)
}

func (e *Emulator) move(arg string) hardware.Response {
	p, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return fail(fmt.Sprintf("bad position %q", arg))
	}
	if !e.Limits.Check(p) {
		return fail(fmt.Sprintf("position %g outside of travel range", p))
	}
	e.mu.Lock()
	e.pos = p
	e.mu.Unlock()
	return ok(fmt.Sprintf("moved to %.6f", p), p)
}

func (e *Emulator) read() hardware.Response {
	e.mu.Lock()
	pos, open := e.pos, e.shutters[0]
	e.mu.Unlock()
	return ok("boxcar data", hardware.EncodeSamples(e.Wave(pos, open)))
}

func (e *Emulator) shutter(arg string, open bool) hardware.Response {
	ch, err := strconv.Atoi(arg)
	if err != nil {
		return fail(fmt.Sprintf("bad channel %q", arg))
	}
	e.mu.Lock()
	e.shutters[ch] = open
	e.mu.Unlock()
	return ok(fmt.Sprintf("shutter %d open=%v", ch, open), nil)
}

func (e *Emulator) setMode(m string) hardware.Response {
	e.mu.Lock()
	e.mode = m
	e.mu.Unlock()
	return ok("working mode "+m, nil)
}

// Exec answers one command
func (e *Emulator) Exec(cmd string) hardware.Response {
	verb, arg := cmd, ""
	if i := strings.IndexByte(cmd, '/'); i >= 0 {
		verb, arg = cmd[:i], cmd[i+1:]
	}
	var r hardware.Response
	switch verb {
	case "":
		r = e.online()
	case "moveabs":
		r = e.move(arg)
	case hardware.DefaultReadCommand:
		r = e.read()
	case "on", "off":
		r = e.shutter(arg, verb == "on")
	case "setWorkingMode":
		r = e.setMode(arg)
	default:
		r = fail(fmt.Sprintf("unknown command %q", cmd))
	}
	return e.finish(r)
}

// Handler returns the HTTP interface of the emulator
func (e *Emulator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if err := e.admit(strings.TrimPrefix(req.URL.Path, "/")); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	reply := func(fcn func(*http.Request) hardware.Response) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(e.finish(fcn(req))); err != nil {
				log.Println(err)
			}
		}
	}
	r.Get("/", reply(func(*http.Request) hardware.Response { return e.online() }))
	r.Get("/moveabs/{pos}", reply(func(req *http.Request) hardware.Response { return e.move(chi.URLParam(req, "pos")) }))
	r.Get("/"+hardware.DefaultReadCommand, reply(func(*http.Request) hardware.Response { return e.read() }))
	r.Get("/on/{ch}", reply(func(req *http.Request) hardware.Response { return e.shutter(chi.URLParam(req, "ch"), true) }))
	r.Get("/off/{ch}", reply(func(req *http.Request) hardware.Response { return e.shutter(chi.URLParam(req, "ch"), false) }))
	r.Get("/setWorkingMode/{mode}", reply(func(req *http.Request) hardware.Response { return e.setMode(chi.URLParam(req, "mode")) }))
	r.NotFound(reply(func(req *http.Request) hardware.Response {
		return fail(fmt.Sprintf("unknown command %q", strings.TrimPrefix(req.URL.Path, "/")))
	}))
	return r
}

// ServeLines answers framed commands on every connection accepted from ln
// until ln is closed.  An injected failure drops the connection.
func (e *Emulator) ServeLines(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go e.serveConn(conn)
	}
}

func (e *Emulator) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		line, err := comm.ReadLine(conn)
		if err != nil {
			return
		}
		cmd, err := comm.Unframe(line)
		if err != nil {
			log.Printf("sim: %v", err)
			return
		}
		if err := e.admit(string(cmd)); err != nil {
			return
		}
		b, err := json.Marshal(e.Exec(string(cmd)))
		if err != nil {
			log.Println(err)
			return
		}
		if err := comm.WriteLine(conn, comm.Frame(b)); err != nil {
			return
		}
	}
}
