// Package generichttp binds typed getter and setter functions to HTTP
// handlers and collects them in route tables that mount on a chi router
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sort"

	"github.com/go-chi/chi"
)

// FloatT is a struct with a single float64 field, {"f64": value}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// StrT is a struct with a single string field, {"str": value}
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, {"bool": value}
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a union of the primitive payloads; T selects the field
// that is sent
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	String string
	Bool   bool
}

// EncodeAndRespond writes the selected field as JSON
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Float64:
		v = FloatT{hp.Float}
	case types.String:
		v = StrT{hp.String}
	case types.Bool:
		v = BoolT{hp.Bool}
	default:
		http.Error(w, "unsupported payload type", http.StatusInternalServerError)
		return
	}
	Reply(w, v)
}

// Reply encodes v as the JSON body of a 200 response
func Reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// MethodPath is a route: an HTTP method and a chi pattern
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps routes to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints returns "METHOD /path" for every route, sorted
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for k := range rt {
		out = append(out, k.Method+" "+k.Path)
	}
	sort.Strings(out)
	return out
}

// Bind registers every route on r
func (rt RouteTable) Bind(r chi.Router) {
	for k, v := range rt {
		r.Method(k.Method, k.Path, v)
	}
}

// HTTPer is anything with a route table
type HTTPer interface {
	RT() RouteTable
}

// ErrorStatus maps an error to a status code with a classifier, falling
// back to 500
type ErrorStatus func(error) int

// Fail writes err with the status chosen by es
func (es ErrorStatus) Fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if es != nil {
		if c := es(err); c != 0 {
			code = c
		}
	}
	http.Error(w, err.Error(), code)
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error), es ErrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			es.Fail(w, err)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// SetFloat parses a JSON input of {'f64': value} and calls fcn with it
func SetFloat(fcn func(float64) error, es ErrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = fcn(f.F64); err != nil {
			es.Fail(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error), es ErrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			es.Fail(w, err)
			return
		}
		hp := HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// SetString parses a JSON input of {'str': value} and calls fcn with it
func SetString(fcn func(string) error, es ErrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = fcn(s.Str); err != nil {
			es.Fail(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error), es ErrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			es.Fail(w, err)
			return
		}
		hp := HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and calls fcn with it
func SetBool(fcn func(bool) error, es ErrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = fcn(b.Bool); err != nil {
			es.Fail(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
