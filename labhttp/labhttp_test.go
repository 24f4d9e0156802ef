package labhttp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ultrafast-lab/scanctl/axis"
	"github.com/ultrafast-lab/scanctl/bridge"
	"github.com/ultrafast-lab/scanctl/generichttp"
	"github.com/ultrafast-lab/scanctl/labhttp"
	"github.com/ultrafast-lab/scanctl/msglog"
	"github.com/ultrafast-lab/scanctl/reduce"
	"github.com/ultrafast-lab/scanctl/session"
	"github.com/ultrafast-lab/scanctl/util"
)

// gate blocks every read until released and signals entered when a read
// begins
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func (g gate) ReadSample(ctx context.Context) ([]float64, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return []float64{1}, nil
}

type fixture struct {
	srv   *httptest.Server
	gate  gate
	delay *axis.Controller
	sess  *session.Session

	mu    sync.Mutex
	moves []string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupHub(t, nil)
}

func setupHub(t *testing.T, hub *bridge.Hub) *fixture {
	t.Helper()
	delay, err := axis.New(axis.Settings{
		Name: "delay", Mode: axis.Range, Start: 0, Stop: 4, Step: 1,
		Limits: util.Limiter{Min: -5, Max: 5},
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	fx := &fixture{gate: gate{entered: make(chan struct{}, 1), release: make(chan struct{})}, delay: delay}
	log := msglog.New(20, nil)
	fx.sess = session.New("avg", session.Plan{
		Axes:      []*axis.Controller{delay},
		Sensor:    fx.gate,
		Reducer:   reduce.NewAveraging("avg", nil),
		OutputDir: t.TempDir(),
		Logf:      log.Session("avg"),
	})
	lab := session.NewLab()
	lab.Add(fx.sess)

	ctx, cancel := context.WithCancel(context.Background())
	s := labhttp.New(ctx, lab, map[string]*axis.Controller{"delay": delay}, log, hub)
	s.Moved = func(a *axis.Controller) {
		fx.mu.Lock()
		defer fx.mu.Unlock()
		fx.moves = append(fx.moves, a.Name())
	}
	fx.srv = httptest.NewServer(s.Router())
	t.Cleanup(func() {
		close(fx.gate.release)
		fx.sess.Wait()
		cancel()
		fx.srv.Close()
	})
	return fx
}

func (fx *fixture) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, fx.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestListTechniquesAndAxes(t *testing.T) {
	fx := setup(t)
	code, body := fx.do(t, http.MethodGet, "/techniques", "")
	if code != http.StatusOK || strings.TrimSpace(body) != `["avg"]` {
		t.Errorf("techniques: %d %s", code, body)
	}
	code, body = fx.do(t, http.MethodGet, "/axis/delay/list", "")
	if code != http.StatusOK || strings.TrimSpace(body) != `[0,1,2,3]` {
		t.Errorf("list: %d %s", code, body)
	}
	code, body = fx.do(t, http.MethodGet, "/axes", "")
	var views []labhttp.AxisView
	if err := json.Unmarshal([]byte(body), &views); err != nil || code != http.StatusOK {
		t.Fatalf("axes: %d %s %v", code, body, err)
	}
	if views[0].Name != "delay" || views[0].Points != 4 || views[0].Mode != "Range" {
		t.Errorf("unexpected axis view %+v", views[0])
	}
	if code, _ := fx.do(t, http.MethodGet, "/axis/angle", ""); code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown axis, got %d", code)
	}
	if code, _ := fx.do(t, http.MethodGet, "/techniques/raman", ""); code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown technique, got %d", code)
	}
}

func TestAxisEdits(t *testing.T) {
	fx := setup(t)
	code, body := fx.do(t, http.MethodPost, "/axis/delay/range", `{"start": 1, "stop": 2, "step": 0.25}`)
	if code != http.StatusOK {
		t.Fatalf("range: %d %s", code, body)
	}
	if diff := cmp.Diff([]float64{1, 1.25, 1.5, 1.75}, fx.delay.List()); diff != "" {
		t.Errorf("list after range edit (-want +got):\n%s", diff)
	}
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/range", `{"start": 1, "stop": 2, "step": 0}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a zero step, got %d", code)
	}
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/mode", `{"str": "sideways"}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown mode, got %d", code)
	}
	if code, body := fx.do(t, http.MethodPost, "/axis/delay/external?path=delays.txt", "0 0.1\n0.3"); code != http.StatusOK {
		t.Fatalf("external: %d %s", code, body)
	}
	if st := fx.delay.Settings(); st.Mode != axis.ExternalFile || st.ExternalPath != "delays.txt" {
		t.Errorf("external list not installed: %+v", st)
	}
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/mode", `{"str": "Manual"}`); code != http.StatusOK {
		t.Errorf("mode: %d", code)
	}
	if _, body := fx.do(t, http.MethodGet, "/axis/delay/list", ""); strings.TrimSpace(body) != `[]` {
		t.Errorf("a manual axis lists no positions, got %s", body)
	}
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/zero", `{"f64": 12.5}`); code != http.StatusOK {
		t.Errorf("zero: %d", code)
	}
	if zp := fx.delay.Settings().ZeroPoint; zp != 12.5 {
		t.Errorf("expected zero point 12.5, got %v", zp)
	}
}

func TestManualMoves(t *testing.T) {
	fx := setup(t)
	if code, body := fx.do(t, http.MethodPost, "/axis/delay/pos", `{"f64": 2}`); code != http.StatusOK {
		t.Fatalf("move: %d %s", code, body)
	}
	if code, body := fx.do(t, http.MethodPost, "/axis/delay/pos?relative=true", `{"f64": -0.5}`); code != http.StatusOK {
		t.Fatalf("step: %d %s", code, body)
	}
	_, body := fx.do(t, http.MethodGet, "/axis/delay/pos", "")
	f := generichttp.FloatT{}
	if err := json.Unmarshal([]byte(body), &f); err != nil || f.F64 != 1.5 {
		t.Errorf("expected position 1.5, got %s (%v)", body, err)
	}
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/pos", `{"f64": 6}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 past the limit, got %d", code)
	}
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/pos?relative=true", `{"f64": 4}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a step past the limit, got %d", code)
	}
	_, body = fx.do(t, http.MethodGet, "/axis/delay/limits", "")
	if strings.TrimSpace(body) != `{"Min":-5,"Max":5}` {
		t.Errorf("limits: %s", body)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if diff := cmp.Diff([]string{"delay", "delay"}, fx.moves); diff != "" {
		t.Errorf("moved callbacks (-want +got):\n%s", diff)
	}
}

func TestRunLifecycle(t *testing.T) {
	fx := setup(t)
	code, body := fx.do(t, http.MethodPost, "/techniques/avg/start", "")
	if code != http.StatusOK {
		t.Fatalf("start: %d %s", code, body)
	}
	<-fx.gate.entered
	if code, _ := fx.do(t, http.MethodPost, "/techniques/avg/start", ""); code != http.StatusConflict {
		t.Errorf("expected 409 for a second start, got %d", code)
	}
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/range", `{"start": 0, "stop": 1, "step": 0.5}`); code != http.StatusLocked {
		t.Errorf("expected 423 for an edit while running, got %d", code)
	}
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/pos", `{"f64": 1}`); code != http.StatusLocked {
		t.Errorf("expected 423 for a manual move while running, got %d", code)
	}
	_, body = fx.do(t, http.MethodGet, "/lock", "")
	if strings.TrimSpace(body) != `{"bool":true}` {
		t.Errorf("expected the lock to report a running scan, got %s", body)
	}
	if code, _ := fx.do(t, http.MethodPost, "/techniques/avg/cancel", ""); code != http.StatusOK {
		t.Errorf("cancel: %d", code)
	}
	fx.gate.release <- struct{}{}
	if st := fx.sess.Wait(); st != session.Cancelled {
		t.Errorf("expected Cancelled, got %v", st)
	}
	_, body = fx.do(t, http.MethodGet, "/techniques/avg", "")
	st := session.Status{}
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatal(err)
	}
	if st.State != "Cancelled" || st.Samples != 1 || !st.Flags.Finished {
		t.Errorf("unexpected status %+v", st)
	}
	if code, _ := fx.do(t, http.MethodPost, "/techniques/avg/cancel", ""); code != http.StatusConflict {
		t.Errorf("expected 409 cancelling an idle technique, got %d", code)
	}
	if code, _ := fx.do(t, http.MethodPost, "/techniques/avg/reset", ""); code != http.StatusOK {
		t.Errorf("reset: %d", code)
	}
	_, body = fx.do(t, http.MethodGet, "/messages", "")
	if !strings.Contains(body, "Cancel requested") {
		t.Errorf("expected the message log to record the cancel, got %s", body)
	}
}

func TestManualLock(t *testing.T) {
	fx := setup(t)
	if code, _ := fx.do(t, http.MethodPost, "/lock", `{"bool": true}`); code != http.StatusOK {
		t.Fatalf("lock: %d", code)
	}
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/pos", `{"f64": 1}`); code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", code)
	}
	if code, _ := fx.do(t, http.MethodGet, "/axis/delay/pos", ""); code != http.StatusOK {
		t.Errorf("reads stay available while locked, got %d", code)
	}
	fx.do(t, http.MethodPost, "/lock", `{"bool": false}`)
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/pos", `{"f64": 1}`); code != http.StatusOK {
		t.Errorf("expected the move after unlocking, got %d", code)
	}
}

func TestEndpoints(t *testing.T) {
	fx := setup(t)
	_, body := fx.do(t, http.MethodGet, "/endpoints", "")
	var eps []string
	if err := json.Unmarshal([]byte(body), &eps); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"POST /techniques/{name}/start", "GET /axis/{axis}/limits", "POST /lock"} {
		found := false
		for _, e := range eps {
			if e == want {
				found = true
			}
		}
		if !found {
			t.Errorf("%s missing from %v", want, eps)
		}
	}
}

func TestAxisGetters(t *testing.T) {
	fx := setup(t)
	_, body := fx.do(t, http.MethodGet, "/axis/delay/mode", "")
	if strings.TrimSpace(body) != `{"str":"Range"}` {
		t.Errorf("mode: %s", body)
	}
	fx.do(t, http.MethodPost, "/axis/delay/zero", `{"f64": -3.25}`)
	_, body = fx.do(t, http.MethodGet, "/axis/delay/zero", "")
	if strings.TrimSpace(body) != `{"f64":-3.25}` {
		t.Errorf("zero: %s", body)
	}
}

func TestLimitsFollowAxisEdits(t *testing.T) {
	fx := setup(t)
	if code, _ := fx.do(t, http.MethodPost, "/axis/delay/pos", `{"f64": 8}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 past the limit, got %d", code)
	}
	st := fx.delay.Settings()
	st.Limits = util.Limiter{Min: -10, Max: 10}
	if err := fx.delay.Update(st); err != nil {
		t.Fatal(err)
	}
	if code, body := fx.do(t, http.MethodPost, "/axis/delay/pos", `{"f64": 8}`); code != http.StatusOK {
		t.Errorf("expected the widened limits to allow the move, got %d %s", code, body)
	}
	_, body := fx.do(t, http.MethodGet, "/axis/delay/limits", "")
	if strings.TrimSpace(body) != `{"Min":-10,"Max":10}` {
		t.Errorf("limits: %s", body)
	}
}

func TestPreview(t *testing.T) {
	b := bridge.New(8)
	hub := bridge.NewHub(0, 1)
	b.Post(bridge.Update{Kind: bridge.Preview, Session: "avg", Channel: "Signal", Y: []float64{1, 2}})
	b.Post(bridge.Update{Kind: bridge.Preview, Session: "avg", Channel: "Delta", Y: []float64{3}})
	b.Post(bridge.Update{Kind: bridge.Preview, Session: "other", Channel: "Signal", Y: []float64{4}})
	b.Close()
	if err := hub.Run(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	fx := setupHub(t, hub)
	code, body := fx.do(t, http.MethodGet, "/techniques/avg/preview", "")
	if code != http.StatusOK {
		t.Fatalf("preview: %d %s", code, body)
	}
	var got []bridge.Update
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	var channels []string
	for _, u := range got {
		channels = append(channels, u.Channel)
	}
	if diff := cmp.Diff([]string{"Delta", "Signal"}, channels); diff != "" {
		t.Errorf("preview channels (-want +got):\n%s", diff)
	}
	if code, _ := fx.do(t, http.MethodGet, "/techniques/raman/preview", ""); code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown technique, got %d", code)
	}
	if _, body := setup(t).do(t, http.MethodGet, "/techniques/avg/preview", ""); strings.TrimSpace(body) != `[]` {
		t.Errorf("without a hub the preview is empty, got %s", body)
	}
}
