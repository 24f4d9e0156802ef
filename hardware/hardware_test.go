package hardware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ultrafast-lab/scanctl/hardware"
	"github.com/ultrafast-lab/scanctl/hardware/sim"
	"github.com/ultrafast-lab/scanctl/scan"
)

func newHTTP(t *testing.T) (*sim.Emulator, *hardware.HTTPClient) {
	emu := sim.New()
	srv := httptest.NewServer(emu.Handler())
	t.Cleanup(srv.Close)
	c := hardware.NewHTTPClient(srv.URL, time.Second)
	c.Interval = time.Millisecond
	return emu, c
}

func TestDecodeSamples(t *testing.T) {
	want := []float64{1.5, -2, 3e-9}
	cases := map[string]json.RawMessage{
		"base64": json.RawMessage(`"` + hardware.EncodeSamples(want) + `"`),
		"array":  json.RawMessage(`[1.5, -2, 3e-9]`),
	}
	for name, raw := range cases {
		got, err := hardware.DecodeSamples(raw)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s (-want +got):\n%s", name, diff)
		}
	}
	got, err := hardware.DecodeSamples(json.RawMessage(`0.25`))
	if err != nil || len(got) != 1 || got[0] != 0.25 {
		t.Errorf("scalar result decoded to %v %v", got, err)
	}
	if _, err := hardware.DecodeSamples(nil); !errors.Is(err, hardware.ErrBadResult) {
		t.Errorf("expected ErrBadResult for empty result, got %v", err)
	}
}

func TestHTTPDeviceCommands(t *testing.T) {
	emu, c := newHTTP(t)
	dev := hardware.NewDevice("stage", c)
	ctx := context.Background()
	if _, err := dev.Online(ctx); err != nil {
		t.Fatal(err)
	}
	resp, err := dev.MoveAbs(ctx, 12.5)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || emu.Position() != 12.5 {
		t.Errorf("move not applied: %+v position %v", resp, emu.Position())
	}
	if err := dev.SetMode(ctx, "Boxcar"); err != nil || emu.Mode() != "Boxcar" {
		t.Errorf("mode switch failed: %v %q", err, emu.Mode())
	}
	if err := dev.Shutter(0).SetShutter(ctx, true); err != nil {
		t.Fatal(err)
	}
	s, err := dev.ReadSample(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 1 {
		t.Errorf("expected a 1 point sample, got %v", s)
	}
	want := []string{"", "moveabs/12.500000", "setWorkingMode/Boxcar", "on/0", "getBoxcarData"}
	if diff := cmp.Diff(want, emu.Commands()); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestHTTPRetryRecovers(t *testing.T) {
	emu, c := newHTTP(t)
	emu.FailNext(2)
	if _, err := c.Do(context.Background(), ""); err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if n := len(emu.Commands()); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestHTTPRetryExhausted(t *testing.T) {
	emu, c := newHTTP(t)
	emu.FailNext(10)
	_, err := c.Do(context.Background(), "moveabs/1")
	var ce *hardware.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if ce.Attempts != hardware.DefaultRetries || len(emu.Commands()) != hardware.DefaultRetries {
		t.Errorf("expected %d attempts, error says %d, server saw %d", hardware.DefaultRetries, ce.Attempts, len(emu.Commands()))
	}
}

func TestUnreachableIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	c := hardware.NewHTTPClient(addr, 200*time.Millisecond)
	c.Interval = time.Millisecond
	_, err = c.Do(context.Background(), "")
	var ce *hardware.ConnectionError
	if !errors.As(err, &ce) {
		t.Errorf("expected ConnectionError, got %v", err)
	}
}

func TestDeviceAndSyncErrors(t *testing.T) {
	emu, c := newHTTP(t)
	emu.Limits.Min, emu.Limits.Max = 0, 10
	_, err := hardware.NewDevice("stage", c).MoveAbs(context.Background(), 20)
	var de *hardware.DeviceError
	if !errors.As(err, &de) {
		t.Errorf("expected DeviceError for out of range move, got %v", err)
	}
	emu.Desync()
	_, err = c.Do(context.Background(), "")
	var se *hardware.SyncError
	if !errors.As(err, &se) {
		t.Fatalf("expected SyncError, got %v", err)
	}
	if !scan.IsFatal(err) {
		t.Error("SyncError should be fatal to a scan")
	}
	if scan.IsFatal(de) {
		t.Error("DeviceError should not be fatal to a scan")
	}
}

func TestLineClient(t *testing.T) {
	emu := sim.New()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go emu.ServeLines(ln)

	c := hardware.NewLineClient(ln.Addr().String(), 0, time.Second)
	c.Interval = time.Millisecond
	defer c.Close()
	dev := hardware.NewDevice("boxcar", c)
	if _, err := dev.MoveAbs(context.Background(), -3); err != nil {
		t.Fatal(err)
	}
	emu.FailNext(1)
	s, err := dev.ReadSample(context.Background())
	if err != nil {
		t.Fatalf("expected read to survive one dropped connection, got %v", err)
	}
	if len(s) != 1 || emu.Position() != -3 {
		t.Errorf("unexpected sample %v at %v", s, emu.Position())
	}
}

func TestResponseString(t *testing.T) {
	var r hardware.Response
	if err := json.Unmarshal([]byte(`{"success":false,"message":"stuck","axis":"x"}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.Extra["axis"] != "x" {
		t.Errorf("expected extra field to be kept, got %v", r.Extra)
	}
	s := r.String()
	if want := "[Error] stuck, axis:x"; len(s) < len(want) || s[len(s)-len(want):] != want {
		t.Errorf("unexpected format %q", s)
	}
}
