package hardware

import (
	"context"
	"fmt"
	"strings"
)

// DefaultReadCommand reads one sample from a boxcar or lock-in server
const DefaultReadCommand = "getBoxcarData"

// Device adds the instrument capabilities on top of a Client:
// online check, absolute moves, sample reads, shutters and working modes
type Device struct {
	Name        string
	ReadCommand string
	Client      Client
}

// NewDevice wraps a client
func NewDevice(name string, c Client) *Device {
	return &Device{Name: name, ReadCommand: DefaultReadCommand, Client: c}
}

// Online checks the server is up
func (d *Device) Online(ctx context.Context) (Response, error) {
	return d.Client.Do(ctx, "")
}

// MoveAbs moves to an absolute position in raw device units
func (d *Device) MoveAbs(ctx context.Context, raw float64) (Response, error) {
	return d.Client.Do(ctx, fmt.Sprintf("moveabs/%.6f", raw))
}

// ReadSample triggers and reads one sample
func (d *Device) ReadSample(ctx context.Context) ([]float64, error) {
	cmd := d.ReadCommand
	if cmd == "" {
		cmd = DefaultReadCommand
	}
	resp, err := d.Client.Do(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s, err := DecodeSamples(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", d.Name, cmd, err)
	}
	return s, nil
}

// SetMode switches the server's working mode, e.g. "Boxcar"
func (d *Device) SetMode(ctx context.Context, mode string) error {
	_, err := d.Client.Do(ctx, "setWorkingMode/"+strings.TrimSpace(mode))
	return err
}

// Shutter returns one channel of a shutter controller
func (d *Device) Shutter(channel int) *Shutter {
	return &Shutter{Dev: d, Channel: channel}
}

// Shutter is one channel of a shutter controller
type Shutter struct {
	Dev     *Device
	Channel int
}

// SetShutter opens (on) or closes (off) the channel
func (s *Shutter) SetShutter(ctx context.Context, open bool) error {
	verb := "off"
	if open {
		verb = "on"
	}
	_, err := s.Dev.Client.Do(ctx, fmt.Sprintf("%s/%d", verb, s.Channel))
	return err
}
