/*Package hardware is the narrow boundary to the remote acquisition and
motion servers.

Every server speaks the same request/response protocol: a path-encoded
command such as "moveabs/12.500000" or "getBoxcarData", answered with a JSON
document

	{"success": true, "message": "...", "result": ..., "desync": false}

The protocol is carried either over HTTP (HTTPClient) or as CRC framed lines
over TCP or a serial port (LineClient).  Both retry a bounded number of
times and then return a *ConnectionError.  A server reporting desync yields
a *SyncError, which is fatal to a running scan.
*/
package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Response is the document every server answers with
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result,omitempty"`
	Desync  bool            `json:"desync,omitempty"`

	// Extra holds any other fields the server included
	Extra map[string]interface{} `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra
func (r *Response) UnmarshalJSON(b []byte) error {
	type plain Response
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]interface{}
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range []string{"success", "message", "result", "desync"} {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}
	*r = Response(p)
	return nil
}

// String formats the response for the message log, e.g.
// [15:04:05][OK] moved, position:12.5
func (r Response) String() string {
	status := "OK"
	if !r.Success {
		status = "Error"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s][%s] %s", time.Now().Format("15:04:05"), status, r.Message)
	for k, v := range r.Extra {
		fmt.Fprintf(&b, ", %s:%v", k, v)
	}
	return b.String()
}

// check converts a decoded response into an error if it reports one
func (r Response) check(addr, cmd string) error {
	if r.Desync {
		return &SyncError{Addr: addr, Command: cmd, Message: r.Message}
	}
	if !r.Success {
		return &DeviceError{Addr: addr, Command: cmd, Message: r.Message}
	}
	return nil
}

// Client sends one command and returns the server's response
type Client interface {
	Do(ctx context.Context, command string) (Response, error)
	Addr() string
}

// ConnectionError is returned when a server cannot be reached after the
// bounded number of attempts
type ConnectionError struct {
	Addr     string
	Command  string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed after %d attempts (command %q): %v", e.Addr, e.Attempts, e.Command, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SyncError is returned when a server reports it has lost synchronization
// with the controller
type SyncError struct {
	Addr    string
	Command string
	Message string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s desynchronized on %q: %s", e.Addr, e.Command, e.Message)
}

// Fatal marks a SyncError as fatal to a running scan
func (e *SyncError) Fatal() bool { return true }

// DeviceError is returned when the server answered but reported failure
type DeviceError struct {
	Addr    string
	Command string
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s rejected %q: %s", e.Addr, e.Command, e.Message)
}

// ErrBadResult is generated when a result cannot be decoded into samples
var ErrBadResult = errors.New("result is not a sample array")
