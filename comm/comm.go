/*Package comm provides line-oriented transport to remote acquisition servers
over TCP or a serial port.

Each command is a single line of text.  On the wire it is framed as

	<command>*<CRC-16/XMODEM as four hex digits>\r

and the server answers with a line framed the same way.  Open retries with
an exponential backoff, since the embedded servers on the bench do not like
being connection thrashed.
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/snksoft/crc"
	"github.com/tarm/serial"
)

var (
	terminator = byte('\r')
	separator  = byte('*')

	crcTable = crc.NewTable(crc.XMODEM)

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrNoChecksum is generated when a frame has no checksum separator
	ErrNoChecksum = errors.New("frame does not contain a checksum")

	// ErrBadChecksum is generated when the checksum of a frame does not match its body
	ErrBadChecksum = errors.New("frame checksum mismatch")
)

// Checksum computes the CRC-16/XMODEM of b
func Checksum(b []byte) uint16 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, b)
	return crcTable.CRC16(c)
}

// Frame appends the checksum to body.  The terminator is not included.
func Frame(body []byte) []byte {
	out := make([]byte, 0, len(body)+5)
	out = append(out, body...)
	out = append(out, separator)
	out = append(out, fmt.Sprintf("%04X", Checksum(body))...)
	return out
}

// Unframe verifies the checksum of a frame and returns its body
func Unframe(frame []byte) ([]byte, error) {
	idx := bytes.LastIndexByte(frame, separator)
	if idx == -1 {
		return nil, ErrNoChecksum
	}
	body, sum := frame[:idx], strings.TrimSpace(string(frame[idx+1:]))
	want, err := strconv.ParseUint(sum, 16, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadChecksum, sum)
	}
	if uint16(want) != Checksum(body) {
		return nil, ErrBadChecksum
	}
	return body, nil
}

// WriteLine writes b followed by the terminator
func WriteLine(w io.Writer, b []byte) error {
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, terminator)
	_, err := w.Write(buf)
	return err
}

// ReadLine reads up to and strips the terminator
func ReadLine(r io.Reader) ([]byte, error) {
	buf, err := bufio.NewReader(r).ReadBytes(terminator)
	if err != nil {
		if len(buf) > 0 && errors.Is(err, io.EOF) {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return buf[:len(buf)-1], nil
}

/*RemoteDevice has an address and can be opened over TCP or a serial port.

When IsSerial is true, Addr is the name of the port (e.g. /dev/ttyUSB0 or COM3)
and Baud must be set.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Baud     int
	Timeout  time.Duration
	Conn     io.ReadWriteCloser
}

// NewRemoteDevice creates a new RemoteDevice instance
func NewRemoteDevice(addr string, serial bool, baud int) RemoteDevice {
	return RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		Baud:     baud,
		Timeout:  3 * time.Second}
}

// SerialConf yields a pointer to a serial config object for use with serial.OpenPort
func (rd *RemoteDevice) SerialConf() *serial.Config {
	return &serial.Config{Name: rd.Addr, Baud: rd.Baud, ReadTimeout: rd.Timeout}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// refused connections are permanent; anything else is retried until
	// the backoff gives up
	op := func() error {
		err := rd.open()
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "refused") {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return fmt.Errorf("open %s: %w", rd.Addr, err)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		if rd.Baud == 0 {
			return backoff.Permanent(fmt.Errorf("serial port %s has no baud rate", rd.Addr))
		}
		conn, err = serial.OpenPort(rd.SerialConf())
	} else {
		conn, err = TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
	}
	return err
}

// SendRecv frames b, sends it, and returns the unframed response
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	return Exchange(rd.Conn, b)
}

// Exchange writes one framed line to rw and reads one framed line back
func Exchange(rw io.ReadWriter, b []byte) ([]byte, error) {
	if err := WriteLine(rw, Frame(b)); err != nil {
		return nil, err
	}
	resp, err := ReadLine(rw)
	if err != nil {
		return nil, err
	}
	return Unframe(resp)
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
