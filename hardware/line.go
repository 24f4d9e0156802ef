package hardware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ultrafast-lab/scanctl/comm"
)

// LineClient issues commands as CRC framed lines over TCP or a serial port.
// Connections are pooled and closed after sitting idle.
type LineClient struct {
	addr     string
	timeout  time.Duration
	pool     *comm.Pool
	Retries  int
	Interval time.Duration
}

// NewLineClient returns a client for a TCP address (host:port), or a serial
// port when baud is nonzero
func NewLineClient(addr string, baud int, timeout time.Duration) *LineClient {
	maker := func() (io.ReadWriteCloser, error) {
		rd := comm.NewRemoteDevice(addr, baud != 0, baud)
		rd.Timeout = timeout
		if err := rd.Open(); err != nil {
			return nil, err
		}
		return rd.Conn, nil
	}
	return &LineClient{
		addr:     addr,
		timeout:  timeout,
		pool:     comm.NewPool(1, 30*time.Second, maker),
		Retries:  DefaultRetries,
		Interval: 100 * time.Millisecond,
	}
}

// Addr returns the address of the remote
func (c *LineClient) Addr() string { return c.addr }

// Close releases idle connections
func (c *LineClient) Close() error { return c.pool.Close() }

// Do sends a command and decodes the response
func (c *LineClient) Do(ctx context.Context, command string) (Response, error) {
	var resp Response
	op := func() error {
		conn, err := c.pool.Get()
		if err != nil {
			return err
		}
		if nc, ok := conn.(net.Conn); ok {
			nc.SetDeadline(time.Now().Add(c.timeout))
		}
		body, err := comm.Exchange(conn, []byte(command))
		if err != nil {
			c.pool.Destroy(conn)
			return err
		}
		c.pool.Put(conn)
		resp = Response{}
		if err := json.Unmarshal(body, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response to %q: %w", command, err))
		}
		return nil
	}
	if err := retry(ctx, c.addr, command, c.Retries, c.Interval, op); err != nil {
		return resp, err
	}
	return resp, resp.check(c.addr, command)
}
