package hardware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// HTTPClient issues commands as GET http://host:port/<command>
type HTTPClient struct {
	// URL is the base, e.g. http://192.168.0.5:5000
	URL string

	// Retries is the number of attempts before a ConnectionError
	Retries int

	// Interval is the pause between attempts
	Interval time.Duration

	HTTP *http.Client
}

// NewHTTPClient returns a client with the default retry policy and a
// request timeout
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	return &HTTPClient{
		URL:      strings.TrimSuffix(url, "/"),
		Retries:  DefaultRetries,
		Interval: 100 * time.Millisecond,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// Addr returns the base URL
func (c *HTTPClient) Addr() string { return c.URL }

// Do sends a command and decodes the response
func (c *HTTPClient) Do(ctx context.Context, command string) (Response, error) {
	var resp Response
	url := c.URL + "/" + strings.TrimPrefix(command, "/")
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer r.Body.Close()
		if r.StatusCode >= 500 {
			io.Copy(io.Discard, r.Body)
			return fmt.Errorf("%s", r.Status)
		}
		resp = Response{}
		if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response to %q (%s): %w", command, r.Status, err))
		}
		return nil
	}
	if err := retry(ctx, c.URL, command, c.Retries, c.Interval, op); err != nil {
		return resp, err
	}
	return resp, resp.check(c.URL, command)
}
