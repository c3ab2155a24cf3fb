package top

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"

	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/playback/driver"
)

const apiPrefix = "/api/v1/playback"

// Client talks to the playback control API.
type Client struct {
	base string
	http *http.Client
}

// ClientOptions selects the transport. HTTP3 requires an https base URL.
type ClientOptions struct {
	HTTP3    bool
	Insecure bool
	Timeout  time.Duration
}

func NewClient(baseURL string, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	hc := &http.Client{Timeout: opts.Timeout}
	tlsConfig := &tls.Config{InsecureSkipVerify: opts.Insecure} //nolint:gosec // local review setups use self-signed certs
	if opts.HTTP3 {
		hc.Transport = &http3.RoundTripper{TLSClientConfig: tlsConfig}
	} else if opts.Insecure {
		hc.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// Close releases idle connections, including QUIC sessions.
func (c *Client) Close() error {
	if rt, ok := c.http.Transport.(*http3.RoundTripper); ok {
		return rt.Close()
	}
	c.http.CloseIdleConnections()
	return nil
}

// Snapshot fetches the full playback snapshot.
func (c *Client) Snapshot(ctx context.Context) (driver.Snapshot, error) {
	var snap driver.Snapshot
	err := c.do(ctx, http.MethodGet, "", nil, &snap)
	return snap, err
}

func (c *Client) Play(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/play", map[string]string{"reason": "cadence-top"}, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", map[string]string{"reason": "cadence-top"}, nil)
}

func (c *Client) SetFrame(ctx context.Context, frame int) error {
	return c.do(ctx, http.MethodPut, "/frame", map[string]int{"frame": frame}, nil)
}

func (c *Client) SetInc(ctx context.Context, inc int) error {
	return c.do(ctx, http.MethodPut, "/inc", map[string]int{"inc": inc}, nil)
}

func (c *Client) SetPlayMode(ctx context.Context, mode string) error {
	return c.do(ctx, http.MethodPut, "/play-mode", map[string]string{"mode": mode}, nil)
}

func (c *Client) SetCacheMode(ctx context.Context, mode string) error {
	return c.do(ctx, http.MethodPut, "/cache-mode", map[string]string{"mode": mode}, nil)
}

func (c *Client) SetRealtime(ctx context.Context, realtime bool) error {
	return c.do(ctx, http.MethodPut, "/realtime", map[string]bool{"realtime": realtime}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apperrors.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error.Message)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
