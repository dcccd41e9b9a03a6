// Package client talks to a running sandchat server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tejjnayak/sandchat/internal/server"
	"github.com/tidwall/gjson"
)

// DummyHost is used to satisfy the http.Client's requirement for a URL.
const DummyHost = "api.sandchat.localhost"

// Client is an HTTP client for a sandchat server.
type Client struct {
	h       *http.Client
	network string
	addr    string
	base    string
	apiKey  string
}

// Option configures a [Client].
type Option func(*Client)

// WithAPIKey sends key in the X-API-Key header of every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// NewClient creates a [Client] for the server at host. host is either an
// http URL ("http://127.0.0.1:8000") or a socket URL
// ("unix:///tmp/sandchat.sock").
func NewClient(host string, opts ...Option) (*Client, error) {
	c := new(Client)
	switch {
	case strings.HasPrefix(host, "http://"), strings.HasPrefix(host, "https://"):
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid server url: %w", err)
		}
		c.network = "tcp"
		c.addr = u.Host
		c.base = strings.TrimSuffix(u.String(), "/")
	default:
		u, err := server.ParseHostURL(host)
		if err != nil {
			return nil, err
		}
		c.network = u.Scheme
		c.addr = u.Host + u.Path
		c.base = "http://" + c.addr
		if c.network != "tcp" {
			c.base = "http://" + DummyHost
		}
	}
	for _, opt := range opts {
		opt(c)
	}

	p := &http.Protocols{}
	p.SetHTTP1(true)
	p.SetUnencryptedHTTP2(true)
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Protocols = p
	tr.DialContext = c.dialer
	if c.network == "npipe" || c.network == "unix" {
		// We don't need compression for local connections.
		tr.DisableCompression = true
	}
	c.h = &http.Client{
		Transport: tr,
		Timeout:   0, // we need this to be 0 for long-lived connections and SSE streams
	}
	return c, nil
}

// BaseURL returns the URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.base
}

func (c *Client) dialer(ctx context.Context, network, address string) (net.Conn, error) {
	d := net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	// It's important to use the client's addr for npipe/unix and not the
	// address param because the address param is always the dummy host for
	// HTTP clients and npipe/unix don't have a concept of ports.
	switch c.network {
	case "npipe":
		return dialPipeContext(ctx, c.addr)
	case "unix":
		return d.DialContext(ctx, "unix", c.addr)
	default:
		return d.DialContext(ctx, network, address)
	}
}

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func responseError(rsp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(rsp.Body, 64<<10))
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "detail").String()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &Error{StatusCode: rsp.StatusCode, Message: msg}
}

// do sends the request and decodes a JSON response into out, unless out is
// nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	rsp, err := c.send(ctx, method, path, query, r, http.Header{"Content-Type": []string{"application/json"}})
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		return responseError(rsp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(rsp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, headers http.Header) (*http.Response, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if body == nil {
		req.Header.Del("Content-Type")
	}
	return c.h.Do(req)
}
