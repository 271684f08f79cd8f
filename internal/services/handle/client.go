// Package handle mints and modifies persistent identifiers through the Handle
// System REST API. In dry-run mode no request leaves the process.
package handle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seisarchive/internal/services"
)

// Registry is the identifier registry used by the PID stages.
type Registry interface {
	Mint(ctx context.Context, handle, location string) (string, error)
	Modify(ctx context.Context, handle, location string) error
}

// Client implements Registry against a Handle server.
type Client struct {
	endpoint   string
	username   string
	password   string
	dryRun     bool
	httpClient *http.Client
}

var _ Registry = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCredentials sets the basic auth credentials, e.g. "300:11099/USER01".
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithDryRun skips registry calls and echoes the requested handle.
func WithDryRun(dryRun bool) Option {
	return func(c *Client) {
		c.dryRun = dryRun
	}
}

// New creates a handle client.
func New(endpoint string, timeout time.Duration, opts ...Option) (*Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.endpoint == "" && !client.dryRun {
		return nil, errors.New("handle endpoint required")
	}
	return client, nil
}

// DryRun reports whether the client skips registry calls.
func (c *Client) DryRun() bool { return c.dryRun }

type handleValue struct {
	Index int        `json:"index"`
	Type  string     `json:"type"`
	Data  handleData `json:"data"`
}

type handleData struct {
	Format string `json:"format"`
	Value  string `json:"value"`
}

type handleRequest struct {
	Values []handleValue `json:"values"`
}

type handleResponse struct {
	ResponseCode int    `json:"responseCode"`
	Handle       string `json:"handle"`
	Message      string `json:"message"`
}

// Mint registers handle resolving to location and returns the registered
// handle.
func (c *Client) Mint(ctx context.Context, handle, location string) (string, error) {
	if c.dryRun {
		return handle, nil
	}
	resp, err := c.put(ctx, handle, location, url.Values{"overwrite": {"false"}})
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "handle", "mint", handle, err)
	}
	if resp.Handle != "" {
		return resp.Handle, nil
	}
	return handle, nil
}

// Modify points handle at location.
func (c *Client) Modify(ctx context.Context, handle, location string) error {
	if c.dryRun {
		return nil
	}
	if _, err := c.put(ctx, handle, location, url.Values{"index": {"1"}, "overwrite": {"true"}}); err != nil {
		return services.Wrap(services.ErrExternalService, "handle", "modify", handle, err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, handle, location string, params url.Values) (*handleResponse, error) {
	body, err := json.Marshal(handleRequest{Values: []handleValue{{
		Index: 1,
		Type:  "URL",
		Data:  handleData{Format: "string", Value: location},
	}}})
	if err != nil {
		return nil, fmt.Errorf("encode handle values: %w", err)
	}
	endpoint := c.endpoint + "/api/handles/" + handle
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(url.QueryEscape(c.username), url.QueryEscape(c.password))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("handle server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var payload handleResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode handle response: %w", err)
		}
	}
	if payload.ResponseCode != 0 && payload.ResponseCode != 1 {
		return nil, fmt.Errorf("handle server response code %d: %s", payload.ResponseCode, payload.Message)
	}
	return &payload, nil
}
